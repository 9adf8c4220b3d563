package notify

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"text/template"
	"time"

	"github.com/yuin/goldmark"

	"github.com/xxxsen/mshop/internal/model"
)

const (
	KindVerification  = "verification"
	KindPasswordReset = "password_reset"
)

// Message is a rendered notification ready for a Sender.
type Message struct {
	Kind    string `json:"kind"`
	To      string `json:"to"`
	UserID  string `json:"user_id"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
	Link    string `json:"link"`
}

var (
	verificationTmpl = template.Must(template.New("verification").Parse(`Hi {{.Name}},

Thanks for signing up. Confirm your email address by opening the link below:

[Verify email]({{.Link}})

The link expires in {{.Expiry}}. If you did not create an account, ignore this message.
`))
	resetTmpl = template.Must(template.New("reset").Parse(`Hi {{.Name}},

We received a request to reset your password. Open the link below to choose a new one:

[Reset password]({{.Link}})

The link expires in {{.Expiry}} and can only be used once. If you did not ask for a reset, ignore this message; your password stays unchanged.
`))
)

// Composer renders notification bodies. Link targets are frontend routes.
type Composer struct {
	frontendURL     string
	verificationTTL time.Duration
	resetTTL        time.Duration
	md              goldmark.Markdown
}

// NewComposer takes the token lifetimes so the message states the real expiry.
func NewComposer(frontendURL string, verificationTTL, resetTTL time.Duration) *Composer {
	if verificationTTL <= 0 {
		verificationTTL = 24 * time.Hour
	}
	if resetTTL <= 0 {
		resetTTL = 30 * time.Minute
	}
	return &Composer{
		frontendURL:     strings.TrimRight(frontendURL, "/"),
		verificationTTL: verificationTTL,
		resetTTL:        resetTTL,
		md:              goldmark.New(),
	}
}

func (c *Composer) Verification(user *model.User, token string) (*Message, error) {
	link := c.link("/verify-email", token)
	return c.compose(KindVerification, "Verify your email address", verificationTmpl, user, link, c.verificationTTL)
}

func (c *Composer) PasswordReset(user *model.User, token string) (*Message, error) {
	link := c.link("/reset-password", token)
	return c.compose(KindPasswordReset, "Reset your password", resetTmpl, user, link, c.resetTTL)
}

func (c *Composer) link(path, token string) string {
	return c.frontendURL + path + "?token=" + url.QueryEscape(token)
}

func (c *Composer) compose(kind, subject string, tmpl *template.Template, user *model.User,
	link string, ttl time.Duration) (*Message, error) {
	name := strings.Join(strings.Fields(user.FirstName), " ")
	if name == "" {
		name = "there"
	}
	expiry := formatExpiry(ttl)
	var text bytes.Buffer
	if err := tmpl.Execute(&text, map[string]string{"Name": name, "Link": link, "Expiry": expiry}); err != nil {
		return nil, fmt.Errorf("render %s text: %w", kind, err)
	}
	// The html pass gets an escaped name so user input stays literal text.
	var source bytes.Buffer
	if err := tmpl.Execute(&source, map[string]string{"Name": escapeMarkdown(name), "Link": link, "Expiry": expiry}); err != nil {
		return nil, fmt.Errorf("render %s markdown: %w", kind, err)
	}
	var html bytes.Buffer
	if err := c.md.Convert(source.Bytes(), &html); err != nil {
		return nil, fmt.Errorf("render %s html: %w", kind, err)
	}
	return &Message{
		Kind:    kind,
		To:      user.Email,
		UserID:  user.ID,
		Subject: subject,
		Text:    text.String(),
		HTML:    html.String(),
		Link:    link,
	}, nil
}

const markdownSpecials = "\\`*_{}[]()#+-.!<>|~&:"

func escapeMarkdown(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(markdownSpecials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func formatExpiry(ttl time.Duration) string {
	switch {
	case ttl >= time.Hour && ttl%time.Hour == 0:
		return plural(int64(ttl/time.Hour), "hour")
	case ttl >= time.Minute:
		return plural(int64(ttl/time.Minute), "minute")
	default:
		return plural(int64(ttl/time.Second), "second")
	}
}

func plural(n int64, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
