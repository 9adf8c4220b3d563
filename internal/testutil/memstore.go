package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/xxxsen/mshop/internal/model"
	appErr "github.com/xxxsen/mshop/internal/pkg/errors"
)

// MemStore is an in-memory UserStore, TokenStore and TxRunner. Transactions are
// serialized and restore a snapshot on error.
type MemStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	users  map[string]model.User
	tokens []model.Token

	FailReplace error
}

type memTxKey struct{}

func NewMemStore() *MemStore {
	return &MemStore{users: map[string]model.User{}}
}

func (m *MemStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	users := make(map[string]model.User, len(m.users))
	for k, v := range m.users {
		users[k] = v
	}
	tokens := append([]model.Token(nil), m.tokens...)
	m.mu.Unlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		m.mu.Lock()
		m.users, m.tokens = users, tokens
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *MemStore) Create(ctx context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, user.Email) {
			return appErr.ErrConflict
		}
	}
	m.users[user.ID] = *user
	return nil
}

func (m *MemStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := u
			return &cp, nil
		}
	}
	return nil, appErr.ErrNotFound
}

func (m *MemStore) GetByID(ctx context.Context, userID string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	return &u, nil
}

func (m *MemStore) UpdatePassword(ctx context.Context, userID, passwordHash string, mtime int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return appErr.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.Mtime = mtime
	m.users[userID] = u
	return nil
}

func (m *MemStore) MarkEmailVerified(ctx context.Context, userID string, verifiedAt int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || u.EmailVerified {
		return false, nil
	}
	u.EmailVerified = true
	u.EmailVerifiedAt = &verifiedAt
	u.Mtime = verifiedAt
	m.users[userID] = u
	return true, nil
}

func (m *MemStore) Replace(ctx context.Context, token *model.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailReplace != nil {
		return m.FailReplace
	}
	for i := range m.tokens {
		t := &m.tokens[i]
		if t.Kind == token.Kind && t.UserID == token.UserID && !t.Used {
			t.Used = true
		}
	}
	m.tokens = append(m.tokens, *token)
	return nil
}

func (m *MemStore) GetUnused(ctx context.Context, kind model.TokenKind, tokenHash string) (*model.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.Kind == kind && t.TokenHash == tokenHash && !t.Used {
			cp := t
			return &cp, nil
		}
	}
	return nil, appErr.ErrNotFound
}

func (m *MemStore) Claim(ctx context.Context, kind model.TokenKind, tokenHash string, usedAt int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tokens {
		t := &m.tokens[i]
		if t.Kind == kind && t.TokenHash == tokenHash && !t.Used {
			t.Used = true
			if kind == model.TokenKindReset {
				at := usedAt
				t.UsedAt = &at
			}
			return true, nil
		}
	}
	return false, nil
}

func (m *MemStore) DeleteExpired(ctx context.Context, kind model.TokenKind, before int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.tokens[:0]
	var n int64
	for _, t := range m.tokens {
		if t.Kind == kind && t.ExpiresAt < before {
			n++
			continue
		}
		kept = append(kept, t)
	}
	m.tokens = kept
	return n, nil
}

// Tokens returns a copy of every stored token.
func (m *MemStore) Tokens() []model.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Token(nil), m.tokens...)
}

func (m *MemStore) UnusedCount(kind model.TokenKind, userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tokens {
		if t.Kind == kind && t.UserID == userID && !t.Used {
			n++
		}
	}
	return n
}

type SentMessage struct {
	Kind   model.TokenKind
	UserID string
	Token  string
}

// Notifier records deliveries instead of sending them.
type Notifier struct {
	mu   sync.Mutex
	Fail bool
	sent []SentMessage
}

func (n *Notifier) SendVerification(ctx context.Context, user *model.User, token string) bool {
	return n.record(model.TokenKindVerification, user, token)
}

func (n *Notifier) SendPasswordReset(ctx context.Context, user *model.User, token string) bool {
	return n.record(model.TokenKindReset, user, token)
}

func (n *Notifier) record(kind model.TokenKind, user *model.User, token string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Fail {
		return false
	}
	n.sent = append(n.sent, SentMessage{Kind: kind, UserID: user.ID, Token: token})
	return true
}

// Last returns the most recent token sent for kind.
func (n *Notifier) Last(kind model.TokenKind) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].Kind == kind {
			return n.sent[i].Token
		}
	}
	return ""
}

func (n *Notifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(t time.Time) *Clock {
	return &Clock{t: t}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}
