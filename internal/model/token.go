package model

type TokenKind string

const (
	TokenKindVerification TokenKind = "verification"
	TokenKindReset        TokenKind = "reset"
)

// Token is a stored single-use token. TokenHash is the fingerprint of the
// plaintext handed to the user; the plaintext itself is never persisted.
type Token struct {
	ID        string
	Kind      TokenKind
	UserID    string
	TokenHash string
	ExpiresAt int64
	Used      bool
	UsedAt    *int64
	Ctime     int64
}
