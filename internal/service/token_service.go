package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xxxsen/mshop/internal/model"
	appErr "github.com/xxxsen/mshop/internal/pkg/errors"
	"github.com/xxxsen/mshop/internal/pkg/securetoken"
)

type TokenStore interface {
	Replace(ctx context.Context, token *model.Token) error
	GetUnused(ctx context.Context, kind model.TokenKind, tokenHash string) (*model.Token, error)
	Claim(ctx context.Context, kind model.TokenKind, tokenHash string, usedAt int64) (bool, error)
	DeleteExpired(ctx context.Context, kind model.TokenKind, before int64) (int64, error)
}

// TokenService issues and consumes single-use tokens. Only fingerprints reach
// the store; the plaintext leaves this service exactly once, from IssueToken.
type TokenService struct {
	store TokenStore
	now   func() time.Time
}

func NewTokenService(store TokenStore) *TokenService {
	return &TokenService{store: store, now: time.Now}
}

func (s *TokenService) IssueToken(ctx context.Context, kind model.TokenKind, userID string, ttl time.Duration) (string, error) {
	plain, err := securetoken.Issue()
	if err != nil {
		return "", err
	}
	now := s.now()
	token := &model.Token{
		ID:        newID(),
		Kind:      kind,
		UserID:    userID,
		TokenHash: securetoken.Fingerprint(plain),
		ExpiresAt: now.Add(ttl).Unix(),
		Ctime:     now.Unix(),
	}
	if err := s.store.Replace(ctx, token); err != nil {
		return "", fmt.Errorf("issue %s token: %w", kind, err)
	}
	return plain, nil
}

// ConsumeForLookup resolves an unused token without consuming it. Unknown, used
// and other-kind tokens all yield ErrTokenInvalid.
func (s *TokenService) ConsumeForLookup(ctx context.Context, kind model.TokenKind, plain string) (*model.Token, error) {
	if !securetoken.WellFormed(plain) {
		return nil, appErr.ErrTokenInvalid
	}
	hash := securetoken.Fingerprint(plain)
	token, err := s.store.GetUnused(ctx, kind, hash)
	if err != nil {
		if errors.Is(err, appErr.ErrNotFound) {
			return nil, appErr.ErrTokenInvalid
		}
		return nil, err
	}
	if !securetoken.Equal(token.TokenHash, hash) {
		return nil, appErr.ErrTokenInvalid
	}
	if token.ExpiresAt < s.now().Unix() {
		return nil, appErr.ErrTokenExpired
	}
	return token, nil
}

// MarkUsed is idempotent.
func (s *TokenService) MarkUsed(ctx context.Context, kind model.TokenKind, plain string) error {
	_, err := s.Claim(ctx, kind, plain)
	return err
}

// Claim reports whether this call moved the token from unused to used.
func (s *TokenService) Claim(ctx context.Context, kind model.TokenKind, plain string) (bool, error) {
	return s.store.Claim(ctx, kind, securetoken.Fingerprint(plain), s.now().Unix())
}

func (s *TokenService) PurgeExpired(ctx context.Context) (int64, error) {
	before := s.now().Unix()
	var total int64
	for _, kind := range []model.TokenKind{model.TokenKindVerification, model.TokenKindReset} {
		n, err := s.store.DeleteExpired(ctx, kind, before)
		if err != nil {
			return total, fmt.Errorf("purge %s tokens: %w", kind, err)
		}
		total += n
	}
	return total, nil
}
