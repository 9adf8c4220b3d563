package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mshop/internal/model"
	"github.com/xxxsen/mshop/internal/notify"
	appErr "github.com/xxxsen/mshop/internal/pkg/errors"
	"github.com/xxxsen/mshop/internal/pkg/jwt"
)

const MinPasswordLength = 6

type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, userID string) (*model.User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string, mtime int64) error
	MarkEmailVerified(ctx context.Context, userID string, verifiedAt int64) (bool, error)
}

type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain, digest string) bool
	NeedsUpgrade(digest string) bool
}

type AuthConfig struct {
	JWTSecret       []byte
	JWTTTL          time.Duration
	VerificationTTL time.Duration
	ResetTTL        time.Duration
}

type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

type AuthService struct {
	users    UserStore
	tokens   *TokenService
	tx       TxRunner
	hasher   PasswordHasher
	notifier notify.Notifier
	cfg      AuthConfig
	now      func() time.Time

	// hashed once at construction; unknown-email logins verify against it
	dummyHash string
}

func NewAuthService(users UserStore, tokens *TokenService, tx TxRunner, hasher PasswordHasher,
	notifier notify.Notifier, cfg AuthConfig) (*AuthService, error) {
	if cfg.JWTTTL <= 0 {
		cfg.JWTTTL = 7 * 24 * time.Hour
	}
	if cfg.VerificationTTL <= 0 {
		cfg.VerificationTTL = 24 * time.Hour
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = 30 * time.Minute
	}
	dummyHash, err := hasher.Hash("mshop-login-timing")
	if err != nil {
		return nil, fmt.Errorf("build login timing hash: %w", err)
	}
	return &AuthService{
		users:     users,
		tokens:    tokens,
		tx:        tx,
		hasher:    hasher,
		notifier:  notifier,
		cfg:       cfg,
		now:       time.Now,
		dummyHash: dummyHash,
	}, nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func checkPasswordPolicy(plain string) error {
	if utf8.RuneCountInString(plain) < MinPasswordLength {
		return appErr.ErrWeakPassword
	}
	return nil
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	email := NormalizeEmail(in.Email)
	if email == "" {
		return nil, appErr.ErrInvalid
	}
	if err := checkPasswordPolicy(in.Password); err != nil {
		return nil, err
	}
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, appErr.ErrConflict
	} else if !errors.Is(err, appErr.ErrNotFound) {
		return nil, err
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	now := s.now().Unix()
	user := &model.User{
		ID:           newID(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Role:         model.RoleUser,
		Ctime:        now,
		Mtime:        now,
	}
	var plain string
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, user); err != nil {
			return err
		}
		plain, err = s.tokens.IssueToken(ctx, model.TokenKindVerification, user.ID, s.cfg.VerificationTTL)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger := logutil.GetLogger(ctx).With(zap.String("user_id", user.ID))
	logger.Info("user registered")
	if !s.notifier.SendVerification(ctx, user, plain) {
		logger.Warn("verification email not delivered at registration")
	}
	return user, nil
}

// Login fails with ErrUnauthorized for both unknown emails and wrong passwords.
// ErrEmailNotVerified is only reachable with a correct password.
func (s *AuthService) Login(ctx context.Context, email, plain string) (*model.User, string, error) {
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, appErr.ErrNotFound) {
			s.hasher.Verify(plain, s.dummyHash)
			return nil, "", appErr.ErrUnauthorized
		}
		return nil, "", err
	}
	if !s.hasher.Verify(plain, user.PasswordHash) {
		return nil, "", appErr.ErrUnauthorized
	}
	if !user.EmailVerified {
		return nil, "", appErr.ErrEmailNotVerified
	}
	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		s.rehash(ctx, user, plain)
	}
	token, err := jwt.GenerateToken(user.ID, user.Email, user.Role, s.cfg.JWTSecret, s.cfg.JWTTTL)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

func (s *AuthService) rehash(ctx context.Context, user *model.User, plain string) {
	logger := logutil.GetLogger(ctx).With(zap.String("user_id", user.ID))
	hash, err := s.hasher.Hash(plain)
	if err != nil {
		logger.Error("rehash password failed", zap.Error(err))
		return
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash, s.now().Unix()); err != nil {
		logger.Error("store upgraded password hash failed", zap.Error(err))
		return
	}
	user.PasswordHash = hash
	logger.Info("password hash upgraded")
}

func (s *AuthService) VerifyEmail(ctx context.Context, plain string) error {
	token, err := s.tokens.ConsumeForLookup(ctx, model.TokenKindVerification, plain)
	if err != nil {
		return err
	}
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		won, err := s.tokens.Claim(ctx, model.TokenKindVerification, plain)
		if err != nil {
			return err
		}
		if !won {
			return appErr.ErrTokenInvalid
		}
		changed, err := s.users.MarkEmailVerified(ctx, token.UserID, s.now().Unix())
		if err != nil {
			return err
		}
		if changed {
			logutil.GetLogger(ctx).Info("email verified", zap.String("user_id", token.UserID))
		}
		return nil
	})
}

// ResendVerification returns nil for unknown and already verified addresses.
func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, appErr.ErrNotFound) {
			return nil
		}
		return err
	}
	if user.EmailVerified {
		return nil
	}
	plain, err := s.tokens.IssueToken(ctx, model.TokenKindVerification, user.ID, s.cfg.VerificationTTL)
	if err != nil {
		return err
	}
	if !s.notifier.SendVerification(ctx, user, plain) {
		return appErr.ErrNotifyFailed
	}
	return nil
}

// ForgotPassword returns nil for unknown addresses.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, appErr.ErrNotFound) {
			return nil
		}
		return err
	}
	plain, err := s.tokens.IssueToken(ctx, model.TokenKindReset, user.ID, s.cfg.ResetTTL)
	if err != nil {
		return err
	}
	if !s.notifier.SendPasswordReset(ctx, user, plain) {
		return appErr.ErrNotifyFailed
	}
	return nil
}

// ResetPassword writes the new hash and claims the token in one transaction.
// When the claim is lost to a concurrent submission the write is rolled back.
func (s *AuthService) ResetPassword(ctx context.Context, plain, newPassword string) error {
	if err := checkPasswordPolicy(newPassword); err != nil {
		return err
	}
	token, err := s.tokens.ConsumeForLookup(ctx, model.TokenKindReset, plain)
	if err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.users.UpdatePassword(ctx, token.UserID, hash, s.now().Unix()); err != nil {
			if errors.Is(err, appErr.ErrNotFound) {
				return appErr.ErrTokenInvalid
			}
			return err
		}
		won, err := s.tokens.Claim(ctx, model.TokenKindReset, plain)
		if err != nil {
			return err
		}
		if !won {
			return appErr.ErrTokenInvalid
		}
		return nil
	})
	if err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("password reset", zap.String("user_id", token.UserID))
	return nil
}

func (s *AuthService) ChangePassword(ctx context.Context, userID, current, newPassword string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, appErr.ErrNotFound) {
			return appErr.ErrUnauthorized
		}
		return err
	}
	if !s.hasher.Verify(current, user.PasswordHash) {
		return appErr.ErrPasswordMismatch
	}
	if current == newPassword {
		return appErr.ErrPasswordReused
	}
	if err := checkPasswordPolicy(newPassword); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash, s.now().Unix()); err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("password changed", zap.String("user_id", user.ID))
	return nil
}

func (s *AuthService) Profile(ctx context.Context, userID string) (*model.User, error) {
	return s.users.GetByID(ctx, userID)
}
