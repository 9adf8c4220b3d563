package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mshop/internal/config"
	"github.com/xxxsen/mshop/internal/model"
)

// Notifier delivers plaintext tokens out of band. Implementations never return
// errors; a failed delivery is logged and reported as false.
type Notifier interface {
	SendVerification(ctx context.Context, user *model.User, token string) bool
	SendPasswordReset(ctx context.Context, user *model.User, token string) bool
}

// Sender is the transport behind a Notifier.
type Sender interface {
	Deliver(ctx context.Context, msg *Message) error
}

type Factory func(args interface{}) (Sender, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func New(cfg config.NotifyConfig, composer *Composer) (Notifier, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, fmt.Errorf("notify.type is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported notify type: %s", cfg.Type)
	}
	sender, err := factory(cfg.Data)
	if err != nil {
		return nil, fmt.Errorf("init %s notifier: %w", key, err)
	}
	return NewGateway(sender, composer), nil
}

// Gateway composes messages and hands them to a Sender.
type Gateway struct {
	sender   Sender
	composer *Composer
}

func NewGateway(sender Sender, composer *Composer) *Gateway {
	return &Gateway{sender: sender, composer: composer}
}

func (g *Gateway) SendVerification(ctx context.Context, user *model.User, token string) bool {
	msg, err := g.composer.Verification(user, token)
	return g.deliver(ctx, user, msg, err)
}

func (g *Gateway) SendPasswordReset(ctx context.Context, user *model.User, token string) bool {
	msg, err := g.composer.PasswordReset(user, token)
	return g.deliver(ctx, user, msg, err)
}

func (g *Gateway) deliver(ctx context.Context, user *model.User, msg *Message, err error) (ok bool) {
	logger := logutil.GetLogger(ctx).With(zap.String("user_id", user.ID), zap.String("to", user.Email))
	defer func() {
		if p := recover(); p != nil {
			logger.Error("notification panicked", zap.Any("panic", p))
			ok = false
		}
	}()
	if err != nil {
		logger.Error("compose notification failed", zap.Error(err))
		return false
	}
	if err := g.sender.Deliver(ctx, msg); err != nil {
		logger.Error("deliver notification failed", zap.String("kind", msg.Kind), zap.Error(err))
		return false
	}
	logger.Info("notification sent", zap.String("kind", msg.Kind))
	return true
}

func (g *Gateway) Close() error {
	if c, ok := g.sender.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("notify config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode notify config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode notify config: %w", err)
	}
	return nil
}
