package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type TokenPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type TokenCleanupJob struct {
	tokens TokenPurger
}

func NewTokenCleanupJob(tokens TokenPurger) *TokenCleanupJob {
	return &TokenCleanupJob{tokens: tokens}
}

func (j *TokenCleanupJob) Name() string {
	return "token_cleanup"
}

func (j *TokenCleanupJob) Run(ctx context.Context) error {
	if j.tokens == nil {
		return nil
	}
	n, err := j.tokens.PurgeExpired(ctx)
	if err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("expired tokens purged", zap.Int64("count", n))
	return nil
}
