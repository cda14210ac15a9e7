package checkpoint

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xzhHas/configflow/internal/changefeed"
)

// RedisStore keeps the raw token bytes under one key.
type RedisStore struct {
	Client   redis.Cmdable
	Key      string
	Validate Validator
	Logger   *zap.Logger
}

func NewRedisStore(client redis.Cmdable, key string, validate Validator, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		Client:   client,
		Key:      key,
		Validate: validate,
		Logger:   logger.With(zap.String("component", "checkpoint"), zap.String("key", key)),
	}
}

func (s *RedisStore) Load(ctx context.Context) (changefeed.ResumeToken, error) {
	b, err := s.Client.Get(ctx, s.Key).Bytes()
	if errors.Is(err, redis.Nil) || (err == nil && len(b) == 0) {
		s.Logger.Info("no resume token found")
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read resume token")
	}
	s.Logger.Info("resume token found")
	return checked(changefeed.ResumeToken(b), s.Validate, s.Logger), nil
}

func (s *RedisStore) Save(ctx context.Context, token changefeed.ResumeToken) error {
	return errors.Wrap(s.Client.Set(ctx, s.Key, []byte(token), 0).Err(), "save resume token")
}

func (s *RedisStore) Close() error {
	if c, ok := s.Client.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// checked drops a token the feed cannot resume from. Starting over forces a
// full invalidation downstream instead of resuming at a wrong position.
func checked(token changefeed.ResumeToken, validate Validator, logger *zap.Logger) changefeed.ResumeToken {
	if validate == nil {
		return token
	}
	if err := validate(token); err != nil {
		logger.Warn("stored resume token is unusable, configuration caches will be invalidated", zap.Error(err))
		return nil
	}
	return token
}
