package redis

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisCodeverseCache struct {
	client redis.UniversalClient
	logger *zap.Logger
}

func NewRedisCodeverseCache(ctx context.Context, devMode bool, redisEndpoint string, logger *zap.Logger) (*RedisCodeverseCache, error) {
	var client redis.UniversalClient
	if devMode {
		client = redis.NewClient(&redis.Options{
			Addr: redisEndpoint,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr: redisEndpoint,
			// AWS elasticache endpoints require TLS
			TLSConfig: &tls.Config{},
		})
	}

	err := client.Ping(ctx).Err()
	if err != nil {
		return nil, err
	}

	return &RedisCodeverseCache{client: client, logger: logger}, nil
}

func (redisCache *RedisCodeverseCache) Publish(ctx context.Context, channel string, message []byte) error {
	if err := redisCache.client.Publish(ctx, channel, message).Err(); err != nil {
		return err
	}
	return nil
}

func (redisCache *RedisCodeverseCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	pubsub := redisCache.client.Subscribe(ctx, channel)
	// Ensure subscription is established
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		redisCache.logger.Warn("failed to establish pubsub subscription",
			zap.String("channel", channel), zap.Error(err))
		return err
	}

	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()

	return nil
}

// PSubscribe subscribes to a channel pattern. The handler receives the
// concrete channel each message arrived on, since one pattern covers many
// document topics.
func (redisCache *RedisCodeverseCache) PSubscribe(ctx context.Context, pattern string, handler func(channel string, message []byte)) error {
	pubsub := redisCache.client.PSubscribe(ctx, pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		redisCache.logger.Warn("failed to establish pubsub pattern subscription",
			zap.String("pattern", pattern), zap.Error(err))
		return err
	}

	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler(msg.Channel, []byte(msg.Payload))
			}
		}
	}()

	return nil
}

// Document content cache. Keys use hash tags so all keys for one document
// hash to the same cluster slot.
func buildDocContentKey(docId string) string {
	return "doc:{" + docId + "}:content"
}

const cacheTTL = 10 * time.Minute

func (redisCache *RedisCodeverseCache) SetDocumentContent(ctx context.Context, docId string, content string) error {
	return redisCache.client.Set(ctx, buildDocContentKey(docId), content, cacheTTL).Err()
}

func (redisCache *RedisCodeverseCache) GetDocumentContent(ctx context.Context, docId string) (string, bool, error) {
	val, err := redisCache.client.Get(ctx, buildDocContentKey(docId)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		return "", false, err
	}
	return val, true, nil
}

func (redisCache *RedisCodeverseCache) InvalidateDocuments(ctx context.Context, docIds []string) error {
	if len(docIds) == 0 {
		return nil
	}

	// In Redis Cluster, keys with different hash tags hash to different
	// slots, so delete per document rather than in one Del call.
	for _, docId := range docIds {
		if err := redisCache.client.Del(ctx, buildDocContentKey(docId)).Err(); err != nil {
			return err
		}
	}

	return nil
}
