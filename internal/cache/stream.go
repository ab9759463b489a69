package cache

import (
	"context"

	rediscommon "workplace-monitor/common/redis"

	"github.com/go-redis/redis/v8"
)

// StreamWriter appends JSON documents to an event stream.
type StreamWriter interface {
	PublishJSON(ctx context.Context, data interface{}) (string, error)
}

// RedisStream a capped Redis stream.
type RedisStream struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisStream(client *redis.Client, stream string, maxLen int64) *RedisStream {
	return &RedisStream{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStream) PublishJSON(ctx context.Context, data interface{}) (string, error) {
	return rediscommon.PublishJSONToStream(ctx, s.client, s.stream, s.maxLen, data)
}
