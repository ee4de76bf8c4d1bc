// Package bus — исходящий канал уведомлений движка: память или Redis pub/sub.
package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Handler обрабатывает одно сообщение темы
type Handler func(ctx context.Context, payload []byte) error

type Bus interface {
	// Publish: []byte и string уходят как есть, остальное сериализуется в JSON
	Publish(ctx context.Context, topic string, payload any) error
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// New выбирает реализацию по имени драйвера; пустое имя — память
func New(driver, redisURL string, log zerolog.Logger) (Bus, error) {
	log = log.With().Str("component", "bus").Logger()
	switch driver {
	case "", "memory":
		return NewMemory(log), nil
	case "redis":
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		return NewRedis(redis.NewClient(opts), log), nil
	}
	return nil, fmt.Errorf("unknown bus driver %q", driver)
}

func encode(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return json.Marshal(payload)
}
