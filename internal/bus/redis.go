package bus

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis — pub/sub поверх одного соединения подписки на все темы
type Redis struct {
	rdb      *redis.Client
	pubsub   *redis.PubSub
	handlers map[string][]Handler
	mu       sync.RWMutex
	once     sync.Once
	log      zerolog.Logger
}

func NewRedis(rdb *redis.Client, log zerolog.Logger) *Redis {
	return &Redis{rdb: rdb, handlers: make(map[string][]Handler), log: log}
}

func (r *Redis) Publish(ctx context.Context, topic string, payload any) error {
	body, err := encode(payload)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, topic, body).Err()
}

func (r *Redis) Subscribe(ctx context.Context, topic string, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.once.Do(func() {
		r.pubsub = r.rdb.Subscribe(ctx)
		go r.dispatch(r.pubsub.Channel())
	})
	r.handlers[topic] = append(r.handlers[topic], handler)
	return r.pubsub.Subscribe(ctx, topic)
}

func (r *Redis) dispatch(ch <-chan *redis.Message) {
	for msg := range ch {
		r.mu.RLock()
		active := append([]Handler(nil), r.handlers[msg.Channel]...)
		r.mu.RUnlock()

		for _, h := range active {
			go func(h Handler, topic, payload string) {
				if err := h(context.Background(), []byte(payload)); err != nil {
					r.log.Warn().Err(err).Str("topic", topic).Msg("bus handler error")
				}
			}(h, msg.Channel, msg.Payload)
		}
	}
	r.log.Debug().Msg("redis dispatch loop exited")
}

func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubsub != nil {
		_ = r.pubsub.Close()
	}
	return r.rdb.Close()
}
