package bus

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Memory — шина внутри процесса; обработчики вызываются асинхронно
type Memory struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	log      zerolog.Logger
}

func NewMemory(log zerolog.Logger) *Memory {
	return &Memory{handlers: make(map[string][]Handler), log: log}
}

func (m *Memory) Publish(ctx context.Context, topic string, payload any) error {
	body, err := encode(payload)
	if err != nil {
		return err
	}

	m.mu.RLock()
	snapshot := append([]Handler(nil), m.handlers[topic]...)
	m.mu.RUnlock()

	for _, h := range snapshot {
		go func(h Handler) {
			if err := h(context.Background(), body); err != nil {
				m.log.Warn().Err(err).Str("topic", topic).Msg("bus handler error")
			}
		}(h)
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, topic string, handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = append(m.handlers[topic], handler)
	return nil
}

func (m *Memory) Close() error { return nil }
