package tenant

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var ErrClosed = errors.New("tenant serializer closed")

// Ticket — место в очереди на доступ к активной схеме
type Ticket struct {
	ID       string
	QueuedAt time.Time

	ready  chan struct{}
	active bool
}

type opKind int

const (
	opAcquire opKind = iota
	opRelease
	opLen
)

type request struct {
	kind   opKind
	ticket *Ticket
	id     string
	reply  chan int
}

// Serializer — FIFO-очередь: в каждый момент активен ровно один билет.
// Очередью владеет одна горутина, остальные общаются с ней через канал.
// В выключенном состоянии Acquire/Release ничего не делают.
type Serializer struct {
	enabled  bool
	requests chan request
	done     chan struct{}
	once     sync.Once

	mu      sync.Mutex
	entropy io.Reader
}

func NewSerializer(enabled bool) *Serializer {
	s := &Serializer{
		enabled:  enabled,
		requests: make(chan request),
		done:     make(chan struct{}),
		entropy:  ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	if enabled {
		go s.loop()
	}
	return s
}

func (s *Serializer) Enabled() bool { return s.enabled }

func (s *Serializer) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *Serializer) loop() {
	var queue []*Ticket
	activateFront := func() {
		if len(queue) > 0 && !queue[0].active {
			queue[0].active = true
			close(queue[0].ready)
		}
	}
	for {
		select {
		case req := <-s.requests:
			switch req.kind {
			case opAcquire:
				queue = append(queue, req.ticket)
				activateFront()
			case opRelease:
				for i, t := range queue {
					if t.ID == req.id {
						queue = append(queue[:i], queue[i+1:]...)
						break
					}
				}
				activateFront()
			case opLen:
				req.reply <- len(queue)
			}
		case <-s.done:
			return
		}
	}
}

// Acquire ставит билет в очередь и ждёт, пока он окажется первым.
// При отмене ctx билет снимается с очереди.
func (s *Serializer) Acquire(ctx context.Context) (string, error) {
	if !s.enabled {
		return "", nil
	}
	select {
	case <-s.done:
		return "", ErrClosed
	default:
	}
	t := &Ticket{ID: s.newID(), QueuedAt: time.Now(), ready: make(chan struct{})}
	select {
	case s.requests <- request{kind: opAcquire, ticket: t}:
	case <-s.done:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case <-t.ready:
		return t.ID, nil
	case <-ctx.Done():
		s.Release(t.ID)
		return "", ctx.Err()
	}
}

// Release снимает билет и будит следующий
func (s *Serializer) Release(id string) {
	if !s.enabled || id == "" {
		return
	}
	select {
	case s.requests <- request{kind: opRelease, id: id}:
	case <-s.done:
	}
}

// Do выполняет fn, удерживая билет; билет освобождается на любом пути выхода
func (s *Serializer) Do(ctx context.Context, fn func() error) error {
	id, err := s.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.Release(id)
	return fn()
}

// Len — число билетов в очереди, включая активный
func (s *Serializer) Len() int {
	if !s.enabled {
		return 0
	}
	reply := make(chan int, 1)
	select {
	case s.requests <- request{kind: opLen, reply: reply}:
		return <-reply
	case <-s.done:
		return 0
	}
}

// Close останавливает владельца очереди
func (s *Serializer) Close() {
	s.once.Do(func() { close(s.done) })
}
