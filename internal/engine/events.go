package engine

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"strata/internal/bus"
)

// Event — полезная нагрузка уведомления
type Event struct {
	Entity        string `json:"entity"`
	Action        string `json:"action"`
	Tenant        string `json:"tenant,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
	Data          any    `json:"data,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Topics — имена тем для действия; при ошибке к каждому добавляется " error"
func Topics(entity, action string, failed bool) []string {
	entity = strings.ToLower(entity)
	out := []string{"response", entity + " response", action, entity + " " + action}
	if failed {
		for i := range out {
			out[i] += " error"
		}
	}
	return out
}

// notifier публикует события в шину; без шины ничего не делает.
// Уведомления — побочный канал: ошибка публикации только логируется.
type notifier struct {
	bus bus.Bus
	log zerolog.Logger
}

func (n *notifier) emit(ctx context.Context, entity, action string, o Options, data any, err error) {
	if n.bus == nil {
		return
	}
	ev := Event{
		Entity:        strings.ToLower(entity),
		Action:        action,
		Tenant:        o.Tenant,
		TransactionID: o.TransactionID,
	}
	if err != nil {
		ev.Error = err.Error()
	} else {
		ev.Data = data
	}
	for _, topic := range Topics(entity, action, err != nil) {
		if perr := n.bus.Publish(ctx, topic, ev); perr != nil {
			n.log.Warn().Err(perr).Str("topic", topic).Msg("publish failed")
		}
	}
}
