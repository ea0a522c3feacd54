package engine

import (
	"context"
	"sort"
	"time"

	"github.com/eventedge/hypepipe/internal/domain"
)

// Handler — реализация одной способности. Получает вход как есть,
// возвращает результат с меткой актуальности.
type Handler func(ctx context.Context, input map[string]any) (*domain.CapResult, error)

// Capability — регистрационная запись: код + TTL кэша результата.
// TTL = 0 означает «не кэшируется вовсе».
type Capability struct {
	Handler Handler
	TTL     time.Duration
}

// Registry — реестр способностей. Заполняется один раз при старте,
// дальше только читается, поэтому без блокировок.
type Registry struct {
	caps map[string]Capability
}

func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]Capability)}
}

func (r *Registry) Register(capID string, cap Capability) {
	r.caps[capID] = cap
}

func (r *Registry) Resolve(capID string) (Capability, bool) {
	c, ok := r.caps[capID]
	return c, ok
}

// Known возвращает отсортированный список кодов — он уходит клиенту
// в ответе unknown_cap, порядок должен быть стабильным.
func (r *Registry) Known() []string {
	out := make([]string, 0, len(r.caps))
	for id := range r.caps {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
