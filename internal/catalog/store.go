package catalog

import (
	"sync/atomic"

	"go.uber.org/zap"

	"rebanada-bot-backend/internal/metrics"
)

// ReloadOutcome reports the result of a load. OK is false when the source
// failed and the empty catalog was substituted.
type ReloadOutcome struct {
	OK        bool   `json:"ok"`
	Message   string `json:"message"`
	Pizzas    int    `json:"pizzas"`
	Promos    int    `json:"promos"`
	Beverages int    `json:"bebidas"`
}

// Store owns the process-wide catalog reference. Readers get an immutable
// snapshot; Reload swaps the whole reference.
type Store struct {
	src     Source
	log     *zap.Logger
	current atomic.Pointer[Catalog]
}

// NewStore performs the initial load. It never fails: a broken source yields
// the empty catalog.
func NewStore(src Source, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{src: src, log: log.Named("catalog")}
	s.Reload()
	return s
}

// Current returns the catalog snapshot in effect.
func (s *Store) Current() *Catalog {
	if c := s.current.Load(); c != nil {
		return c
	}
	return Empty()
}

// Reload re-reads the source and replaces the shared catalog. On failure the
// empty catalog replaces whatever was loaded before.
func (s *Store) Reload() ReloadOutcome {
	next, err := s.load()
	s.current.Store(next)
	out := ReloadOutcome{
		OK:        err == nil,
		Pizzas:    len(next.Pizzas),
		Promos:    len(next.Promos),
		Beverages: len(next.Beverages),
	}
	if err != nil {
		metrics.CatalogReloads.WithLabelValues("failed").Inc()
		out.Message = "No pude cargar el menú; se usa un menú vacío"
		return out
	}
	metrics.CatalogReloads.WithLabelValues("ok").Inc()
	out.Message = "Menú recargado"
	return out
}

func (s *Store) load() (*Catalog, error) {
	if s.src == nil {
		s.log.Error("menu load failed", zap.String("reason", "no source configured"))
		return Empty(), errNoSource
	}
	raw, err := s.src.Load()
	if err != nil {
		s.log.Error("menu load failed", zap.Error(err))
		return Empty(), err
	}
	c, problems := Sanitize(raw)
	for _, p := range problems {
		s.log.Warn("dropping invalid menu item",
			zap.String("category", p.Category),
			zap.Int("index", p.Index),
			zap.String("reason", p.Reason))
	}
	s.log.Info("menu loaded",
		zap.Int("pizzas", len(c.Pizzas)),
		zap.Int("promos", len(c.Promos)),
		zap.Int("bebidas", len(c.Beverages)))
	return c, nil
}
