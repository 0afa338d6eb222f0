// Package memtier wires the tiered memory subsystem together: the episodic,
// semantic, and procedural stores over one backing key-value store, plus the
// consolidation engine that moves information between them.
package memtier

import (
	"context"
	"log/slog"
	"time"

	"github.com/hrygo/memtier/ai"
	"github.com/hrygo/memtier/internal/observability"
	"github.com/hrygo/memtier/internal/profile"
	"github.com/hrygo/memtier/memory/consolidation"
	"github.com/hrygo/memtier/memory/episodic"
	"github.com/hrygo/memtier/memory/procedural"
	"github.com/hrygo/memtier/memory/semantic"
	"github.com/hrygo/memtier/store"
	"github.com/hrygo/memtier/store/db/redis"
)

// Subsystem bundles the three memory tiers and their consolidation engine.
// Construct one per process and pass it by reference; no ambient globals.
type Subsystem struct {
	Store      *store.Store
	Episodic   *episodic.Store
	Semantic   *semantic.Store
	Procedural *procedural.Store
	Engine     *consolidation.Engine
}

// New builds the subsystem from a profile: opens the Redis driver, wires the
// optional embedding provider, and seeds the consolidation engine.
func New(ctx context.Context, p *profile.Profile) (*Subsystem, error) {
	observability.Init(p.Mode)

	driver := redis.NewDB(redis.Config{
		Addr:     p.RedisAddr,
		Password: p.RedisPassword,
		DB:       p.RedisDB,
	})
	if err := driver.Ping(ctx); err != nil {
		return nil, err
	}

	var embedding ai.EmbeddingService
	if cfg := ai.NewEmbeddingConfigFromProfile(p); cfg != nil {
		svc, err := ai.NewEmbeddingService(cfg)
		if err != nil {
			// Embeddings are optional; run degraded rather than failing startup.
			slog.Warn("embedding service unavailable", "error", err)
		} else {
			embedding = svc
		}
	}

	return NewWithDriver(store.New(driver), embedding, p), nil
}

// NewWithDriver builds the subsystem over an existing store. Used by tests
// and by applications that manage their own connections.
func NewWithDriver(s *store.Store, embedding ai.EmbeddingService, p *profile.Profile) *Subsystem {
	ep := episodic.NewStore(s)
	if p != nil {
		ep.WithTTLs(
			time.Duration(p.EpisodicDefaultTTL)*time.Second,
			time.Duration(p.EpisodicExtendedTTL)*time.Second,
		)
	}
	sem := semantic.NewStore(s, embedding)
	proc := procedural.NewStore(s)

	return &Subsystem{
		Store:      s,
		Episodic:   ep,
		Semantic:   sem,
		Procedural: proc,
		Engine:     consolidation.NewEngine(ep, sem, proc),
	}
}

// Close stops auto-consolidation and releases the backing store.
func (s *Subsystem) Close() error {
	s.Engine.StopAutoConsolidation()
	return s.Store.Close()
}
