package frames

import "sync/atomic"

type MetricsSnapshot struct {
	CacheHits     uint64
	CacheMisses   uint64
	PersistedHits uint64
	Joins         uint64
	Renders       uint64
	Fallbacks     uint64
	WarmOK        uint64
	WarmFailed    uint64
}

type metrics struct {
	cacheHits     atomic.Uint64
	cacheMisses   atomic.Uint64
	persistedHits atomic.Uint64
	joins         atomic.Uint64
	renders       atomic.Uint64
	fallbacks     atomic.Uint64
	warmOK        atomic.Uint64
	warmFailed    atomic.Uint64
}

func (m *metrics) snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		CacheHits:     m.cacheHits.Load(),
		CacheMisses:   m.cacheMisses.Load(),
		PersistedHits: m.persistedHits.Load(),
		Joins:         m.joins.Load(),
		Renders:       m.renders.Load(),
		Fallbacks:     m.fallbacks.Load(),
		WarmOK:        m.warmOK.Load(),
		WarmFailed:    m.warmFailed.Load(),
	}
}
