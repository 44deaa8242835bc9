package offgrid

import (
	"math"
	"sync/atomic"
)

type categoryCounters struct {
	network     atomic.Uint64
	cache       atomic.Uint64
	fallback    atomic.Uint64
	unavailable atomic.Uint64
}

type statsCollector struct {
	byCategory [StructuredData + 1]categoryCounters

	totalResponses atomic.Uint64
	totalRespBytes atomic.Uint64
	minRespBytes   atomic.Uint64
	maxRespBytes   atomic.Uint64
}

func newStatsCollector() *statsCollector {
	s := &statsCollector{}
	s.minRespBytes.Store(math.MaxUint64)
	return s
}

// Observe records one answered request.
func (s *statsCollector) Observe(cat Category, resp *Response) {
	c := &s.byCategory[cat]
	switch resp.Source {
	case sourceNetwork:
		c.network.Add(1)
	case sourceCache:
		c.cache.Add(1)
	case sourceUnavailable:
		c.unavailable.Add(1)
	default:
		c.fallback.Add(1)
	}

	n := uint64(len(resp.Body))
	s.totalResponses.Add(1)
	s.totalRespBytes.Add(n)
	for {
		cur := s.minRespBytes.Load()
		if n >= cur || s.minRespBytes.CompareAndSwap(cur, n) {
			break
		}
	}
	for {
		cur := s.maxRespBytes.Load()
		if n <= cur || s.maxRespBytes.CompareAndSwap(cur, n) {
			break
		}
	}
}

type categorySnapshot struct {
	Network, Cache, Fallback, Unavailable uint64
}

type statsSnapshot struct {
	Categories     map[string]categorySnapshot
	TotalResponses uint64
	MinRespBytes   uint64
	MaxRespBytes   uint64
	AvgRespBytes   uint64
}

func (s *statsCollector) Snapshot() statsSnapshot {
	out := statsSnapshot{Categories: make(map[string]categorySnapshot, len(s.byCategory))}
	for i := range s.byCategory {
		c := &s.byCategory[i]
		out.Categories[Category(i).String()] = categorySnapshot{
			Network:     c.network.Load(),
			Cache:       c.cache.Load(),
			Fallback:    c.fallback.Load(),
			Unavailable: c.unavailable.Load(),
		}
	}
	count := s.totalResponses.Load()
	if count == 0 {
		return out
	}
	minv := s.minRespBytes.Load()
	if minv == math.MaxUint64 {
		minv = 0
	}
	out.TotalResponses = count
	out.MinRespBytes = minv
	out.MaxRespBytes = s.maxRespBytes.Load()
	out.AvgRespBytes = s.totalRespBytes.Load() / count
	return out
}
