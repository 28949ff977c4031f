package gpu

import "sync/atomic"

// MemoryStats represents device buffer accounting.
type MemoryStats struct {
	ActiveBuffers    int64  // buffers allocated and not yet freed
	ActiveBytes      int64  // bytes held by active buffers
	CachedBytes      int64  // bytes held for reuse after Free
	TotalAllocations uint64 // allocations served, including cache hits
	PeakBytes        int64
}

// bufferStats tracks allocations for a backend. Safe for concurrent use.
type bufferStats struct {
	activeBuffers    atomic.Int64
	activeBytes      atomic.Int64
	cachedBytes      atomic.Int64
	totalAllocations atomic.Uint64
	peakBytes        atomic.Int64
}

func (s *bufferStats) allocated(bytes int64) {
	s.activeBuffers.Add(1)
	s.totalAllocations.Add(1)
	now := s.activeBytes.Add(bytes)
	for {
		peak := s.peakBytes.Load()
		if now <= peak || s.peakBytes.CompareAndSwap(peak, now) {
			return
		}
	}
}

func (s *bufferStats) freed(bytes int64) {
	s.activeBuffers.Add(-1)
	s.activeBytes.Add(-bytes)
}

func (s *bufferStats) snapshot() MemoryStats {
	return MemoryStats{
		ActiveBuffers:    s.activeBuffers.Load(),
		ActiveBytes:      s.activeBytes.Load(),
		CachedBytes:      s.cachedBytes.Load(),
		TotalAllocations: s.totalAllocations.Load(),
		PeakBytes:        s.peakBytes.Load(),
	}
}
