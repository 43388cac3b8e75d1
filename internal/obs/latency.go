package obs

import (
	"math/bits"
	"sync/atomic"
	"time"
)

// latencyBuckets covers 1ns to about 9 minutes in powers of two.
const latencyBuckets = 40

// LatencyStats is a lock-free log2 histogram of durations. Bucket i holds
// samples in [2^(i-1), 2^i) nanoseconds; quantiles report the bucket's upper
// bound, so they overstate by at most a factor of two.
type LatencyStats struct {
	count   atomic.Uint64
	sum     atomic.Uint64
	min     atomic.Uint64
	max     atomic.Uint64
	buckets [latencyBuckets]atomic.Uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64        `json:"count"`
	Min   time.Duration `json:"min_ns"`
	Max   time.Duration `json:"max_ns"`
	Avg   time.Duration `json:"avg_ns"`
	P50   time.Duration `json:"p50_ns"`
	P99   time.Duration `json:"p99_ns"`
}

func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	ns := uint64(d)
	l.count.Add(1)
	l.sum.Add(ns)
	l.buckets[bucketOf(ns)].Add(1)
	for {
		cur := l.min.Load()
		if (cur != 0 && ns >= cur) || l.min.CompareAndSwap(cur, ns) {
			break
		}
	}
	for {
		cur := l.max.Load()
		if ns <= cur || l.max.CompareAndSwap(cur, ns) {
			break
		}
	}
}

func (l *LatencyStats) Snapshot() LatencySnapshot {
	n := l.count.Load()
	if n == 0 {
		return LatencySnapshot{}
	}
	var counts [latencyBuckets]uint64
	for i := range counts {
		counts[i] = l.buckets[i].Load()
	}
	max := time.Duration(l.max.Load())
	return LatencySnapshot{
		Count: n,
		Min:   time.Duration(l.min.Load()),
		Max:   max,
		Avg:   time.Duration(l.sum.Load() / n),
		P50:   quantile(counts[:], 0.50, max),
		P99:   quantile(counts[:], 0.99, max),
	}
}

func bucketOf(ns uint64) int {
	i := bits.Len64(ns)
	if i >= latencyBuckets {
		return latencyBuckets - 1
	}
	return i
}

// quantile walks the buckets to rank q and caps the answer at the observed max.
func quantile(counts []uint64, q float64, max time.Duration) time.Duration {
	var total uint64
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return 0
	}
	rank := uint64(q*float64(total) + 0.5)
	if rank == 0 {
		rank = 1
	}
	var seen uint64
	for i, c := range counts {
		seen += c
		if seen >= rank {
			upper := time.Duration(uint64(1)<<uint(i)) - 1
			if i == 0 || upper > max {
				return max
			}
			return upper
		}
	}
	return max
}
