package strategy

import "math"

// rolling keeps the last n samples in a ring with running sums.
type rolling struct {
	buf   []float64
	head  int
	count int
	sum   float64
	sumSq float64
}

func newRolling(n int) *rolling {
	if n < 1 {
		n = 1
	}
	return &rolling{buf: make([]float64, n)}
}

func (r *rolling) push(v float64) {
	if r.count == len(r.buf) {
		old := r.buf[r.head]
		r.sum -= old
		r.sumSq -= old * old
	} else {
		r.count++
	}
	r.buf[r.head] = v
	r.sum += v
	r.sumSq += v * v
	r.head = (r.head + 1) % len(r.buf)
}

func (r *rolling) full() bool { return r.count == len(r.buf) }

func (r *rolling) mean() float64 {
	if r.count == 0 {
		return 0
	}
	return r.sum / float64(r.count)
}

func (r *rolling) std() float64 {
	if r.count < 2 {
		return 0
	}
	m := r.mean()
	v := r.sumSq/float64(r.count) - m*m
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}

// zscore returns (v - mean) / std, 0 while std is 0.
func (r *rolling) zscore(v float64) float64 {
	sd := r.std()
	if sd == 0 {
		return 0
	}
	return (v - r.mean()) / sd
}
