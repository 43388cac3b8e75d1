package risk

// rateLog keeps accepted order timestamps for one strategy inside a rolling
// window. Entries at or before now-window have expired.
type rateLog struct {
	ts   []int64
	head int
}

func (r *rateLog) prune(now, window int64) {
	cutoff := now - window
	for r.head < len(r.ts) && r.ts[r.head] <= cutoff {
		r.head++
	}
	if r.head > 0 && r.head*2 >= len(r.ts) {
		n := copy(r.ts, r.ts[r.head:])
		r.ts = r.ts[:n]
		r.head = 0
	}
}

func (r *rateLog) count() int {
	return len(r.ts) - r.head
}

func (r *rateLog) add(now int64) {
	r.ts = append(r.ts, now)
}

// remove drops one entry recorded at ts, newest first. It reports whether an
// entry was found.
func (r *rateLog) remove(ts int64) bool {
	for i := len(r.ts) - 1; i >= r.head; i-- {
		if r.ts[i] == ts {
			r.ts = append(r.ts[:i], r.ts[i+1:]...)
			return true
		}
	}
	return false
}
