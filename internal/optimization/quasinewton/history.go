package quasinewton

// secantPair is one (s, y) = (x_new - x_old, grad_new - grad_old) pair with
// its precomputed curvature reciprocal ρ = 1/(s·y).
type secantPair struct {
	s, y []float64
	rho  float64
}

// pairRing is a fixed-capacity arena of the most recent secant pairs, indexed
// by a rotating cursor. Pushing past capacity overwrites the oldest entry, so
// the two-loop recursion stays O(m) with no allocation churn after warmup.
type pairRing struct {
	pairs []secantPair
	head  int // slot for the next push
	n     int // pairs currently stored
}

func newPairRing(capacity int) *pairRing {
	return &pairRing{pairs: make([]secantPair, capacity)}
}

func (r *pairRing) push(s, y []float64, rho float64) {
	p := &r.pairs[r.head]
	p.s = append(p.s[:0], s...)
	p.y = append(p.y[:0], y...)
	p.rho = rho

	r.head = (r.head + 1) % len(r.pairs)
	if r.n < len(r.pairs) {
		r.n++
	}
}

func (r *pairRing) len() int { return r.n }

// at returns the i-th most recent pair; at(0) is the newest.
func (r *pairRing) at(i int) *secantPair {
	idx := (r.head - 1 - i + 2*len(r.pairs)) % len(r.pairs)
	return &r.pairs[idx]
}

func (r *pairRing) clear() {
	r.head = 0
	r.n = 0
}
