package metrics

import "sync"

// Welford computes a running mean and variance using Welford's algorithm.
type Welford struct {
	mu   sync.Mutex
	n    uint64
	mean float64
	m2   float64
}

// AddPoint folds a new measurement into the running statistics.
func (w *Welford) AddPoint(x float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.n++
	d := x - w.mean
	w.mean += d / float64(w.n)
	w.m2 += d * (x - w.mean)
}

// Get returns the mean, the sample variance, and the number of points.
func (w *Welford) Get() (mean, variance float64, count uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.n > 1 {
		variance = w.m2 / float64(w.n-1)
	}
	return w.mean, variance, w.n
}

// Reset clears the accumulated statistics.
func (w *Welford) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.n, w.mean, w.m2 = 0, 0, 0
}
