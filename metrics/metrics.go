// Package metrics tracks consensus progress counters and gauges.
package metrics

import "sync/atomic"

// Gauge records the most recent value of a measurement.
type Gauge struct {
	v atomic.Uint64
}

// Set records a new value.
func (g *Gauge) Set(v uint64) { g.v.Store(v) }

// Get returns the recorded value.
func (g *Gauge) Get() uint64 { return g.v.Load() }

// Counter is a monotonically increasing count that can be reset.
type Counter struct {
	v atomic.Uint64
}

// Add increments the counter by n.
func (c *Counter) Add(n uint64) { c.v.Add(n) }

// Get returns the current count.
func (c *Counter) Get() uint64 { return c.v.Load() }

// Reset sets the counter back to zero.
func (c *Counter) Reset() { c.v.Store(0) }

// ConsensusMetrics is the set of measurements the consensus task maintains.
type ConsensusMetrics struct {
	// CurrentView is the view this replica is executing in.
	CurrentView Gauge
	// LastDecidedView is the anchor view of the finalized prefix.
	LastDecidedView Gauge
	// ViewsSinceLastDecide counts views entered since the last decide.
	ViewsSinceLastDecide Gauge
	// LastSyncedBlockHeight is the height of the last decided anchor leaf.
	LastSyncedBlockHeight Gauge
	// LastDecidedTime is the Unix timestamp of the last decide.
	LastDecidedTime Gauge
	// InvalidQC counts proposals dropped for an invalid justify QC since the
	// last decide.
	InvalidQC Counter
	// Timeouts counts the Timeout events this replica acted on, including
	// repeats for a view whose timeout vote was already signed.
	Timeouts Counter
	// ViewsPerDecide tracks the distribution of views consumed per decide.
	ViewsPerDecide Welford
}

// NewConsensusMetrics returns a zeroed metrics set.
func NewConsensusMetrics() *ConsensusMetrics {
	return &ConsensusMetrics{}
}
