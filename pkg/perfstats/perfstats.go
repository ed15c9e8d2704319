// Package perfstats measures how long things take
package perfstats

import (
	"sync"
	"time"
)

// Accumulate samples of how long something took
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
	Max     time.Duration
}

func (a *TimeAccumulator) Reset() {
	a.Samples = 0
	a.Total = 0
	a.Max = 0
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.Samples++
	a.Total += v
	a.Max = max(a.Max, v)
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

// SyncTimeAccumulator is a TimeAccumulator that is safe to use from multiple goroutines
type SyncTimeAccumulator struct {
	lock sync.Mutex
	acc  TimeAccumulator
}

func (a *SyncTimeAccumulator) AddSample(v time.Duration) {
	a.lock.Lock()
	a.acc.AddSample(v)
	a.lock.Unlock()
}

// Since adds the time elapsed since start
func (a *SyncTimeAccumulator) Since(start time.Time) {
	a.AddSample(time.Since(start))
}

// Snapshot returns a copy of the current state
func (a *SyncTimeAccumulator) Snapshot() TimeAccumulator {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.acc
}

// SnapshotAndReset returns a copy of the current state, and starts a new measurement period
func (a *SyncTimeAccumulator) SnapshotAndReset() TimeAccumulator {
	a.lock.Lock()
	defer a.lock.Unlock()
	s := a.acc
	a.acc.Reset()
	return s
}
