package group

import "time"

// TimeProvider is the clock a Group reads. LastSeen stamps, reassembly ages
// and gap deadlines all come from Now; the heartbeat and sweep loops run on
// tickers from NewTicker.
type TimeProvider interface {
	Now() time.Time
	NewTicker(d time.Duration) *time.Ticker
}

// RealTimeProvider is the wall clock, used when Options.TimeProvider is nil.
type RealTimeProvider struct{}

func (RealTimeProvider) Now() time.Time { return time.Now() }

func (RealTimeProvider) NewTicker(d time.Duration) *time.Ticker { return time.NewTicker(d) }

func getTimeProvider(tp TimeProvider) TimeProvider {
	if tp != nil {
		return tp
	}
	return RealTimeProvider{}
}
