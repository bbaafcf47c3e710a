package engine

import "expvar"

// Metrics holds the engine's expvar counters. They are published under
// the given prefix and show up on the debug server's /metrics endpoint.
type Metrics struct {
	GetTotal         *expvar.Int
	PutTotal         *expvar.Int
	TouchTotal       *expvar.Int
	TTLTotal         *expvar.Int
	ExpiredFiltered  *expvar.Int
	BinsEvicted      *expvar.Int
	ValidationErrors *expvar.Int
	TransportErrors  *expvar.Int
}

// NewMetrics creates (or re-attaches to) the counters under prefix.
// Re-attaching keeps repeated engine construction in tests from
// tripping expvar's duplicate-name panic.
func NewMetrics(prefix string) *Metrics {
	return &Metrics{
		GetTotal:         getOrCreateInt(prefix + "_get_total"),
		PutTotal:         getOrCreateInt(prefix + "_put_total"),
		TouchTotal:       getOrCreateInt(prefix + "_touch_total"),
		TTLTotal:         getOrCreateInt(prefix + "_ttl_total"),
		ExpiredFiltered:  getOrCreateInt(prefix + "_expired_filtered_total"),
		BinsEvicted:      getOrCreateInt(prefix + "_bins_evicted_total"),
		ValidationErrors: getOrCreateInt(prefix + "_validation_errors_total"),
		TransportErrors:  getOrCreateInt(prefix + "_transport_errors_total"),
	}
}

func getOrCreateInt(name string) *expvar.Int {
	if v, ok := expvar.Get(name).(*expvar.Int); ok {
		return v
	}
	return expvar.NewInt(name)
}
