package internal

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// Metrics counts relay activity. Exposed as a JSON endpoint rather than a
// full metrics stack; the relay is single-instance and this is enough to see
// what it is doing.
type Metrics struct {
	activeConns   atomic.Int64
	eventsTotal   atomic.Uint64
	messagesTotal atomic.Uint64
	droppedTotal  atomic.Uint64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncConn() {
	m.activeConns.Add(1)
}

func (m *Metrics) DecConn() {
	m.activeConns.Add(-1)
}

func (m *Metrics) IncEvent() {
	m.eventsTotal.Add(1)
}

func (m *Metrics) IncMessage() {
	m.messagesTotal.Add(1)
}

// IncDropped counts a delivery that was skipped because the recipient's send
// buffer was full.
func (m *Metrics) IncDropped() {
	m.droppedTotal.Add(1)
}

func (m *Metrics) Dropped() uint64 {
	return m.droppedTotal.Load()
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"active_connections":       m.activeConns.Load(),
		"events_total":             m.eventsTotal.Load(),
		"messages_total":           m.messagesTotal.Load(),
		"dropped_deliveries_total": m.droppedTotal.Load(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
