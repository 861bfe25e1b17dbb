package api

import (
	"sync/atomic"
	"time"
)

// Metrics collects in-memory server metrics using atomic counters.
type Metrics struct {
	startTime         time.Time
	requests          atomic.Int64
	serverErrors      atomic.Int64
	clientErrors      atomic.Int64
	recordsWritten    atomic.Int64
	documentsUploaded atomic.Int64
	portraitsUploaded atomic.Int64
}

// MetricsSnapshot is a point-in-time view of server metrics.
type MetricsSnapshot struct {
	UptimeSeconds     float64 `json:"uptime_seconds"`
	Requests          int64   `json:"requests"`
	ServerErrors      int64   `json:"server_errors"`
	ClientErrors      int64   `json:"client_errors"`
	RecordsWritten    int64   `json:"records_written"`
	DocumentsUploaded int64   `json:"documents_uploaded"`
	PortraitsUploaded int64   `json:"portraits_uploaded"`
}

// NewMetrics creates a new Metrics instance with the current time as start.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordRequest increments the total request counter.
func (m *Metrics) RecordRequest() {
	m.requests.Add(1)
}

// RecordError increments the server error (5xx) counter.
func (m *Metrics) RecordError() {
	m.serverErrors.Add(1)
}

// RecordClientError increments the client error (4xx) counter.
func (m *Metrics) RecordClientError() {
	m.clientErrors.Add(1)
}

// RecordWrite counts a created or updated record.
func (m *Metrics) RecordWrite() {
	m.recordsWritten.Add(1)
}

// RecordDocument counts an uploaded document.
func (m *Metrics) RecordDocument() {
	m.documentsUploaded.Add(1)
}

// RecordPortrait counts an uploaded portrait.
func (m *Metrics) RecordPortrait() {
	m.portraitsUploaded.Add(1)
}

// Snapshot returns a point-in-time copy of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds:     time.Since(m.startTime).Seconds(),
		Requests:          m.requests.Load(),
		ServerErrors:      m.serverErrors.Load(),
		ClientErrors:      m.clientErrors.Load(),
		RecordsWritten:    m.recordsWritten.Load(),
		DocumentsUploaded: m.documentsUploaded.Load(),
		PortraitsUploaded: m.portraitsUploaded.Load(),
	}
}
