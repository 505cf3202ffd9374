package api

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// listMetrics times one list request and logs it when the handler returns.
type listMetrics struct {
	logger *log.Logger
	start  time.Time
	fetch  time.Duration
	encode time.Duration
	todos  int
	stage  string
}

func startListMetrics(logger *log.Logger) *listMetrics {
	return &listMetrics{logger: logger, start: time.Now()}
}

func (m *listMetrics) fetched(d time.Duration, todos int) {
	m.fetch, m.todos = d, todos
}

func (m *listMetrics) encoded(d time.Duration) { m.encode = d }

func (m *listMetrics) failed(stage string) { m.stage = stage }

func (m *listMetrics) log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}
	fields := log.Fields{
		"status":         status,
		"total_ms":       millis(time.Since(m.start)),
		"todos_returned": m.todos,
	}
	if m.fetch > 0 {
		fields["fetch_ms"] = millis(m.fetch)
	}
	if m.encode > 0 {
		fields["encode_ms"] = millis(m.encode)
	}
	if m.stage != "" {
		fields["error_stage"] = m.stage
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.logger.WithFields(fields).Info("todos.list.metrics")
}

// Reasons a live stream ended.
const (
	endClientGone  = "client_gone"
	endFeedClosed  = "feed_closed"
	endWriteFailed = "write_failed"
)

// streamMetrics counts what one live stream delivered over its lifetime.
type streamMetrics struct {
	logger     *log.Logger
	transport  string
	start      time.Time
	snapshots  int
	keepalives int
	lastTodos  int
}

func startStreamMetrics(logger *log.Logger, transport string) *streamMetrics {
	return &streamMetrics{logger: logger, transport: transport, start: time.Now()}
}

func (m *streamMetrics) sent(todos int) {
	m.snapshots++
	m.lastTodos = todos
}

func (m *streamMetrics) keptAlive() { m.keepalives++ }

func (m *streamMetrics) log(end string) {
	if m == nil || m.logger == nil {
		return
	}
	m.logger.WithFields(log.Fields{
		"transport":   m.transport,
		"end":         end,
		"duration_ms": millis(time.Since(m.start)),
		"snapshots":   m.snapshots,
		"keepalives":  m.keepalives,
		"todos_last":  m.lastTodos,
	}).Info("todos.stream.metrics")
}

func millis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
