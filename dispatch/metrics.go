package dispatch

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// opMetrics accumulates per-operation timings and the outcome, emitted as
// one structured log line when the operation returns.
type opMetrics struct {
	logger     *log.Logger
	op         string
	taskID     string
	contractor string
	start      time.Time

	fetchDuration  time.Duration
	writeDuration  time.Duration
	fanoutDuration time.Duration

	outcome    string
	message    string
	errorStage string
	err        error
}

func newOpMetrics(logger *log.Logger, op, taskID, contractorID string) *opMetrics {
	return &opMetrics{
		logger:     logger,
		op:         op,
		taskID:     taskID,
		contractor: contractorID,
		start:      time.Now(),
	}
}

func (m *opMetrics) ObserveFetch(d time.Duration) {
	if d > 0 {
		m.fetchDuration = d
	}
}

func (m *opMetrics) ObserveWrite(d time.Duration) {
	if d > 0 {
		m.writeDuration = d
	}
}

func (m *opMetrics) ObserveFanout(d time.Duration) {
	if d > 0 {
		m.fanoutDuration = d
	}
}

// reject records a business-rule rejection and returns its Result.
func (m *opMetrics) reject(message string) Result {
	m.outcome = "rejected"
	m.message = message
	return Result{Message: message}
}

// fail records an infrastructure fault; the caller gets a generic message.
func (m *opMetrics) fail(stage string, err error) Result {
	m.outcome = "error"
	m.errorStage = stage
	m.err = err
	return Result{Message: msgGenericFailure}
}

func (m *opMetrics) ok(r Result) Result {
	m.outcome = "success"
	return r
}

func (m *opMetrics) Log() {
	if m == nil || m.logger == nil {
		return
	}
	fields := log.Fields{
		"op":         m.op,
		"task":       m.taskID,
		"contractor": m.contractor,
		"outcome":    m.outcome,
		"total_ms":   durationToMillis(time.Since(m.start)),
	}
	if m.fetchDuration > 0 {
		fields["fetch_ms"] = durationToMillis(m.fetchDuration)
	}
	if m.writeDuration > 0 {
		fields["write_ms"] = durationToMillis(m.writeDuration)
	}
	if m.fanoutDuration > 0 {
		fields["fanout_ms"] = durationToMillis(m.fanoutDuration)
	}
	if m.message != "" {
		fields["message"] = m.message
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}

	switch m.outcome {
	case "error":
		m.logger.WithError(m.err).WithFields(fields).Error("task.operation")
	case "rejected":
		m.logger.WithFields(fields).Warn("task.operation")
	default:
		m.logger.WithFields(fields).Info("task.operation")
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
