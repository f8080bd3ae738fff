package jobs

import (
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values
const (
	outcomeSuccess          = "success"
	outcomeClaimed          = "claimed"
	outcomeEmpty            = "empty"
	outcomeClaimLost        = "claim_lost"
	outcomeNotFound         = "not_found"
	outcomeAlreadyCompleted = "already_completed"
	outcomeInvalid          = "invalid"
	outcomeError            = "error"
)

var (
	jobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monjobs_jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"queue"},
	)

	jobsTakenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monjobs_jobs_take_total",
			Help: "Total number of take-next attempts by outcome",
		},
		[]string{"queue", "outcome"},
	)

	jobsAcknowledgmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monjobs_jobs_acknowledgments_total",
			Help: "Total number of explicit acknowledgment attempts by outcome",
		},
		[]string{"queue", "outcome"},
	)

	jobsReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monjobs_jobs_reports_total",
			Help: "Total number of progress reports appended",
		},
		[]string{"queue"},
	)

	jobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monjobs_jobs_completions_total",
			Help: "Total number of completion attempts by outcome",
		},
		[]string{"queue", "outcome"},
	)

	jobsInvalidQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monjobs_jobs_invalid_queries_total",
			Help: "Total number of rejected ad-hoc query documents",
		},
		[]string{"queue"},
	)

	jobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monjobs_jobs_processed_total",
			Help: "Total number of jobs processed by workers",
		},
		[]string{"queue", "status"},
	)

	jobsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "monjobs_jobs_inflight",
			Help: "Current number of claimed jobs being processed by workers",
		},
		[]string{"queue"},
	)
)

// Collectors returns the job metrics so they can be exposed on a dedicated registry.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		jobsEnqueuedTotal,
		jobsTakenTotal,
		jobsAcknowledgmentsTotal,
		jobsReportsTotal,
		jobsCompletedTotal,
		jobsInvalidQueriesTotal,
		jobsProcessedTotal,
		jobsInFlight,
	}
}

func recordJobEnqueued(queue QueueID) {
	jobsEnqueuedTotal.WithLabelValues(queueLabel(queue)).Inc()
}

func recordTake(queue QueueID, outcome string) {
	jobsTakenTotal.WithLabelValues(queueLabel(queue), outcome).Inc()
}

func recordAcknowledgment(queue QueueID, outcome string) {
	jobsAcknowledgmentsTotal.WithLabelValues(queueLabel(queue), outcome).Inc()
}

func recordReport(queue QueueID) {
	jobsReportsTotal.WithLabelValues(queueLabel(queue)).Inc()
}

func recordCompletion(queue QueueID, outcome string) {
	jobsCompletedTotal.WithLabelValues(queueLabel(queue), outcome).Inc()
}

func recordInvalidQuery(queue QueueID, err error) {
	if errors.Is(err, ErrInvalidQuery) {
		jobsInvalidQueriesTotal.WithLabelValues(queueLabel(queue)).Inc()
	}
}

func recordJobProcessed(queue QueueID, status string) {
	jobsProcessedTotal.WithLabelValues(queueLabel(queue), normalizeMetricLabel(status, "unknown")).Inc()
}

func incrementJobInFlight(queue QueueID) {
	jobsInFlight.WithLabelValues(queueLabel(queue)).Inc()
}

func decrementJobInFlight(queue QueueID) {
	jobsInFlight.WithLabelValues(queueLabel(queue)).Dec()
}

func errorOutcome(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return outcomeNotFound
	case errors.Is(err, ErrAlreadyCompleted):
		return outcomeAlreadyCompleted
	case errors.Is(err, ErrInvalidQuery), errors.Is(err, ErrValidation):
		return outcomeInvalid
	default:
		return outcomeError
	}
}

func queueLabel(queue QueueID) string {
	return normalizeMetricLabel(string(queue), "unknown")
}

func normalizeMetricLabel(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
