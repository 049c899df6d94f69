package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Prescription workflow metrics
	workflowSessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prescription_sessions_started_total",
			Help: "Total number of prescription sessions opened",
		},
	)

	workflowTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prescription_step_transitions_total",
			Help: "Total number of workflow step transitions",
		},
		[]string{"from", "to"},
	)

	eligibilityChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "protocol_eligibility_checks_total",
			Help: "Total number of protocol eligibility checks",
		},
		[]string{"result"},
	)

	validationChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinical_validation_checks_total",
			Help: "Total number of clinical validation checks by outcome",
		},
		[]string{"kind", "outcome"},
	)

	treatmentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treatments_created_total",
			Help: "Total number of treatment creation attempts",
		},
		[]string{"status"},
	)

	// Collaborator metrics
	collaboratorRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collaborator_requests_total",
			Help: "Total number of requests to external collaborators",
		},
		[]string{"collaborator", "operation", "status"},
	)

	collaboratorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collaborator_request_duration_seconds",
			Help:    "External collaborator request duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"collaborator"},
	)

	medicineCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "medicine_reference_cache_size",
			Help: "Number of medicines currently in the reference cache",
		},
	)

	auditEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_entries_total",
			Help: "Total number of audit entries appended",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath collapses UUID path segments to keep label cardinality bounded
func normalizePath(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		if len(s) == 36 && strings.Count(s, "-") == 4 {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}

// --- Business metric helpers ---

// RecordSessionStarted records a new prescription session
func RecordSessionStarted() {
	workflowSessionsStarted.Inc()
}

// RecordTransition records a workflow step transition
func RecordTransition(from, to string) {
	workflowTransitions.WithLabelValues(from, to).Inc()
}

// RecordEligibilityCheck records an eligibility verdict:
// "accepted", "rejected" or "error".
func RecordEligibilityCheck(result string) {
	eligibilityChecks.WithLabelValues(result).Inc()
}

// RecordValidationCheck records a clinical check outcome:
// "passed", "failed" or "omitted" (the check could not run).
func RecordValidationCheck(kind, outcome string) {
	validationChecks.WithLabelValues(kind, outcome).Inc()
}

// RecordTreatmentCreated records a treatment creation attempt
func RecordTreatmentCreated(status string) {
	treatmentsCreated.WithLabelValues(status).Inc()
}

// RecordCollaboratorRequest records a request to an external collaborator
func RecordCollaboratorRequest(collaborator, operation, status string, duration time.Duration) {
	collaboratorRequests.WithLabelValues(collaborator, operation, status).Inc()
	collaboratorDuration.WithLabelValues(collaborator).Observe(duration.Seconds())
}

// RecordMedicineCacheSize records the reference cache size
func RecordMedicineCacheSize(count int) {
	medicineCacheSize.Set(float64(count))
}

// RecordAuditEntry records an audit entry append
func RecordAuditEntry() {
	auditEntriesTotal.Inc()
}
