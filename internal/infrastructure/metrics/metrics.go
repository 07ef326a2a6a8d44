// Package metrics exports Prometheus instrumentation for the command service
// and notification delivery.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/felixgeelhaar/taskstream/pkg/application"
	"github.com/felixgeelhaar/taskstream/pkg/domain/events"
)

const namespace = "taskstream"

// Recorder holds the collectors. It implements application.Observer.
type Recorder struct {
	commands   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	conflicts  *prometheus.CounterVec
	deliveries *prometheus.CounterVec
}

var _ application.Observer = (*Recorder)(nil)

// NewRecorder registers the collectors with reg. A nil reg uses the default
// registerer.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "total",
			Help:      "Commands handled by outcome",
		}, []string{"command", "outcome"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "duration_seconds",
			Help:      "Command latency including conflict retries",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"command"}),
		conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "conflicts_total",
			Help:      "Appends rejected by the expected version check",
		}, []string{"command"}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "deliveries_total",
			Help:      "Notification deliveries by adapter and result",
		}, []string{"adapter", "event_type", "result"}),
	}
}

func (r *Recorder) CommandHandled(command, outcome string, elapsed time.Duration) {
	r.commands.WithLabelValues(command, outcome).Inc()
	r.latency.WithLabelValues(command).Observe(elapsed.Seconds())
}

func (r *Recorder) ConflictRetried(command string) {
	r.conflicts.WithLabelValues(command).Inc()
}

// DeliveryObserved counts one delivery outcome.
func (r *Recorder) DeliveryObserved(d application.Delivery) {
	result := "ok"
	if d.Err != nil {
		result = "failed"
	}
	r.deliveries.WithLabelValues(d.Adapter, string(d.EventType), result).Inc()
}

// InstrumentNotifier counts every delivery n reports and passes it on.
func InstrumentNotifier(n application.Notifier, r *Recorder) application.Notifier {
	return &instrumentedNotifier{inner: n, rec: r}
}

type instrumentedNotifier struct {
	inner application.Notifier
	rec   *Recorder
}

func (n *instrumentedNotifier) Notify(ctx context.Context, c events.Committed) <-chan application.Delivery {
	in := n.inner.Notify(ctx, c)
	out := make(chan application.Delivery, cap(in))
	go func() {
		defer close(out)
		for d := range in {
			n.rec.DeliveryObserved(d)
			out <- d
		}
	}()
	return out
}
