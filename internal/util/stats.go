package util

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide signaling counter.
var Stats = newStats()

// Registry holds the prometheus mirror of Stats.
var Registry = prometheus.NewRegistry()

type stats struct {
	StanzasSent    atomic.Int64 // stanzas handed to the transport
	StanzasRecv    atomic.Int64 // stanzas read from the transport
	Dropped        atomic.Int64 // inbound stanzas dropped as protocol violations
	DecodeWarnings atomic.Int64 // candidates or payloads skipped while decoding
	Started        atomic.Int64 // negotiations created, either role
	Accepted       atomic.Int64 // negotiations that reached Accepted
	Terminated     atomic.Int64 // negotiations that returned to Idle

	sentCounter       prometheus.Counter
	recvCounter       prometheus.Counter
	droppedCounter    prometheus.Counter
	warningCounter    prometheus.Counter
	negotiationsTotal *prometheus.CounterVec
}

func newStats() *stats {
	f := promauto.With(Registry)
	return &stats{
		sentCounter: f.NewCounter(prometheus.CounterOpts{
			Namespace: "jinglesig",
			Name:      "stanzas_sent_total",
			Help:      "Total number of stanzas sent",
		}),
		recvCounter: f.NewCounter(prometheus.CounterOpts{
			Namespace: "jinglesig",
			Name:      "stanzas_received_total",
			Help:      "Total number of stanzas received",
		}),
		droppedCounter: f.NewCounter(prometheus.CounterOpts{
			Namespace: "jinglesig",
			Name:      "stanzas_dropped_total",
			Help:      "Total number of inbound stanzas dropped",
		}),
		warningCounter: f.NewCounter(prometheus.CounterOpts{
			Namespace: "jinglesig",
			Name:      "decode_warnings_total",
			Help:      "Total number of malformed candidates or payloads skipped",
		}),
		negotiationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jinglesig",
			Name:      "negotiations_total",
			Help:      "Negotiation lifecycle transitions by outcome",
		}, []string{"outcome"}),
	}
}

func (s *stats) AddSent() {
	s.StanzasSent.Add(1)
	s.sentCounter.Inc()
}

func (s *stats) AddRecv() {
	s.StanzasRecv.Add(1)
	s.recvCounter.Inc()
}

func (s *stats) AddDropped() {
	s.Dropped.Add(1)
	s.droppedCounter.Inc()
}

func (s *stats) AddWarnings(n int) {
	if n <= 0 {
		return
	}
	s.DecodeWarnings.Add(int64(n))
	s.warningCounter.Add(float64(n))
}

func (s *stats) AddStarted() {
	s.Started.Add(1)
	s.negotiationsTotal.WithLabelValues("started").Inc()
}

func (s *stats) AddAccepted() {
	s.Accepted.Add(1)
	s.negotiationsTotal.WithLabelValues("accepted").Inc()
}

func (s *stats) AddTerminated() {
	s.Terminated.Add(1)
	s.negotiationsTotal.WithLabelValues("terminated").Inc()
}

// MetricsHandler serves the prometheus mirror of Stats.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs signaling statistics
// every interval. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prev snapshot
		for {
			select {
			case <-ticker.C:
				cur := takeSnapshot()
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(cur.sub(prev), interval))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

type snapshot struct {
	sent, recv, dropped, warnings, started, accepted, terminated int64
}

func takeSnapshot() snapshot {
	return snapshot{
		sent:       Stats.StanzasSent.Load(),
		recv:       Stats.StanzasRecv.Load(),
		dropped:    Stats.Dropped.Load(),
		warnings:   Stats.DecodeWarnings.Load(),
		started:    Stats.Started.Load(),
		accepted:   Stats.Accepted.Load(),
		terminated: Stats.Terminated.Load(),
	}
}

func (s snapshot) sub(o snapshot) snapshot {
	return snapshot{
		sent:       s.sent - o.sent,
		recv:       s.recv - o.recv,
		dropped:    s.dropped - o.dropped,
		warnings:   s.warnings - o.warnings,
		started:    s.started - o.started,
		accepted:   s.accepted - o.accepted,
		terminated: s.terminated - o.terminated,
	}
}

// formatRate formats a per-second rate with a fixed width of 6 chars,
// for example: "  0.0", " 12.5", "999.9".
func formatRate(n int64, interval time.Duration) string {
	secs := interval.Seconds()
	if secs <= 0 {
		secs = 1
	}
	return fmt.Sprintf("%5.1f", float64(n)/secs)
}

// formatStats returns a formatted string of a stats delta for display in the logger.
func formatStats(d snapshot, interval time.Duration) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Drop: %2d | Warn: %2d | Sessions: %2d+ %2d✓ %2d✗",
		formatRate(d.recv, interval),
		formatRate(d.sent, interval),
		d.dropped,
		d.warnings,
		d.started,
		d.accepted,
		d.terminated,
	)
}
