// Package metrics exposes Prometheus instrumentation for the streaming service.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics contains all Prometheus metrics for mjpegcast.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Stream metrics
	SessionsTotal  prometheus.Counter
	ActiveSessions prometheus.Gauge
	FramesSent     prometheus.Counter
	BytesSent      prometheus.Counter
	FrameBytes     prometheus.Histogram
	SessionErrors  *prometheus.CounterVec
	AcceptErrors   prometheus.Counter

	// Discovery metrics
	BeaconSends     *prometheus.CounterVec
	BeaconsReceived prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates and registers all metrics on reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "mjpegcast_sessions_total",
			Help: "Total number of accepted streaming sessions",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "mjpegcast_active_sessions",
			Help: "Number of streaming sessions currently open (0 or 1)",
		}),
		FramesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "mjpegcast_frames_sent_total",
			Help: "Total number of multipart JPEG frames written to clients",
		}),
		BytesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "mjpegcast_bytes_sent_total",
			Help: "Total number of bytes written to streaming clients",
		}),
		FrameBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mjpegcast_frame_bytes",
			Help:    "Encoded frame size in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 10),
		}),
		SessionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mjpegcast_session_errors_total",
			Help: "Sessions ended, by reason",
		}, []string{"reason"}),
		AcceptErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "mjpegcast_accept_errors_total",
			Help: "Total number of failed accept calls",
		}),
		BeaconSends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mjpegcast_beacon_sends_total",
			Help: "Discovery beacon send attempts, by result",
		}, []string{"result"}),
		BeaconsReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "mjpegcast_beacons_received_total",
			Help: "Discovery beacons accepted by the watcher",
		}),
		gatherer: reg,
	}
}

// SessionStarted records a newly accepted client.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
	m.ActiveSessions.Inc()
}

// SessionEnded records the end of a session with its reason.
func (m *Metrics) SessionEnded(reason string) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.SessionErrors.WithLabelValues(reason).Inc()
}

// FrameSent records one multipart chunk of n frame bytes and total wire bytes.
func (m *Metrics) FrameSent(frameLen, wireLen int) {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
	m.BytesSent.Add(float64(wireLen))
	m.FrameBytes.Observe(float64(frameLen))
}

// AcceptFailed records a failed accept.
func (m *Metrics) AcceptFailed() {
	if m == nil {
		return
	}
	m.AcceptErrors.Inc()
}

// BeaconSent records a beacon attempt outcome.
func (m *Metrics) BeaconSent(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.BeaconSends.WithLabelValues(result).Inc()
}

// BeaconReceived records a valid beacon seen by the watcher.
func (m *Metrics) BeaconReceived() {
	if m == nil {
		return
	}
	m.BeaconsReceived.Inc()
}

// Serve runs a /metrics HTTP endpoint on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("Metrics endpoint started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
