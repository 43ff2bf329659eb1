// Package metrics exposes Prometheus counters for received, routed and
// delivered messages, and serves them over HTTP.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shineum/mail2beyond/connector"
)

// Delivery results.
const (
	ResultDelivered = "delivered"
	ResultInvalid   = "invalid"
	ResultFailed    = "failed"
)

var (
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail2beyond_messages_received_total",
			Help: "Messages accepted at DATA, per listener.",
		},
		[]string{
			"listener", // address:port
		},
	)
	MessagesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail2beyond_messages_routed_total",
			Help: "Messages routed to a connector by the mapping table.",
		},
		[]string{
			"listener",
			"connector",
		},
	)
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail2beyond_deliveries_total",
			Help: "Connector delivery results. Result values: delivered, invalid, failed.",
		},
		[]string{
			"connector",
			"result",
		},
	)
	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mail2beyond_delivery_duration_seconds",
			Help:    "Connector validate and execute duration in seconds.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.100, 0.5, 1, 5, 10, 20, 30, 60},
		},
		[]string{
			"connector",
		},
	)
)

// Result classifies the error returned by connector.Instance.Deliver.
func Result(err error) string {
	var vErr *connector.ValidationError
	switch {
	case err == nil:
		return ResultDelivered
	case errors.As(err, &vErr):
		return ResultInvalid
	default:
		return ResultFailed
	}
}

// ObserveDelivery records one delivery attempt.
func ObserveDelivery(connectorName string, err error, d time.Duration) {
	Deliveries.WithLabelValues(connectorName, Result(err)).Inc()
	DeliveryDuration.WithLabelValues(connectorName).Observe(d.Seconds())
}

// Serve exposes /metrics on addr until ctx is cancelled. The listener is
// bound before Serve returns so a bad address fails startup.
func Serve(ctx context.Context, addr string, log *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for metrics on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		log.Info("metrics endpoint listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", "error", err)
		}
	}()

	return nil
}
