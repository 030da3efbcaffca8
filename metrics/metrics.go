// Package metrics exposes Prometheus metrics for the central configuration
// service on a dedicated listen address.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AnchorGenerations counts anchor regeneration attempts per source kind
	// and outcome ("ok" or "error").
	AnchorGenerations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "centerconf",
		Name:      "anchor_generations_total",
		Help:      "Configuration anchor generation attempts by source kind and result.",
	}, []string{"kind", "result"})

	// PartSubmissions counts configuration part uploads by outcome
	// ("accepted" or "rejected").
	PartSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "centerconf",
		Name:      "part_submissions_total",
		Help:      "Configuration part submissions by result.",
	}, []string{"result"})

	// TrustedAnchorImports counts confirmed trusted anchor imports.
	TrustedAnchorImports = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "centerconf",
		Name:      "trusted_anchor_imports_total",
		Help:      "Confirmed trusted anchor imports.",
	})

	// SignerGatewayErrors counts failed calls to the signer gateway.
	SignerGatewayErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "centerconf",
		Name:      "signer_gateway_errors_total",
		Help:      "Failed signer gateway calls.",
	})
)

// MetricsServer serves the Prometheus scrape endpoint.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server listening on listenAddr.
func New(listenAddr string) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:         listenAddr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
