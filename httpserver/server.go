package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/trustnet/centerconf/metrics"
	"go.uber.org/atomic"
)

type HTTPServerConfig struct {
	ListenAddr  string
	MetricsAddr string
	EnablePprof bool
	Log         *slog.Logger

	DrainDuration            time.Duration
	GracefulShutdownDuration time.Duration
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
}

type Server struct {
	cfg     *HTTPServerConfig
	isReady atomic.Bool
	log     *slog.Logger

	srv        *http.Server
	metricsSrv *metrics.MetricsServer
	handler    *Handler
}

func New(cfg *HTTPServerConfig, handler *Handler) (srv *Server, err error) {
	var metricsSrv *metrics.MetricsServer
	if cfg.MetricsAddr != "" {
		metricsSrv = metrics.New(cfg.MetricsAddr)
	}

	srv = &Server{
		cfg:        cfg,
		log:        cfg.Log,
		srv:        nil,
		metricsSrv: metricsSrv,
		handler:    handler,
	}
	srv.isReady.Store(true)

	srv.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.getRouter(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return srv, nil
}

func (srv *Server) getRouter() http.Handler {
	mux := chi.NewRouter()

	// Configuration sources and signing keys
	mux.With(srv.httpLogger).Get("/api/sources/{kind}", srv.handler.HandleSourceView)
	mux.With(srv.httpLogger).Post("/api/sources/{kind}/anchor", srv.handler.HandleRegenerateAnchor)
	mux.With(srv.httpLogger).Get("/api/sources/{kind}/anchor", srv.handler.HandleDownloadAnchor)
	mux.With(srv.httpLogger).Post("/api/sources/{kind}/keys", srv.handler.HandleGenerateKey)
	mux.With(srv.httpLogger).Put("/api/keys/{key_id}/activate", srv.handler.HandleActivateKey)
	mux.With(srv.httpLogger).Delete("/api/keys/{key_id}", srv.handler.HandleDeleteKey)
	mux.With(srv.httpLogger).Get("/api/tokens", srv.handler.HandleListTokens)
	mux.With(srv.httpLogger).Put("/api/tokens/{token_id}/login", srv.handler.HandleLoginToken)
	mux.With(srv.httpLogger).Put("/api/tokens/{token_id}/logout", srv.handler.HandleLogoutToken)

	// Configuration parts
	mux.With(srv.httpLogger).Post("/api/sources/{kind}/parts/{content_identifier}", srv.handler.HandleUploadPart)
	mux.With(srv.httpLogger).Get("/api/parts", srv.handler.HandleListParts)
	mux.With(srv.httpLogger).Get("/api/parts/{content_identifier}/download", srv.handler.HandleDownloadPart)

	// Trusted anchors
	mux.With(srv.httpLogger).Post("/api/trusted-anchors/preview", srv.handler.HandlePreviewTrustedAnchor)
	mux.With(srv.httpLogger).Post("/api/trusted-anchors/confirm", srv.handler.HandleConfirmTrustedAnchor)
	mux.With(srv.httpLogger).Post("/api/trusted-anchors/cancel", srv.handler.HandleCancelTrustedAnchor)
	mux.With(srv.httpLogger).Get("/api/trusted-anchors", srv.handler.HandleListTrustedAnchors)
	mux.With(srv.httpLogger).Get("/api/trusted-anchors/{instance}/download", srv.handler.HandleDownloadTrustedAnchor)
	mux.With(srv.httpLogger).Delete("/api/trusted-anchors/{instance}", srv.handler.HandleDeleteTrustedAnchor)

	// System settings and HA cluster
	mux.With(srv.httpLogger).Put("/api/system/central-addresses", srv.handler.HandleSetCentralAddresses)
	mux.With(srv.httpLogger).Get("/api/cluster/status", srv.handler.HandleClusterStatus)

	// Health and diagnostic endpoints
	mux.With(srv.httpLogger).Get("/livez", srv.handleLivenessCheck)
	mux.With(srv.httpLogger).Get("/readyz", srv.handleReadinessCheck)
	mux.With(srv.httpLogger).Get("/drain", srv.handleDrain)
	mux.With(srv.httpLogger).Get("/undrain", srv.handleUndrain)

	if srv.cfg.EnablePprof {
		srv.log.Info("pprof API enabled")
		mux.Mount("/debug", middleware.Profiler())
	}
	return mux
}

func (srv *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(srv.log, next)
}

func (srv *Server) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"alive"}`))
}

func (srv *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !srv.isReady.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"not ready"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func (srv *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if !srv.isReady.Swap(false) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"already draining"}`))
		return
	}

	srv.log.Info("Server marked as not ready")

	go func() {
		// Wait for the drain duration to allow load balancers to detect the change
		time.Sleep(srv.cfg.DrainDuration)
		srv.log.Info("Drain period completed")
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"draining"}`))
}

func (srv *Server) handleUndrain(w http.ResponseWriter, r *http.Request) {
	if srv.isReady.Swap(true) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"already ready"}`))
		return
	}

	srv.log.Info("Server marked as ready")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func (srv *Server) RunInBackground() {
	// metrics
	if srv.metricsSrv != nil {
		go func() {
			srv.log.With("metricsAddress", srv.cfg.MetricsAddr).Info("Starting metrics server")
			err := srv.metricsSrv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				srv.log.Error("Metrics server failed", "err", err)
			}
		}()
	}

	// api
	go func() {
		srv.log.Info("Starting HTTP server", "listenAddress", srv.cfg.ListenAddr)
		if err := srv.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srv.log.Error("HTTP server failed", "err", err)
		}
	}()
}

func (srv *Server) Shutdown() {
	// api
	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := srv.srv.Shutdown(ctx); err != nil {
		srv.log.Error("Graceful HTTP server shutdown failed", "err", err)
	} else {
		srv.log.Info("HTTP server gracefully stopped")
	}

	// metrics
	if srv.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
		defer cancel()

		if err := srv.metricsSrv.Shutdown(ctx); err != nil {
			srv.log.Error("Graceful metrics server shutdown failed", "err", err)
		} else {
			srv.log.Info("Metrics server gracefully stopped")
		}
	}
}
