package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/caffeineduck/gosnip/executor"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for code execution",
	Long: `Start an HTTP server that provides REST endpoints for code execution.

Runs are serialized: concurrent requests wait for the single worker.

Endpoints:
  POST   /execute              Execute a snippet
                               {"code":"...","timeout_ms":5000,"memory_percent":50}
  GET    /health               Health check
  GET    /metrics              Prometheus metrics`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().Float64("rate", 5, "Requests per second allowed per client IP")
	serveCmd.Flags().Int("burst", 10, "Burst size per client IP")
	serveCmd.Flags().StringSlice("trusted-proxy", nil, "Proxy address or CIDR whose X-Forwarded-For is honoured (repeatable)")
	addExecutionFlags(serveCmd)
	rootCmd.AddCommand(serveCmd)
}

const maxRequestBody = 1 << 20

type executeRequest struct {
	Code          *string `json:"code"`
	TimeoutMs     int64   `json:"timeout_ms,omitempty"`
	MemoryPercent int     `json:"memory_percent,omitempty"`
}

type executeResponse struct {
	Report     string `json:"report"`
	Kind       string `json:"kind"`
	SessionID  string `json:"session_id,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

type server struct {
	gov     *executor.Governor
	limiter *rateLimiter
	log     zerolog.Logger

	timeoutMs int64
	percent   int
}

func (s *server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/execute", s.limiter.middleware(s.handleExecute))
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req executeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	// An empty snippet is valid; only a missing field is rejected.
	if req.Code == nil {
		http.Error(w, "code required", http.StatusBadRequest)
		return
	}

	timeoutMs := req.TimeoutMs
	if timeoutMs == 0 {
		timeoutMs = s.timeoutMs
	}
	percent := req.MemoryPercent
	if percent == 0 {
		percent = s.percent
	}

	requestID := uuid.NewString()
	w.Header().Set("X-Request-ID", requestID)

	out := s.gov.Run(r.Context(), *req.Code, timeoutMs, percent)

	s.log.Info().
		Str("request", requestID).
		Str("session", out.SessionID).
		Str("outcome", out.Kind.String()).
		Str("remote", s.limiter.clientIP(r)).
		Msg("execute")

	status := http.StatusOK
	var verr *executor.ValidationError
	if errors.As(out.Err, &verr) {
		status = http.StatusBadRequest
		if errors.Is(out.Err, executor.ErrShutdown) {
			status = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(executeResponse{
		Report:     out.Report(),
		Kind:       out.Kind.String(),
		SessionID:  out.SessionID,
		DurationMs: out.Duration.Milliseconds(),
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

func runServe(cmd *cobra.Command, args []string) error {
	port := cfg.Server.Port
	if cmd.Flags().Changed("port") {
		port, _ = cmd.Flags().GetInt("port")
	}
	rps := cfg.Server.Rate
	if cmd.Flags().Changed("rate") {
		rps, _ = cmd.Flags().GetFloat64("rate")
	}
	burst := cfg.Server.Burst
	if cmd.Flags().Changed("burst") {
		burst, _ = cmd.Flags().GetInt("burst")
	}

	proxies := cfg.Server.TrustedProxies
	if cmd.Flags().Changed("trusted-proxy") {
		proxies, _ = cmd.Flags().GetStringSlice("trusted-proxy")
	}
	trusted, err := parseTrustedProxies(proxies)
	if err != nil {
		return err
	}

	timeoutMs, percent := executionLimits(cmd)
	heap, _ := cmd.Flags().GetString("heap")

	gov, cleanup, err := buildGovernor(parseMemoryLimit(heap))
	if err != nil {
		return err
	}
	defer cleanup()

	s := &server{
		gov:       gov,
		limiter:   newRateLimiter(rps, burst, trusted...),
		log:       logger,
		timeoutMs: timeoutMs,
		percent:   percent,
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.limiter.prune(10 * time.Minute)
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("gosnip server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := shutdownContext()
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	return nil
}
