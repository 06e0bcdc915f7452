package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/bom-stat-service/internal/domain"
)

// Full-history archives can take minutes to download and normalize.
const writeTimeout = 5 * time.Minute

// StatsService produces normalized records for an observation request.
// It is implemented by pipeline.Pipeline.
type StatsService interface {
	GetDailyStats(ctx context.Context, req domain.ObservationRequest) ([]domain.Record, error)
	GetMonthlyStats(ctx context.Context, req domain.ObservationRequest) ([]domain.Record, error)
}

// Server exposes the observation API plus health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	stats      StatsService
	logger     *slog.Logger
}

// NewServer creates an HTTP server with the /api/v1 routes, /healthz, /readyz, and /metrics.
func NewServer(addr string, stats StatsService, ready sharedobs.ReadinessChecker, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: writeTimeout,
			IdleTimeout:  60 * time.Second,
		},
		stats:  stats,
		logger: logger,
	}

	mux.HandleFunc("GET /api/v1/stations/{station}/daily", s.handleStats(domain.Daily))
	mux.HandleFunc("GET /api/v1/stations/{station}/monthly", s.handleStats(domain.Monthly))
	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type statsResponse struct {
	Station     string             `json:"station"`
	Granularity domain.Granularity `json:"granularity"`
	Metric      domain.Metric      `json:"metric"`
	Year        *int               `json:"year"`
	Count       int                `json:"count"`
	Records     []domain.Record    `json:"records"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleStats(g domain.Granularity) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := parseRequest(r, g)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}

		var records []domain.Record
		if g == domain.Monthly {
			req.Year = nil
			records, err = s.stats.GetMonthlyStats(r.Context(), req)
		} else {
			records, err = s.stats.GetDailyStats(r.Context(), req)
		}
		if err != nil {
			status := statusFor(err)
			if status >= http.StatusInternalServerError {
				s.logger.Error("stats request failed", "station", req.Station, "granularity", string(g), "status", status, "error", err)
			}
			writeJSON(w, status, errorResponse{Error: err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, statsResponse{
			Station:     req.Station,
			Granularity: g,
			Metric:      req.Metric,
			Year:        req.Year,
			Count:       len(records),
			Records:     records,
		})
	}
}

func parseRequest(r *http.Request, g domain.Granularity) (domain.ObservationRequest, error) {
	q := r.URL.Query()

	if !q.Has("metric") {
		return domain.ObservationRequest{}, errors.New("metric query parameter is required")
	}
	metric, err := domain.ParseMetric(q.Get("metric"))
	if err != nil {
		return domain.ObservationRequest{}, err
	}

	req := domain.ObservationRequest{
		Station:     r.PathValue("station"),
		Granularity: g,
		Metric:      metric,
	}

	if raw := q.Get("year"); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			return domain.ObservationRequest{}, fmt.Errorf("year must be an integer: %q", raw)
		}
		req.Year = &year
	}

	if err := req.Validate(); err != nil {
		return domain.ObservationRequest{}, err
	}
	return req, nil
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	var (
		notFound *domain.StationNotFoundError
		upstream *domain.UpstreamUnavailableError
		archive  *domain.ArchiveFormatError
		parse    *domain.ParseError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &upstream), errors.As(err, &archive), errors.As(err, &parse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have gone away
}
