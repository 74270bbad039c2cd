package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/nomenclature-crawler/internal/crawler"
	"github.com/JakeFAU/nomenclature-crawler/internal/metrics"
	"github.com/JakeFAU/nomenclature-crawler/internal/progress"
)

// Controller is the command surface the server drives.
type Controller interface {
	Status() crawler.Status
	Countries() crawler.CountryList
	Sections(ctx context.Context) ([]crawler.SectionSummary, error)
	SetCountry(ctx context.Context, code, label string) (crawler.CountryChange, error)
	Start(ctx context.Context, opts crawler.StartOptions) error
	Resume(ctx context.Context) error
	Clear(ctx context.Context)
}

// Subscriber provides the status event stream.
type Subscriber interface {
	Subscribe(buffer int) (<-chan progress.Event, func())
}

// Options configures a Server.
type Options struct {
	AuthEnabled bool
	APIKey      string
	// RequestTimeout bounds every route except the event stream.
	RequestTimeout time.Duration
	// Heartbeat is the keep-alive interval of the event stream.
	Heartbeat time.Duration
}

// Server wires HTTP handlers to the crawl controller.
type Server struct {
	router  chi.Router
	ctrl    Controller
	events  Subscriber
	runCtx  context.Context
	opts    Options
	logger  *zap.Logger
	readyFn func() error
}

// NewServer constructs a Server with middleware and routes. Runs started via
// the API are bound to runCtx rather than to the request. events may be nil,
// in which case /v1/events is not served.
func NewServer(runCtx context.Context, ctrl Controller, events Subscriber, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	metrics.Init()
	s := &Server{
		ctrl:   ctrl,
		events: events,
		runCtx: runCtx,
		opts:   opts,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.AuthEnabled {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		if events != nil {
			r.Get("/events", s.streamEvents)
		}
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(opts.RequestTimeout))
			r.Get("/status", s.getStatus)
			r.Get("/countries", s.getCountries)
			r.Get("/sections", s.getSections)
			r.Post("/country", s.setCountry)
			r.Post("/start", s.start)
			r.Post("/resume", s.resume)
			r.Post("/clear", s.clear)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetReadiness installs a readiness probe; nil means always ready.
func (s *Server) SetReadiness(fn func() error) {
	s.readyFn = fn
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.readyFn != nil {
		if err := s.readyFn(); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "ready"})
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{OK: true, Status: s.ctrl.Status()})
}

func (s *Server) getCountries(w http.ResponseWriter, _ *http.Request) {
	list := s.ctrl.Countries()
	writeJSON(w, http.StatusOK, countriesResponse{
		OK:        true,
		Countries: list.Countries,
		Selected:  list.Selected,
		Label:     list.Label,
	})
}

func (s *Server) getSections(w http.ResponseWriter, r *http.Request) {
	sections, err := s.ctrl.Sections(r.Context())
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			status = http.StatusRequestTimeout
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sectionsResponse{OK: true, Sections: sections})
}

func (s *Server) setCountry(w http.ResponseWriter, r *http.Request) {
	var req countryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	change, err := s.ctrl.SetCountry(s.runCtx, req.CountryCode, req.Label)
	if err != nil {
		if errors.Is(err, crawler.ErrCountryRequired) {
			writeError(w, http.StatusBadRequest, "countryCode is required.")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, countryResponse{OK: true, Changed: change.Changed, Country: change.Country})
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	opts := crawler.StartOptions{SectionKey: strings.TrimSpace(req.SectionKey), Restart: req.Restart}
	if err := s.ctrl.Start(s.runCtx, opts); err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{OK: true, Message: "Scraping started."})
}

func (s *Server) resume(w http.ResponseWriter, _ *http.Request) {
	if err := s.ctrl.Resume(s.runCtx); err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{OK: true, Message: "Resume requested."})
}

func (s *Server) clear(w http.ResponseWriter, _ *http.Request) {
	s.ctrl.Clear(s.runCtx)
	writeJSON(w, http.StatusOK, messageResponse{OK: true})
}

func (s *Server) writeCommandError(w http.ResponseWriter, err error) {
	if errors.Is(err, crawler.ErrAlreadyRunning) {
		writeError(w, http.StatusConflict, "Crawl already running.")
		return
	}
	s.logger.Warn("command failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, err.Error())
}

// decodeBody accepts an empty body as the zero request.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", reqID),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"ok":false,"error":"request timed out"}`)
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{OK: false, Error: msg})
}
