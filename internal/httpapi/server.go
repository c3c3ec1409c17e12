package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"jarvis/internal/assistant"
	"jarvis/internal/credentials"
	"jarvis/internal/ledger"
	"jarvis/internal/providers"
	"jarvis/internal/worker"
)

// Assistant is the control surface the API exposes.
type Assistant interface {
	Configure(ctx context.Context, name providers.Name, secret string) error
	Revoke(ctx context.Context, name providers.Name) error
	Status() assistant.Status
	Reset()
	History() []ledger.Turn
}

// Asker runs a turn through the single-consumer worker.
type Asker interface {
	Ask(ctx context.Context, utterance string, provider providers.Name) (string, error)
}

type Limiter interface {
	Allow(ctx context.Context, subject string, now time.Time) (allowed bool, used int64, resetAt time.Time, err error)
}

type Config struct {
	Assistant   Assistant
	Worker      Asker
	Limiter     Limiter
	Logger      zerolog.Logger
	HealthPath  string
	MetricsPath string
	// AdminToken guards configure, revoke, reset and history. Empty leaves them open,
	// which is only sensible on a loopback listener.
	AdminToken    string
	AnswerTimeout time.Duration
	Now           func() time.Time
}

type Server struct {
	assistant     Assistant
	worker        Asker
	limiter       Limiter
	logger        zerolog.Logger
	adminToken    string
	answerTimeout time.Duration
	now           func() time.Time
	mux           *http.ServeMux
}

func New(cfg Config) *Server {
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/healthz"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.AnswerTimeout <= 0 {
		cfg.AnswerTimeout = 2 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Server{
		assistant:     cfg.Assistant,
		worker:        cfg.Worker,
		limiter:       cfg.Limiter,
		logger:        cfg.Logger.With().Str("component", "httpapi").Logger(),
		adminToken:    cfg.AdminToken,
		answerTimeout: cfg.AnswerTimeout,
		now:           cfg.Now,
		mux:           http.NewServeMux(),
	}

	s.mux.HandleFunc("GET "+cfg.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.mux.Handle("GET "+cfg.MetricsPath, promhttp.Handler())
	s.mux.HandleFunc("POST /v1/answer", s.answer)
	s.mux.HandleFunc("GET /v1/status", s.status)
	s.mux.HandleFunc("GET /v1/history", s.admin(s.history))
	s.mux.HandleFunc("POST /v1/configure", s.admin(s.configure))
	s.mux.HandleFunc("DELETE /v1/credentials/{provider}", s.admin(s.revoke))
	s.mux.HandleFunc("POST /v1/reset", s.admin(s.reset))
	return s
}

// ServeHTTP tags every request with an id and logs it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := r.Header.Get("X-Request-Id")
	if reqID == "" {
		reqID = uuid.NewString()
	}
	w.Header().Set("X-Request-Id", reqID)

	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)
	s.logger.Debug().
		Str("request_id", reqID).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", rec.status).
		Dur("elapsed", time.Since(start)).
		Msg("request")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

type answerRequest struct {
	Text     string `json:"text"`
	Provider string `json:"provider,omitempty"`
}

type answerResponse struct {
	Answer string `json:"answer"`
}

func (s *Server) answer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.allow(w, r) {
		return
	}

	explicit := providers.Name("")
	if p := strings.TrimSpace(req.Provider); p != "" {
		if name, err := providers.ParseName(p); err == nil {
			explicit = name
		} else {
			// Unknown names still reach the router, which renders the diagnostic.
			explicit = providers.Name(strings.ToLower(p))
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.answerTimeout)
	defer cancel()
	text, err := s.worker.Ask(ctx, req.Text, explicit)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, answerResponse{Answer: text})
	case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusGatewayTimeout, err.Error())
	}
}

type statusResponse struct {
	assistant.Status
	Summary string `json:"summary"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	st := s.assistant.Status()
	writeJSON(w, http.StatusOK, statusResponse{Status: st, Summary: st.Summary()})
}

func (s *Server) history(w http.ResponseWriter, _ *http.Request) {
	turns := s.assistant.History()
	if turns == nil {
		turns = []ledger.Turn{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": turns})
}

type configureRequest struct {
	Provider string `json:"provider"`
	Secret   string `json:"secret"`
}

func (s *Server) configure(w http.ResponseWriter, r *http.Request) {
	var req configureRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name, err := providers.ParseName(req.Provider)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.assistant.Configure(r.Context(), name, req.Secret); err != nil {
		if errors.Is(err, credentials.ErrEmptySecret) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error().Err(err).Str("provider", string(name)).Msg("configure failed")
		writeError(w, http.StatusInternalServerError, "failed to store credential")
		return
	}
	st := s.assistant.Status()
	writeJSON(w, http.StatusOK, statusResponse{Status: st, Summary: st.Summary()})
}

func (s *Server) revoke(w http.ResponseWriter, r *http.Request) {
	name, err := providers.ParseName(r.PathValue("provider"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.assistant.Revoke(r.Context(), name); err != nil {
		s.logger.Error().Err(err).Str("provider", string(name)).Msg("revoke failed")
		writeError(w, http.StatusInternalServerError, "failed to revoke credential")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) reset(w http.ResponseWriter, _ *http.Request) {
	s.assistant.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.adminToken)) != 1 {
				writeError(w, http.StatusUnauthorized, "admin token required")
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) allow(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter == nil {
		return true
	}
	ok, _, resetAt, err := s.limiter.Allow(r.Context(), "http:"+clientIP(r), s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("rate limiter failed")
		return true
	}
	if ok {
		return true
	}
	w.Header().Set("Retry-After", resetAt.UTC().Format(http.TimeFormat))
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again after "+resetAt.UTC().Format("15:04 UTC"))
	return false
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

const maxBodyBytes = 64 << 10

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
