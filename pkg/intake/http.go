package intake

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/types"
)

// Version is stamped at build time via -ldflags; "dev" otherwise.
var Version = "dev"

// LockChecker and ConflictChecker let the HTTP layer fail fast on the same
// conditions the orchestrator enforces authoritatively at consumption time.
type LockChecker func(ctx context.Context) (bool, error)
type ConflictChecker func(ctx context.Context, application, environment, region string) (bool, error)

// Server is the minimal HTTP surface: health, status, and deploy submission.
type Server struct {
	intaker       *Intaker
	locked        LockChecker
	inProgress    ConflictChecker
	defaultRegion string
	defaultEnv    string
}

// NewServer builds a Server. defaultEnvironment/defaultRegion are used when a
// deploy request's form doesn't specify them; both may be overridden per
// request.
func NewServer(intaker *Intaker, locked LockChecker, inProgress ConflictChecker, defaultEnvironment, defaultRegion string) *Server {
	return &Server{
		intaker:       intaker,
		locked:        locked,
		inProgress:    inProgress,
		defaultEnv:    defaultEnvironment,
		defaultRegion: defaultRegion,
	}
}

// Mux builds the ServeMux satisfying the documented HTTP contract.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", s.handlePing)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/", s.handleDeploy)
	return mux
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	metrics.APIRequestsTotal.WithLabelValues(r.Method, "200").Inc()
	w.Write([]byte("pong"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	metrics.APIRequestsTotal.WithLabelValues(r.Method, "200").Inc()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"name":    "relay",
		"version": Version,
		"status":  "ok",
	})
}

// handleDeploy implements POST /{application}/deploy.
func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponent("intake-http")

	if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/deploy") {
		http.NotFound(w, r)
		return
	}
	application := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), "/deploy")
	if application == "" {
		s.reject(w, r, http.StatusBadRequest, "application is required in the path")
		return
	}

	if err := r.ParseForm(); err != nil {
		s.reject(w, r, http.StatusBadRequest, "malformed form body")
		return
	}

	req := Request{
		Application: application,
		Environment: firstNonEmpty(r.FormValue("environment"), s.defaultEnv),
		Region:      firstNonEmpty(r.FormValue("region"), s.defaultRegion),
		User:        r.FormValue("user"),
		AMI:         r.FormValue("ami"),
		Message:     r.FormValue("message"),
	}

	ctx := r.Context()

	locked, err := s.locked(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("deploy: lock check failed")
		s.reject(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if locked {
		s.reject(w, r, http.StatusLocked, "intake is locked")
		return
	}

	conflict, err := s.inProgress(ctx, req.Application, req.Environment, req.Region)
	if err != nil {
		logger.Error().Err(err).Msg("deploy: conflict check failed")
		s.reject(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if conflict {
		s.reject(w, r, http.StatusConflict, "a deployment is already in progress")
		return
	}

	d, err := s.intaker.Submit(ctx, req)
	if err != nil {
		status := http.StatusInternalServerError
		if types.IsKind(err, types.KindValidation) || types.IsKind(err, types.KindImageMismatch) {
			status = http.StatusBadRequest
		}
		logger.Warn().Err(err).Str("application", application).Msg("deploy rejected")
		s.reject(w, r, status, err.Error())
		return
	}

	metrics.APIRequestsTotal.WithLabelValues(r.Method, "201").Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"id": d.DeploymentID})
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request, status int, message string) {
	metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
