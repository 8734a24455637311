package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/OmniCloudOrg/OmniOrchestrator-sub000/pkg/cluster"
	"github.com/OmniCloudOrg/OmniOrchestrator-sub000/pkg/fleet"
	"github.com/OmniCloudOrg/OmniOrchestrator-sub000/pkg/recovery"
	"github.com/OmniCloudOrg/OmniOrchestrator-sub000/pkg/scaling"
)

// PlatformResources are the control-plane objects scoped to a single
// platform id: its fleet registry, the named autoscalers running against
// that fleet, and the job tracker for any recovery in progress.
type PlatformResources struct {
	Fleet       *fleet.Registry
	Autoscalers map[string]*scaling.Autoscaler
	Tracker     *recovery.JobTracker
}

// PlatformResolver looks up a platform's resources by id. ok is false when
// the platform id is unknown.
type PlatformResolver func(platformID string) (*PlatformResources, bool)

// Server is the OmniOrchestrator REST surface: process health, cluster
// status, Prometheus metrics, and read-only per-platform fleet/autoscaler/
// recovery status. It never exposes CRUD bodies — platform registration,
// policy authoring, and backup management are external collaborators per
// spec.md §1's Non-goals.
type Server struct {
	Router *chi.Mux
	Logger *slog.Logger
	DB     *pgxpool.Pool
	Redis  *redis.Client

	clusterRegistry *cluster.Registry
	clusterState    *cluster.SharedState
	resolvePlatform PlatformResolver

	startedAt time.Time
}

// NewServer wires the router, middleware, and fixed endpoints. Domain
// handlers reading platform state are mounted here directly since the
// surface is read-only and small enough not to warrant external mounting,
// unlike the teacher's larger per-domain handler packages.
func NewServer(corsOrigins []string, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, clusterRegistry *cluster.Registry, clusterState *cluster.SharedState, resolvePlatform PlatformResolver) *Server {
	s := &Server{
		Router:          chi.NewRouter(),
		Logger:          logger,
		DB:              db,
		Redis:           rdb,
		clusterRegistry: clusterRegistry,
		clusterState:    clusterState,
		resolvePlatform: resolvePlatform,
		startedAt:       time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.Router.Get("/health", s.handleHealth)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	s.Router.Get("/cluster/status", s.handleClusterStatus)

	s.Router.Route("/platforms/{platform_id}", func(r chi.Router) {
		r.Use(s.platformContext)
		r.Get("/fleet/nodes", s.handleFleetNodes)
		r.Get("/fleet/units", s.handleFleetUnits)
		r.Get("/autoscalers", s.handleAutoscalers)
		r.Get("/autoscalers/{name}", s.handleAutoscaler)
		r.Get("/recovery/jobs", s.handleRecoveryJobs)
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startedAt).Truncate(time.Second).String(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.Error("readiness check: database ping failed", "error", err)
		RespondError(w, r, http.StatusServiceUnavailable, "unavailable", "database not ready")
		return
	}

	if err := s.Redis.Ping(ctx).Err(); err != nil {
		s.Logger.Error("readiness check: redis ping failed", "error", err)
		RespondError(w, r, http.StatusServiceUnavailable, "unavailable", "redis not ready")
		return
	}

	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}

// clusterStatusResponse mirrors the shared-state snapshot an operator needs
// to confirm the leader-election invariant holds from the outside.
type clusterStatusResponse struct {
	LocalNodeID string             `json:"local_node_id"`
	IsLeader    bool               `json:"is_leader"`
	LeaderID    string             `json:"leader_id,omitempty"`
	ClusterSize int                `json:"cluster_size"`
	Peers       []cluster.PeerNode `json:"peers"`
}

func (s *Server) handleClusterStatus(w http.ResponseWriter, _ *http.Request) {
	leaderID, _ := s.clusterState.LeaderID()
	Respond(w, http.StatusOK, clusterStatusResponse{
		LocalNodeID: s.clusterState.LocalNodeID(),
		IsLeader:    s.clusterState.IsLeader(),
		LeaderID:    leaderID,
		ClusterSize: int(s.clusterState.ClusterSize()),
		Peers:       s.clusterRegistry.Snapshot(),
	})
}

type platformCtxKey struct{}

// platformContext resolves {platform_id} to its PlatformResources and
// stores it on the request context, or responds 404 if the platform is
// unknown.
func (s *Server) platformContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		platformID := chi.URLParam(r, "platform_id")
		res, ok := s.resolvePlatform(platformID)
		if !ok {
			RespondError(w, r, http.StatusNotFound, "not_found", "unknown platform id")
			return
		}
		ctx := context.WithValue(r.Context(), platformCtxKey{}, res)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// platformFromRequest retrieves the PlatformResources stashed by
// platformContext. Only ever called from handlers mounted behind that
// middleware, so the assertion always succeeds.
func platformFromRequest(r *http.Request) *PlatformResources {
	return r.Context().Value(platformCtxKey{}).(*PlatformResources)
}

func (s *Server) handleFleetNodes(w http.ResponseWriter, r *http.Request) {
	res := platformFromRequest(r)
	params, err := ParseOffsetParams(r)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	nodes := res.Fleet.Nodes()
	Respond(w, http.StatusOK, NewOffsetPage(Slice(nodes, params), params, len(nodes)))
}

func (s *Server) handleFleetUnits(w http.ResponseWriter, r *http.Request) {
	res := platformFromRequest(r)
	params, err := ParseOffsetParams(r)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	units := res.Fleet.RunningUnits()
	Respond(w, http.StatusOK, NewOffsetPage(Slice(units, params), params, len(units)))
}

func (s *Server) handleAutoscalers(w http.ResponseWriter, r *http.Request) {
	res := platformFromRequest(r)
	out := make(map[string]map[string]float32, len(res.Autoscalers))
	for name, a := range res.Autoscalers {
		out[name] = a.Stats()
	}
	Respond(w, http.StatusOK, out)
}

func (s *Server) handleAutoscaler(w http.ResponseWriter, r *http.Request) {
	res := platformFromRequest(r)
	name := chi.URLParam(r, "name")
	a, ok := res.Autoscalers[name]
	if !ok {
		RespondError(w, r, http.StatusNotFound, "not_found", "unknown autoscaler name")
		return
	}
	Respond(w, http.StatusOK, a.Stats())
}

func (s *Server) handleRecoveryJobs(w http.ResponseWriter, r *http.Request) {
	res := platformFromRequest(r)
	nodeID := r.URL.Query().Get("node_id")
	componentType := r.URL.Query().Get("component_type")
	if nodeID == "" || componentType == "" {
		RespondError(w, r, http.StatusBadRequest, "bad_request", "node_id and component_type query parameters are required")
		return
	}
	status, ok := res.Tracker.Get(nodeID, componentType)
	if !ok {
		RespondError(w, r, http.StatusNotFound, "not_found", "no recovery job recorded for that node/component")
		return
	}
	Respond(w, http.StatusOK, status)
}
