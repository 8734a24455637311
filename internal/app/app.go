package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/OmniCloudOrg/OmniOrchestrator-sub000/internal/config"
	"github.com/OmniCloudOrg/OmniOrchestrator-sub000/internal/httpserver"
	"github.com/OmniCloudOrg/OmniOrchestrator-sub000/internal/platform"
	"github.com/OmniCloudOrg/OmniOrchestrator-sub000/internal/telemetry"
	"github.com/OmniCloudOrg/OmniOrchestrator-sub000/pkg/cluster"
	"github.com/OmniCloudOrg/OmniOrchestrator-sub000/pkg/fleet"
	"github.com/OmniCloudOrg/OmniOrchestrator-sub000/pkg/recovery"
	"github.com/OmniCloudOrg/OmniOrchestrator-sub000/pkg/scaling"
)

// Run is the process entry point. It reads config, connects to
// infrastructure, and starts the subsystem selected by cfg.Mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.Mode)
	slog.SetDefault(logger)

	logger.Info("starting omniorchestrator", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunGlobalMigrations(cfg.DatabaseURL, cfg.MigrationsGlobalDir); err != nil {
		return fmt.Errorf("running global migrations: %w", err)
	}
	logger.Info("global migrations applied")

	platformSchema := platform.SchemaName(cfg.PlatformID)
	if err := platform.RunPlatformMigrations(ctx, db, cfg.DatabaseURL, platformSchema, cfg.MigrationsPlatformDir); err != nil {
		return fmt.Errorf("running platform migrations: %w", err)
	}
	dbManager := platform.NewDatabaseManager(db, cfg.DatabaseURL)
	if err := dbManager.RegisterPlatform(cfg.PlatformID, platformSchema); err != nil {
		return fmt.Errorf("registering platform %q: %w", cfg.PlatformID, err)
	}
	logger.Info("platform migrations applied", "platform", cfg.PlatformID, "schema", platformSchema)

	metricsReg := prometheus.NewRegistry()
	metricsReg.MustRegister(telemetry.All()...)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg)
	case "autoscaler":
		return runAutoscaler(ctx, cfg, logger, db, rdb)
	case "cluster":
		return runCluster(ctx, cfg, logger, rdb)
	case "recovery":
		return runRecovery(ctx, cfg, logger, db)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// runAPI serves the read-only REST surface: process health, cluster status,
// Prometheus metrics, and platform-scoped fleet/autoscaler/recovery status.
// The fleet registry, autoscaler map, and job tracker it reports on are
// local to this process and start empty: this mode registers no backends,
// runs no discovery, and starts no autoscalers or recoveries, so the
// platform-scoped endpoints report empty state.
func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	state := cluster.NewSharedState(localNodeID(cfg))
	clusterRegistry := cluster.NewRegistry(state)

	fleetRegistry := fleet.NewRegistry(fleet.KindCloud, fleet.UnitTemplate{}, logger)
	tracker := recovery.NewJobTracker(logger)

	platformResources := &httpserver.PlatformResources{
		Fleet:       fleetRegistry,
		Autoscalers: map[string]*scaling.Autoscaler{},
		Tracker:     tracker,
	}
	resolvePlatform := func(platformID string) (*httpserver.PlatformResources, bool) {
		if platformID != cfg.PlatformID {
			return nil, false
		}
		return platformResources, true
	}

	srv := httpserver.NewServer(cfg.CORSAllowedOrigins, logger, db, rdb, metricsReg, clusterRegistry, state, resolvePlatform)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runAutoscaler runs the L1/L3 evaluate-and-scale loop for one named policy
// against cfg.PlatformID's fleet, reading metric readings an external
// publisher writes to Redis.
func runAutoscaler(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client) error {
	const policyName = "default"

	policy := defaultScalingPolicy()
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("invalid scaling policy %q: %w", policyName, err)
	}

	fleetRegistry := fleet.NewRegistry(fleet.KindCloud, fleet.UnitTemplate{}, logger)

	metrics := scaling.AutoscalerMetrics{
		Actions: telemetry.AutoscalerScaleActionsTotal,
		Workers: telemetry.AutoscalerCurrentWorkers,
		Errors:  telemetry.AutoscalerBackendErrorsTotal,
	}
	autoscaler := scaling.NewAutoscaler(policyName, policy, fleetRegistry, policy.MinWorkers, metrics, logger)

	source := &redisMetricsSource{client: rdb, key: cfg.AutoscalerMetricsKeyPrefix + policyName, logger: logger}

	ticker := time.NewTicker(cfg.AutoscalerTickInterval)
	defer ticker.Stop()

	logger.Info("autoscaler started", "policy", policyName, "platform", cfg.PlatformID, "interval", cfg.AutoscalerTickInterval)
	for {
		select {
		case <-ctx.Done():
			logger.Info("autoscaler stopped")
			return nil
		case <-ticker.C:
			if err := fleetRegistry.DiscoverNodes(ctx); err != nil {
				logger.Error("autoscaler: discovering nodes", "error", err)
			}
			if err := fleetRegistry.DiscoverUnits(ctx); err != nil {
				logger.Error("autoscaler: discovering units", "error", err)
			}

			m, err := source.Read(ctx)
			if err != nil {
				logger.Warn("autoscaler: no metric reading available this tick", "error", err)
				continue
			}

			switch decision := autoscaler.Tick(m); decision {
			case scaling.ScaleUp:
				if _, err := autoscaler.ScaleUp(ctx); err != nil {
					logger.Error("autoscaler: scale up failed", "error", err)
				}
			case scaling.ScaleDown:
				if _, err := autoscaler.ScaleDown(ctx); err != nil {
					logger.Error("autoscaler: scale down failed", "error", err)
				}
			}
		}
	}
}

// runCluster runs the L4/L5 leader-election loop for the local node.
func runCluster(ctx context.Context, cfg *config.Config, logger *slog.Logger, rdb *redis.Client) error {
	state := cluster.NewSharedState(localNodeID(cfg))
	registry := cluster.NewRegistry(state)
	heartbeat := cluster.NewHeartbeatPublisher(rdb, "omniorchestrator:cluster:heartbeat:", cfg.ClusterPeerTTL, logger)

	election := cluster.NewElection(registry, state, cfg.ClusterElectionTick, cfg.ClusterPeerTTL, heartbeat,
		telemetry.ClusterIsLeader, telemetry.ClusterSize, logger)

	return election.Run(ctx)
}

// runRecovery executes a single recovery job end to end, then exits. Backup
// selection and target-environment topology are supplied by the external
// control-plane surface (spec.md §6); this mode consumes what it's told to
// restore via config, matching the core's "given a BackupDescriptor and
// Environment" contract (spec.md §4.6/§4.7).
func runRecovery(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool) error {
	if cfg.RecoveryBackupID == "" || cfg.RecoveryStorageRoot == "" || cfg.RecoveryTargetEnv == "" {
		return fmt.Errorf("recovery mode requires OMNI_RECOVERY_BACKUP_ID, OMNI_RECOVERY_STORAGE_ROOT, and OMNI_RECOVERY_TARGET_ENV")
	}

	fleetRegistry := fleet.NewRegistry(fleet.KindCloud, fleet.UnitTemplate{}, logger)
	tracker := recovery.NewJobTracker(logger)
	planner := recovery.NewPlanner(cfg.RecoveryWorkingDir)
	metrics := recovery.ExecutorMetrics{
		JobsTotal:     telemetry.RecoveryJobsTotal,
		StageDuration: telemetry.RecoveryStageDuration,
	}
	executor := recovery.NewExecutor(fleetRegistry, tracker, planner, cfg.RecoveryJobTimeout, metrics, logger)

	backup := &recovery.BackupDescriptor{
		ID:          cfg.RecoveryBackupID,
		StorageRoot: cfg.RecoveryStorageRoot,
		// Every component presence flag is set to true; this mode reads
		// no backup manifest, so every stage is enabled.
		HasSystemCore:     true,
		HasDirectors:      true,
		HasOrchestrators:  true,
		HasNetworkConfig:  true,
		HasAppDefinitions: true,
		HasVolumeData:     true,
	}
	env := recovery.Environment{Name: cfg.RecoveryTargetEnv}

	logger.Info("recovery started", "backup", backup.ID, "target_env", env.Name)
	if err := executor.Execute(ctx, backup, env, recovery.PlanOptions{AdaptationMode: recovery.AdaptationStrict}); err != nil {
		logger.Error("recovery failed", "backup", backup.ID, "error", err)
		return err
	}
	logger.Info("recovery completed", "backup", backup.ID)
	return nil
}

func localNodeID(cfg *config.Config) string {
	if cfg.ClusterLocalNodeID != "" {
		return cfg.ClusterLocalNodeID
	}
	return cfg.ListenAddr()
}

// defaultScalingPolicy is a conservative placeholder policy. Policy
// authoring is an external control-plane concern (spec.md §6); a real
// deployment loads this from the platform database instead.
func defaultScalingPolicy() scaling.ScalingPolicy {
	return scaling.ScalingPolicy{
		MinWorkers:           1,
		MaxWorkers:           10,
		ScaleUpIncrement:     1,
		ScaleDownIncrement:   1,
		MaxScaleDownFraction: 0.5,
		Cooldown:             2 * time.Minute,
		ScaleDownDelay:       5 * time.Minute,
		AutoscalingEnabled:   true,
		Thresholds: map[string]scaling.Threshold{
			"cpu_utilization": scaling.FloatThreshold(0.75),
		},
	}
}

// redisMetricsSource reads a JSON-encoded scaling.Metrics document from a
// single Redis key, written by whatever process collects fleet metrics.
// The core treats metric-source reliability as out of scope (spec.md §1
// Non-goals); a missing or undecodable key yields no action this tick. The
// key's age is not checked: a reading that is no longer being refreshed is
// still acted on for as long as the key exists.
type redisMetricsSource struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

func (s *redisMetricsSource) Read(ctx context.Context) (scaling.Metrics, error) {
	raw, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("reading metrics key %q: %w", s.key, err)
	}
	var m scaling.Metrics
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decoding metrics key %q: %w", s.key, err)
	}
	return m, nil
}
