package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/OmniCloudOrg/OmniOrchestrator-sub000/pkg/fleet"
)

// jobSpec is one component recovery to dispatch: a node, the component it
// restores, the backend that owns the node, and the opaque config string
// that backend interprets (commonly a JSON list of ISO filenames).
type jobSpec struct {
	NodeID        string
	ComponentType string
	BackendID     string
	Config        string
}

// StageError reports why a stage could not proceed or did not succeed.
type StageError struct {
	Stage   StageName
	Fatal   bool // true: a required node/ISO was absent; false: a job failed
	Message string
}

func (e *StageError) Error() string {
	kind := "failed"
	if e.Fatal {
		kind = "fatal"
	}
	return fmt.Sprintf("recovery: stage %s %s: %s", e.Stage, kind, e.Message)
}

// Kind reports the ErrorKind for callers that branch on cause rather than
// the Fatal bool directly.
func (e *StageError) Kind() ErrorKind {
	if e.Fatal {
		return StageFatal
	}
	return StageFailed
}

// ExecutorMetrics are the Prometheus collectors the executor records
// against, shared across every recovery this process runs.
type ExecutorMetrics struct {
	JobsTotal     *prometheus.CounterVec   // labels: stage, outcome
	StageDuration *prometheus.HistogramVec // label: stage
}

// Executor is the Recovery Executor (L7): it drives a recovery's stages in
// order, dispatching one job per target node per stage and waiting for the
// Job Tracker to report every job in a stage as terminal before advancing.
type Executor struct {
	registry   *fleet.Registry
	tracker    *JobTracker
	planner    *Planner
	jobTimeout time.Duration
	logger     *slog.Logger
	metrics    ExecutorMetrics

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewExecutor creates an Executor. jobTimeout bounds each individual
// backend call; SPEC_FULL.md recommends at least 30s.
func NewExecutor(registry *fleet.Registry, tracker *JobTracker, planner *Planner, jobTimeout time.Duration, metrics ExecutorMetrics, logger *slog.Logger) *Executor {
	return &Executor{
		registry:   registry,
		tracker:    tracker,
		planner:    planner,
		jobTimeout: jobTimeout,
		logger:     logger,
		metrics:    metrics,
		cancels:    make(map[string]context.CancelFunc),
	}
}

// Cancel signals the named backup's in-flight recovery, if any, to stop
// dispatching new jobs and stop waiting. In-flight jobs are allowed to
// terminate; no new component recoveries begin after Cancel returns.
func (e *Executor) Cancel(backupID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cancel, ok := e.cancels[backupID]; ok {
		cancel()
	}
}

// Execute runs a backup's recovery plan against env to completion, failure,
// or cancellation, mutating backup's restore fields as it goes.
func (e *Executor) Execute(ctx context.Context, backup *BackupDescriptor, env Environment, opts PlanOptions) error {
	cctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancels[backup.ID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, backup.ID)
		e.mu.Unlock()
		cancel()
	}()

	isoNames, err := ListISOs(backup.ISODir())
	if err != nil {
		backup.RestoreStatus = "failed"
		return err
	}

	stages, err := e.planner.Plan(*backup, env.Name, opts)
	if err != nil {
		backup.RestoreStatus = "failed"
		return err
	}

	backup.RestoreStatus = "running"

	for _, stage := range stages {
		select {
		case <-cctx.Done():
			backup.RestoreStatus = "failed"
			return &cancelError{Stage: stage.Name}
		default:
		}

		if !stage.Enabled {
			e.logger.Info("recovery: stage skipped", "backup", backup.ID, "stage", stage.Name)
			continue
		}

		jobs, err := e.buildJobs(stage.Name, *backup, env, isoNames)
		if err != nil {
			backup.RestoreStatus = "failed"
			return err
		}

		if err := e.runStage(cctx, backup.ID, stage.Name, jobs); err != nil {
			backup.RestoreStatus = "failed"
			return err
		}
	}

	now := time.Now()
	backup.RestoreStatus = "completed"
	backup.RestoreTargetEnv = env.Name
	backup.LastRestoredAt = &now
	return nil
}

// runStage dispatches every job in a stage concurrently, waits for all to
// reach a terminal status, and fails the stage on the first Failed job.
func (e *Executor) runStage(ctx context.Context, backupID string, stage StageName, jobs []jobSpec) error {
	start := time.Now()
	keys := make([][2]string, len(jobs))
	for i, j := range jobs {
		keys[i] = [2]string{j.NodeID, j.ComponentType}
	}

	// runJob never returns an error here: a failing job must not cancel its
	// siblings, it's only recorded via the tracker and surfaced after every
	// job in the stage has reached a terminal state.
	var eg errgroup.Group
	for _, job := range jobs {
		select {
		case <-ctx.Done():
			e.logger.Info("recovery: stage dispatch stopped by cancellation", "backup", backupID, "stage", stage)
		default:
			job := job
			eg.Go(func() error {
				e.runJob(ctx, stage, job)
				return nil
			})
		}
	}
	_ = eg.Wait()

	if e.metrics.StageDuration != nil {
		e.metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	}

	for _, k := range keys {
		if s, ok := e.tracker.Get(k[0], k[1]); ok && s.Status.Terminal() {
			e.recordOutcome(stage, string(s.Status))
		}
	}

	if failure, ok := e.tracker.FirstFailure(keys); ok {
		msg := "unknown error"
		if failure.Error != nil {
			msg = *failure.Error
		}
		return &StageError{Stage: stage, Message: fmt.Sprintf("%s/%s: %s", failure.NodeID, failure.ComponentType, msg)}
	}
	return nil
}

// runJob dispatches a single component recovery and upserts its lifecycle
// into the tracker. A per-job failure never aborts its siblings.
func (e *Executor) runJob(ctx context.Context, stage StageName, job jobSpec) {
	e.tracker.Upsert(RecoveryJobStatus{NodeID: job.NodeID, ComponentType: job.ComponentType, Status: JobRunning, Progress: 0})

	backend, ok := e.registry.BackendByID(job.BackendID)
	if !ok {
		e.fail(job, fmt.Sprintf("no backend registered for id %q", job.BackendID))
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, e.jobTimeout)
	defer cancel()

	if err := backend.RequestComponentRecovery(callCtx, job.NodeID, job.ComponentType, job.Config); err != nil {
		e.fail(job, err.Error())
		return
	}

	now := time.Now()
	e.tracker.Upsert(RecoveryJobStatus{
		NodeID: job.NodeID, ComponentType: job.ComponentType,
		Status: JobCompleted, Progress: 100, CompletedAt: &now,
	})
}

func (e *Executor) fail(job jobSpec, msg string) {
	now := time.Now()
	e.logger.Error("recovery: component recovery failed", "node", job.NodeID, "component", job.ComponentType, "error", msg)
	e.tracker.Upsert(RecoveryJobStatus{
		NodeID: job.NodeID, ComponentType: job.ComponentType,
		Status: JobFailed, Error: &msg, CompletedAt: &now,
	})
}

func (e *Executor) recordOutcome(stage StageName, outcome string) {
	if e.metrics.JobsTotal != nil {
		e.metrics.JobsTotal.WithLabelValues(string(stage), outcome).Inc()
	}
}

// buildJobs resolves the node selector and ISO assignment table in
// SPEC_FULL.md §4.7 for one stage. A required node kind or ISO set that's
// entirely absent is a StageError{Fatal: true}.
func (e *Executor) buildJobs(stage StageName, backup BackupDescriptor, env Environment, isoNames []string) ([]jobSpec, error) {
	switch stage {
	case StageInfrastructurePreparation:
		return []jobSpec{{NodeID: "infrastructure", ComponentType: "infrastructure", BackendID: env.AdminBackendID}}, nil

	case StageSystemCore:
		node, ok := env.First(RoleMaster)
		if !ok {
			return nil, &StageError{Stage: stage, Fatal: true, Message: "no node of kind Master in target environment"}
		}
		isos := SelectByPrefix(isoNames, PrefixSystemCore)
		if len(isos) == 0 {
			return nil, &StageError{Stage: stage, Fatal: true, Message: "no ISOs matching " + PrefixSystemCore + "*"}
		}
		config, err := jsonList(isos)
		if err != nil {
			return nil, err
		}
		return []jobSpec{{NodeID: node.ID, ComponentType: "system-core", BackendID: node.BackendID, Config: config}}, nil

	case StageDirectors:
		return e.roundRobinJobs(stage, env, RoleDirector, "director", isoNames, PrefixDirector)

	case StageOrchestrators:
		return e.roundRobinJobs(stage, env, RoleOrchestrator, "orchestrator", isoNames, PrefixOrchestrator)

	case StageNetwork:
		node, ok := env.First(RoleNetworkController)
		if !ok {
			return nil, &StageError{Stage: stage, Fatal: true, Message: "no node of kind NetworkController in target environment"}
		}
		isos := SelectByPrefix(isoNames, PrefixNetworkConfig)
		if len(isos) == 0 {
			return nil, &StageError{Stage: stage, Fatal: true, Message: "no ISOs matching " + PrefixNetworkConfig + "*"}
		}
		config, err := jsonList(isos)
		if err != nil {
			return nil, err
		}
		return []jobSpec{{NodeID: node.ID, ComponentType: "network-config", BackendID: node.BackendID, Config: config}}, nil

	case StageApplicationDefinitions:
		node, ok := env.First(RoleApplicationCatalog)
		if !ok {
			return nil, &StageError{Stage: stage, Fatal: true, Message: "no node of kind ApplicationCatalog in target environment"}
		}
		isos := SelectByPrefix(isoNames, PrefixAppDefinition)
		if len(isos) == 0 {
			return nil, &StageError{Stage: stage, Fatal: true, Message: "no ISOs matching " + PrefixAppDefinition + "*"}
		}
		config, err := jsonList(isos)
		if err != nil {
			return nil, err
		}
		return []jobSpec{{NodeID: node.ID, ComponentType: "app-definitions", BackendID: node.BackendID, Config: config}}, nil

	case StageVolumeData:
		node, ok := env.First(RoleStorage)
		if !ok {
			return nil, &StageError{Stage: stage, Fatal: true, Message: "no node of kind Storage in target environment"}
		}
		apps := VolumeDataApps(isoNames)
		if len(apps) == 0 {
			return nil, &StageError{Stage: stage, Fatal: true, Message: "no Volume-Data ISOs found"}
		}
		jobs := make([]jobSpec, 0, len(apps))
		for _, app := range apps {
			isos := SelectByPrefix(isoNames, volumeDataPrefix(app))
			config, err := jsonList(isos)
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, jobSpec{
				NodeID:        node.ID,
				ComponentType: "volume-data-" + app,
				BackendID:     node.BackendID,
				Config:        config,
			})
		}
		return jobs, nil

	case StageFinalization:
		return []jobSpec{{NodeID: "system", ComponentType: "finalization", BackendID: env.AdminBackendID}}, nil

	default:
		return nil, &StageError{Stage: stage, Fatal: true, Message: "unknown stage"}
	}
}

// roundRobinJobs builds one job per node of role, assigning ISOs matching
// prefix round-robin over the nodes (reusing ISOs when there are fewer of
// them than nodes).
func (e *Executor) roundRobinJobs(stage StageName, env Environment, role NodeRole, componentType string, isoNames []string, prefix string) ([]jobSpec, error) {
	nodes := env.All(role)
	if len(nodes) == 0 {
		return nil, &StageError{Stage: stage, Fatal: true, Message: fmt.Sprintf("no node of kind %s in target environment", role)}
	}
	isos := SelectByPrefix(isoNames, prefix)
	if len(isos) == 0 {
		return nil, &StageError{Stage: stage, Fatal: true, Message: fmt.Sprintf("no ISOs matching %s*", prefix)}
	}

	assigned := RoundRobin(isos, len(nodes))
	jobs := make([]jobSpec, len(nodes))
	for i, node := range nodes {
		config, err := jsonList([]string{assigned[i]})
		if err != nil {
			return nil, err
		}
		jobs[i] = jobSpec{NodeID: node.ID, ComponentType: componentType, BackendID: node.BackendID, Config: config}
	}
	return jobs, nil
}

func jsonList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("recovery: encoding config: %w", err)
	}
	return string(data), nil
}
