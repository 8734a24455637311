package recovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StageName identifies one of the eight fixed recovery stages.
type StageName string

const (
	StageInfrastructurePreparation StageName = "infrastructure_preparation"
	StageSystemCore                StageName = "system_core"
	StageDirectors                 StageName = "directors"
	StageOrchestrators             StageName = "orchestrators"
	StageNetwork                   StageName = "network"
	StageApplicationDefinitions    StageName = "application_definitions"
	StageVolumeData                StageName = "volume_data"
	StageFinalization              StageName = "finalization"
)

// Stage is one dependency-ordered unit of recovery work. DependsOn names
// stages that must appear earlier in the plan; membership and dependency
// edges are fixed by SPEC_FULL.md §4.6, only Enabled varies per backup.
type Stage struct {
	Name      StageName `json:"name"`
	Enabled   bool      `json:"enabled"`
	DependsOn []StageName `json:"depends_on"`
}

// Planner builds a recovery plan from a backup's contents and persists it
// to the recovery working directory as a side effect.
type Planner struct {
	workingDir string
}

// NewPlanner creates a Planner that writes plans under workingDir.
func NewPlanner(workingDir string) *Planner {
	return &Planner{workingDir: workingDir}
}

// AdaptationMode controls how the planner reconciles a backup's original
// topology with the target environment; out of scope beyond being carried
// through to the persisted plan for the benefit of operators inspecting it.
type AdaptationMode string

const (
	AdaptationStrict AdaptationMode = "strict"
	AdaptationBestEffort AdaptationMode = "best_effort"
)

// PlanOptions configures Plan.
type PlanOptions struct {
	AdaptationMode AdaptationMode
}

// Plan builds the fixed-membership, fixed-dependency stage list for
// backup, enabling each stage according to what the backup contains, and
// writes the plan as JSON under the working directory.
func (p *Planner) Plan(backup BackupDescriptor, targetEnvName string, opts PlanOptions) ([]Stage, error) {
	stages := []Stage{
		{Name: StageInfrastructurePreparation, Enabled: true},
		{Name: StageSystemCore, Enabled: backup.HasSystemCore, DependsOn: []StageName{StageInfrastructurePreparation}},
		{Name: StageDirectors, Enabled: backup.HasDirectors, DependsOn: []StageName{StageSystemCore}},
		{Name: StageOrchestrators, Enabled: backup.HasOrchestrators, DependsOn: []StageName{StageDirectors}},
		{Name: StageNetwork, Enabled: backup.HasNetworkConfig, DependsOn: []StageName{StageOrchestrators}},
		{Name: StageApplicationDefinitions, Enabled: backup.HasAppDefinitions, DependsOn: []StageName{StageOrchestrators, StageNetwork}},
		{Name: StageVolumeData, Enabled: backup.HasVolumeData, DependsOn: []StageName{StageApplicationDefinitions}},
		{Name: StageFinalization, Enabled: true, DependsOn: []StageName{StageVolumeData}},
	}

	if err := p.persist(backup.ID, targetEnvName, opts, stages); err != nil {
		return nil, err
	}
	return stages, nil
}

func (p *Planner) persist(backupID, targetEnvName string, opts PlanOptions, stages []Stage) error {
	if p.workingDir == "" {
		return nil
	}
	if err := os.MkdirAll(p.workingDir, 0o755); err != nil {
		return fmt.Errorf("recovery: creating working dir: %w", err)
	}

	doc := struct {
		BackupID       string         `json:"backup_id"`
		TargetEnv      string         `json:"target_env"`
		AdaptationMode AdaptationMode `json:"adaptation_mode"`
		PlannedAt      time.Time      `json:"planned_at"`
		Stages         []Stage        `json:"stages"`
	}{
		BackupID:       backupID,
		TargetEnv:      targetEnvName,
		AdaptationMode: opts.AdaptationMode,
		PlannedAt:      time.Now(),
		Stages:         stages,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("recovery: encoding plan: %w", err)
	}

	path := filepath.Join(p.workingDir, fmt.Sprintf("plan-%s.json", backupID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("recovery: writing plan: %w", err)
	}
	return nil
}
