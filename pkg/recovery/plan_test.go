package recovery

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestPlan_FixedMembershipAndDependencies(t *testing.T) {
	p := NewPlanner("")
	backup := BackupDescriptor{
		ID: "b1",
		HasSystemCore: true, HasDirectors: true, HasOrchestrators: true,
		HasNetworkConfig: true, HasAppDefinitions: true, HasVolumeData: true,
	}
	stages, err := p.Plan(backup, "env-a", PlanOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(stages) != 8 {
		t.Fatalf("len(stages) = %d, want 8", len(stages))
	}
	for _, s := range stages {
		if !s.Enabled {
			t.Errorf("stage %s should be enabled when backup has everything", s.Name)
		}
	}

	byName := map[StageName]Stage{}
	for _, s := range stages {
		byName[s.Name] = s
	}
	wantDeps := map[StageName][]StageName{
		StageInfrastructurePreparation: nil,
		StageSystemCore:                {StageInfrastructurePreparation},
		StageDirectors:                 {StageSystemCore},
		StageOrchestrators:             {StageDirectors},
		StageNetwork:                   {StageOrchestrators},
		StageApplicationDefinitions:    {StageOrchestrators, StageNetwork},
		StageVolumeData:                {StageApplicationDefinitions},
		StageFinalization:              {StageVolumeData},
	}
	for name, want := range wantDeps {
		got := byName[name].DependsOn
		if len(got) != len(want) {
			t.Errorf("stage %s DependsOn = %v, want %v", name, got, want)
			continue
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("stage %s DependsOn = %v, want %v", name, got, want)
			}
		}
	}
}

func TestPlan_DisablesStagesBackupLacks(t *testing.T) {
	p := NewPlanner("")
	backup := BackupDescriptor{ID: "b1", HasDirectors: false, HasOrchestrators: false,
		HasSystemCore: true, HasNetworkConfig: true, HasAppDefinitions: true, HasVolumeData: true}
	stages, err := p.Plan(backup, "env-a", PlanOptions{})
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range stages {
		switch s.Name {
		case StageDirectors, StageOrchestrators:
			if s.Enabled {
				t.Errorf("stage %s should be disabled", s.Name)
			}
		case StageInfrastructurePreparation, StageFinalization:
			if !s.Enabled {
				t.Errorf("stage %s is always enabled", s.Name)
			}
		}
	}
}

func TestPlan_PersistsPlanJSON(t *testing.T) {
	dir := t.TempDir()
	p := NewPlanner(dir)
	backup := BackupDescriptor{ID: "b2"}
	if _, err := p.Plan(backup, "env-a", PlanOptions{AdaptationMode: AdaptationStrict}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "plan-b2.json"))
	if err != nil {
		t.Fatalf("expected plan file to be written: %v", err)
	}
	var doc struct {
		BackupID string  `json:"backup_id"`
		Stages   []Stage `json:"stages"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("plan file is not valid JSON: %v", err)
	}
	if doc.BackupID != "b2" {
		t.Errorf("BackupID = %q, want b2", doc.BackupID)
	}
	if len(doc.Stages) != 8 {
		t.Errorf("len(Stages) = %d, want 8", len(doc.Stages))
	}
}
