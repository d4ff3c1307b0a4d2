package models

import (
	"strings"
	"testing"
)

func TestSessionStatus_Active(t *testing.T) {
	tests := []struct {
		status SessionStatus
		active bool
	}{
		{SessionStarting, true},
		{SessionRunning, true},
		{SessionCompleted, false},
		{SessionError, false},
	}
	for _, tt := range tests {
		if got := tt.status.Active(); got != tt.active {
			t.Errorf("%s.Active() = %v, want %v", tt.status, got, tt.active)
		}
		if !tt.status.Valid() {
			t.Errorf("%s should be valid", tt.status)
		}
	}
	if SessionStatus("paused").Valid() {
		t.Error("paused is not a session status")
	}
}

func TestSessionConfig_Validate(t *testing.T) {
	valid := SessionConfig{WorkDir: "/tmp/project", Task: "build it", PermissionMode: PermissionAcceptEdits}

	tests := []struct {
		name    string
		mutate  func(c *SessionConfig)
		wantErr string
	}{
		{"valid config", func(c *SessionConfig) {}, ""},
		{"missing work dir", func(c *SessionConfig) { c.WorkDir = " " }, "work_dir is required"},
		{"missing task", func(c *SessionConfig) { c.Task = "" }, "task is required"},
		{"unknown mode", func(c *SessionConfig) { c.PermissionMode = "plan" }, "unknown permission mode"},
		{"negative budget", func(c *SessionConfig) { c.MaxBudgetUSD = -1 }, "must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSession_OverBudget(t *testing.T) {
	s := Session{CostUSD: 5}
	if s.OverBudget() {
		t.Error("no ceiling means never over budget")
	}
	s.Config.MaxBudgetUSD = 4.5
	if !s.OverBudget() {
		t.Error("expected cost 5 to exceed ceiling 4.5")
	}
	s.Config.MaxBudgetUSD = 5
	if s.OverBudget() {
		t.Error("reaching the ceiling exactly is not over budget")
	}
}
