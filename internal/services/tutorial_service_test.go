// tutorial_service_test.go
//
// This file is part of docsync.
// docsync is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// docsync is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.

package services

import (
	"errors"
	"testing"

	"github.com/notebase/docsync/internal/models"
)

func TestStepStatesFromStep(t *testing.T) {
	states, err := StepStatesFromStep("runPython", false)
	if err != nil {
		t.Fatalf("derive states: %v", err)
	}
	if len(states) != len(OnboardingStepOrder) {
		t.Fatalf("expected a state per step, got %d", len(states))
	}
	if states["connectDataSource"] != StepCompleted || states["runQuery"] != StepCompleted {
		t.Error("steps before the current one must read completed")
	}
	if states["runPython"] != StepCurrent {
		t.Errorf("expected runPython current, got %s", states["runPython"])
	}
	if states["createVisualization"] != StepUpcoming || states["inviteTeamMembers"] != StepUpcoming {
		t.Error("steps after the current one must read upcoming")
	}
}

func TestStepStatesComplete(t *testing.T) {
	states, err := StepStatesFromStep("runQuery", true)
	if err != nil {
		t.Fatalf("derive states: %v", err)
	}
	for step, state := range states {
		if state != StepCompleted {
			t.Errorf("step %s: expected completed, got %s", step, state)
		}
	}
}

func TestStepStatesUnknownStep(t *testing.T) {
	if _, err := StepStatesFromStep("flyToTheMoon", false); !errors.Is(err, ErrUnknownStep) {
		t.Fatalf("expected ErrUnknownStep, got %v", err)
	}
}

func TestEnsureTutorialCreatesAtFirstStep(t *testing.T) {
	db := testDB(t)

	tutorial, err := EnsureTutorial(db, "ws-1")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if tutorial.CurrentStep != OnboardingStepOrder[0] || tutorial.IsComplete {
		t.Errorf("unexpected fresh tutorial: %+v", tutorial)
	}

	again, err := EnsureTutorial(db, "ws-1")
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if again.CurrentStep != tutorial.CurrentStep {
		t.Error("second ensure must return the existing row")
	}
}

func TestGetTutorialStepStatesMissing(t *testing.T) {
	db := testDB(t)
	states, err := GetTutorialStepStates(db, "ws-none")
	if err != nil {
		t.Fatalf("get states: %v", err)
	}
	if states != nil {
		t.Errorf("expected nil states for missing tutorial, got %v", states)
	}
}

func TestAdvanceTutorialMissingIsNoOp(t *testing.T) {
	db := testDB(t)

	tutorial, states, err := AdvanceTutorial(db, "ws-missing", "connectDataSource")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if states != nil {
		t.Errorf("expected nil states for missing tutorial, got %v", states)
	}
	if tutorial.WorkspaceID != "" {
		t.Errorf("expected zero tutorial, got %+v", tutorial)
	}

	// no row may be created as a side effect
	var count int64
	if err := db.Model(&models.OnboardingTutorial{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("advance created %d tutorial row(s)", count)
	}
}

func TestAdvanceTutorial(t *testing.T) {
	db := testDB(t)

	if _, err := EnsureTutorial(db, "ws-1"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	tutorial, states, err := AdvanceTutorial(db, "ws-1", "connectDataSource")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if tutorial.CurrentStep != "runQuery" {
		t.Errorf("expected runQuery, got %s", tutorial.CurrentStep)
	}
	if states["connectDataSource"] != StepCompleted || states["runQuery"] != StepCurrent {
		t.Errorf("unexpected states after advance: %v", states)
	}
}

func TestAdvanceTutorialIgnoresStaleStep(t *testing.T) {
	db := testDB(t)

	if _, err := EnsureTutorial(db, "ws-1"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, _, err := AdvanceTutorial(db, "ws-1", "connectDataSource"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	// repeating the already-passed step must not move the tutorial
	tutorial, _, err := AdvanceTutorial(db, "ws-1", "connectDataSource")
	if err != nil {
		t.Fatalf("repeat advance: %v", err)
	}
	if tutorial.CurrentStep != "runQuery" {
		t.Errorf("stale advance moved the tutorial to %s", tutorial.CurrentStep)
	}

	// a step that is not current yet must not move it either
	tutorial, _, err = AdvanceTutorial(db, "ws-1", "publishDashboard")
	if err != nil {
		t.Fatalf("out-of-order advance: %v", err)
	}
	if tutorial.CurrentStep != "runQuery" {
		t.Errorf("out-of-order advance moved the tutorial to %s", tutorial.CurrentStep)
	}
}

func TestAdvanceTutorialUnknownStep(t *testing.T) {
	db := testDB(t)
	if _, _, err := AdvanceTutorial(db, "ws-1", "notAStep"); !errors.Is(err, ErrUnknownStep) {
		t.Fatalf("expected ErrUnknownStep, got %v", err)
	}
}

func TestAdvanceTutorialToCompletion(t *testing.T) {
	db := testDB(t)

	if _, err := EnsureTutorial(db, "ws-1"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	var states map[string]StepState
	for _, step := range OnboardingStepOrder {
		var err error
		if _, states, err = AdvanceTutorial(db, "ws-1", step); err != nil {
			t.Fatalf("advance %s: %v", step, err)
		}
	}

	row, _, err := AdvanceTutorial(db, "ws-1", OnboardingStepOrder[0])
	if err != nil {
		t.Fatalf("advance after completion: %v", err)
	}
	if !row.IsComplete {
		t.Error("expected tutorial complete after final step")
	}
	for step, state := range states {
		if state != StepCompleted {
			t.Errorf("step %s: expected completed after finish, got %s", step, state)
		}
	}
}
