// tutorial_service.go
//
// Workspace onboarding tutorial tracking.
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
	"fmt"
	"log"

	"gorm.io/gorm"

	"github.com/notebase/docsync/internal/models"
)

// StepState is the display state of one onboarding step.
type StepState string

const (
	StepCompleted StepState = "completed"
	StepCurrent   StepState = "current"
	StepUpcoming  StepState = "upcoming"
)

// OnboardingStepOrder is the fixed progression of the onboarding tutorial.
var OnboardingStepOrder = []string{
	"connectDataSource",
	"runQuery",
	"runPython",
	"createVisualization",
	"publishDashboard",
	"inviteTeamMembers",
}

// ErrUnknownStep reports a step name outside OnboardingStepOrder.
var ErrUnknownStep = errors.New("unknown onboarding step")

func stepIndex(step string) (int, error) {
	for i, s := range OnboardingStepOrder {
		if s == step {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStep, step)
}

// StepStatesFromStep derives per-step display states from the current step.
// Steps before it are completed, the step itself is current, and the rest
// are upcoming. When the tutorial is complete every step reads completed.
func StepStatesFromStep(currentStep string, isComplete bool) (map[string]StepState, error) {
	states := make(map[string]StepState, len(OnboardingStepOrder))
	if isComplete {
		for _, s := range OnboardingStepOrder {
			states[s] = StepCompleted
		}
		return states, nil
	}
	idx, err := stepIndex(currentStep)
	if err != nil {
		return nil, err
	}
	for i, s := range OnboardingStepOrder {
		switch {
		case i < idx:
			states[s] = StepCompleted
		case i == idx:
			states[s] = StepCurrent
		default:
			states[s] = StepUpcoming
		}
	}
	return states, nil
}

// EnsureTutorial returns the workspace's tutorial row, creating it at the
// first step when missing.
func EnsureTutorial(db *gorm.DB, workspaceID string) (models.OnboardingTutorial, error) {
	var tutorial models.OnboardingTutorial
	err := db.Where("workspace_id = ?", workspaceID).First(&tutorial).Error
	if err == nil {
		return tutorial, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.OnboardingTutorial{}, err
	}
	tutorial = models.OnboardingTutorial{
		WorkspaceID: workspaceID,
		CurrentStep: OnboardingStepOrder[0],
		IsComplete:  false,
	}
	if err := db.Create(&tutorial).Error; err != nil {
		return models.OnboardingTutorial{}, fmt.Errorf("create tutorial: %w", err)
	}
	return tutorial, nil
}

// GetTutorialStepStates returns the display states for a workspace's
// tutorial, or nil when no tutorial exists for it.
func GetTutorialStepStates(db *gorm.DB, workspaceID string) (map[string]StepState, error) {
	var tutorial models.OnboardingTutorial
	err := db.Where("workspace_id = ?", workspaceID).First(&tutorial).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return StepStatesFromStep(tutorial.CurrentStep, tutorial.IsComplete)
}

// AdvanceTutorial moves the workspace's tutorial past expectedStep. The
// advance happens only when expectedStep is still the current step, so
// concurrent or repeated triggers of the same step collapse to one move.
// Advancing past the final step flips the tutorial to complete. A workspace
// with no tutorial row is never created here: that case is logged and
// returns nil states, matching the read path. The updated row and its step
// states are returned otherwise.
func AdvanceTutorial(db *gorm.DB, workspaceID, expectedStep string) (models.OnboardingTutorial, map[string]StepState, error) {
	if _, err := stepIndex(expectedStep); err != nil {
		return models.OnboardingTutorial{}, nil, err
	}

	var tutorial models.OnboardingTutorial
	err := db.Where("workspace_id = ?", workspaceID).First(&tutorial).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("Trying to advance tutorial that does not exist: workspace=%s", workspaceID)
		return models.OnboardingTutorial{}, nil, nil
	}
	if err != nil {
		return models.OnboardingTutorial{}, nil, err
	}

	if !tutorial.IsComplete && tutorial.CurrentStep == expectedStep {
		idx, _ := stepIndex(expectedStep)
		if idx == len(OnboardingStepOrder)-1 {
			tutorial.IsComplete = true
		} else {
			tutorial.CurrentStep = OnboardingStepOrder[idx+1]
		}
		// Conditional write keeps concurrent advances of the same step
		// idempotent across processes.
		res := db.Model(&models.OnboardingTutorial{}).
			Where("workspace_id = ? AND current_step = ? AND is_complete = ?", workspaceID, expectedStep, false).
			Updates(map[string]any{
				"current_step": tutorial.CurrentStep,
				"is_complete":  tutorial.IsComplete,
			})
		if res.Error != nil {
			return models.OnboardingTutorial{}, nil, res.Error
		}
		if res.RowsAffected == 0 {
			// Another process advanced first; re-read the winner.
			if err := db.Where("workspace_id = ?", workspaceID).First(&tutorial).Error; err != nil {
				return models.OnboardingTutorial{}, nil, err
			}
		}
	}

	states, err := StepStatesFromStep(tutorial.CurrentStep, tutorial.IsComplete)
	if err != nil {
		return models.OnboardingTutorial{}, nil, err
	}
	return tutorial, states, nil
}
