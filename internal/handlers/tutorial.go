// tutorial.go
//
// HTTP handlers for the workspace onboarding tutorial.
//
// This file is part of docsync.
// docsync is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// docsync is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.

package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/notebase/docsync/internal/services"
	"github.com/notebase/docsync/internal/utils"
)

// TutorialHandler handles onboarding tutorial routes
type TutorialHandler struct {
	DB *gorm.DB
}

// GetTutorial handles GET /api/workspaces/:workspace/tutorial
// @Summary Get tutorial step states
// @Description Get per-step display states for a workspace's onboarding tutorial
// @Tags Tutorial
// @Accept json
// @Produce json
// @Param workspace path string true "Workspace ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 500 {object} utils.ErrorResponseStruct
// @Router /workspaces/{workspace}/tutorial [get]
func (h *TutorialHandler) GetTutorial(c *fiber.Ctx) error {
	workspaceID := c.Params("workspace")

	states, err := services.GetTutorialStepStates(h.DB, workspaceID)
	if err != nil {
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "getTutorial")
	}
	if states == nil {
		return utils.NotFoundResponse(c, "No tutorial for workspace '"+workspaceID+"'")
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"steps":     states,
		"stepOrder": services.OnboardingStepOrder,
	})
}

// CreateTutorial handles POST /api/workspaces/:workspace/tutorial
// @Summary Create the onboarding tutorial
// @Description Create the workspace's onboarding tutorial at the first step; returns the existing one when already created
// @Tags Tutorial
// @Accept json
// @Produce json
// @Param workspace path string true "Workspace ID"
// @Success 201 {object} map[string]interface{}
// @Failure 500 {object} utils.ErrorResponseStruct
// @Router /workspaces/{workspace}/tutorial [post]
func (h *TutorialHandler) CreateTutorial(c *fiber.Ctx) error {
	workspaceID := c.Params("workspace")

	tutorial, err := services.EnsureTutorial(h.DB, workspaceID)
	if err != nil {
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "createTutorial")
	}
	states, err := services.StepStatesFromStep(tutorial.CurrentStep, tutorial.IsComplete)
	if err != nil {
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "createTutorial")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"currentStep": tutorial.CurrentStep,
		"isComplete":  tutorial.IsComplete,
		"steps":       states,
		"stepOrder":   services.OnboardingStepOrder,
	})
}

// AdvanceTutorial handles POST /api/workspaces/:workspace/tutorial/advance
// @Summary Advance the tutorial
// @Description Advance the workspace's tutorial past the given step when it is still current
// @Tags Tutorial
// @Accept json
// @Produce json
// @Param workspace path string true "Workspace ID"
// @Param body body object true "Step to advance past"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 500 {object} utils.ErrorResponseStruct
// @Router /workspaces/{workspace}/tutorial/advance [post]
func (h *TutorialHandler) AdvanceTutorial(c *fiber.Ctx) error {
	workspaceID := c.Params("workspace")

	var body struct {
		Step string `json:"step"`
	}
	if err := c.BodyParser(&body); err != nil || body.Step == "" {
		return utils.ErrorResponse(c, "Invalid input", fiber.StatusBadRequest, "tutorial.validation.input")
	}

	tutorial, states, err := services.AdvanceTutorial(h.DB, workspaceID, body.Step)
	if err != nil {
		if errors.Is(err, services.ErrUnknownStep) {
			return utils.ErrorResponse(c, err.Error(), fiber.StatusBadRequest, "tutorial.validation.step")
		}
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "advanceTutorial")
	}
	if states == nil {
		return utils.NotFoundResponse(c, "No tutorial for workspace '"+workspaceID+"'")
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"currentStep": tutorial.CurrentStep,
		"isComplete":  tutorial.IsComplete,
		"steps":       states,
		"stepOrder":   services.OnboardingStepOrder,
	})
}
