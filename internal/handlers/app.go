// app.go
//
// HTTP handlers for published apps and their per-user instances.
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

	"github.com/notebase/docsync/internal/apps"
	"github.com/notebase/docsync/internal/coordinator"
	"github.com/notebase/docsync/internal/models"
	"github.com/notebase/docsync/internal/persist"
	"github.com/notebase/docsync/internal/services"
	"github.com/notebase/docsync/internal/types"
	"github.com/notebase/docsync/internal/utils"
)

// AppHandler handles published app routes
type AppHandler struct {
	DB    *gorm.DB
	Coord *coordinator.Coordinator
}

func (h *AppHandler) app(c *fiber.Ctx) (models.AppDocument, bool, error) {
	documentID := c.Params("document")
	app, err := services.GetApp(h.DB, documentID)
	if err != nil {
		if errors.Is(err, services.ErrAppNotFound) {
			return models.AppDocument{}, false, utils.NotFoundResponse(c, "No app published for document '"+documentID+"'")
		}
		return models.AppDocument{}, false, utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "getApp")
	}
	return app, true, nil
}

// PublishApp handles POST /api/documents/:document/app
// @Summary Publish an app
// @Description Publish a document as an app, or return the existing one
// @Tags Apps
// @Accept json
// @Produce json
// @Param document path string true "Document ID"
// @Success 201 {object} models.AppDocument
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 500 {object} utils.ErrorResponseStruct
// @Router /documents/{document}/app [post]
func (h *AppHandler) PublishApp(c *fiber.Ctx) error {
	documentID := c.Params("document")

	if _, err := services.GetDocument(h.DB, documentID); err != nil {
		if errors.Is(err, services.ErrDocumentNotFound) {
			return utils.NotFoundResponse(c, "Document '"+documentID+"' not found")
		}
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "publishApp")
	}

	app, err := services.PublishApp(h.DB, documentID)
	if err != nil {
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "publishApp")
	}
	return c.Status(fiber.StatusCreated).JSON(app)
}

// GrantAppInstance handles POST /api/apps/:document/users/:user
// @Summary Grant an app instance
// @Description Seed a user's private instance of an app from the canonical document
// @Tags Apps
// @Accept json
// @Produce json
// @Param document path string true "Document ID"
// @Param user path string true "User ID"
// @Success 200 {object} utils.SuccessResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 500 {object} utils.ErrorResponseStruct
// @Failure 503 {object} utils.ErrorResponseStruct
// @Router /apps/{document}/users/{user} [post]
func (h *AppHandler) GrantAppInstance(c *fiber.Ctx) error {
	app, ok, err := h.app(c)
	if !ok {
		return err
	}
	userID := c.Params("user")

	if err := services.GrantAppInstance(c.Context(), h.DB, h.Coord, app, userID); err != nil {
		if errors.Is(err, coordinator.ErrLockTimeout) {
			return utils.LockTimeoutResponse(c)
		}
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "grantAppInstance")
	}
	return utils.SuccessResponse(c, fiber.Map{"message": "Success", "ok": true}, fiber.StatusOK)
}

// GetAppInstance handles GET /api/apps/:document/users/:user
// @Summary Get an app instance
// @Description Get the current content of a user's app instance
// @Tags Apps
// @Accept json
// @Produce json
// @Param document path string true "Document ID"
// @Param user path string true "User ID"
// @Success 200 {object} services.DocumentOverview
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 500 {object} utils.ErrorResponseStruct
// @Failure 503 {object} utils.ErrorResponseStruct
// @Router /apps/{document}/users/{user} [get]
func (h *AppHandler) GetAppInstance(c *fiber.Ctx) error {
	app, ok, err := h.app(c)
	if !ok {
		return err
	}
	userID := c.Params("user")

	key := coordinator.AppKey(app.DocumentID, app.ID, userID)
	p := persist.NewAppPersistor(h.DB, app.ID, userID)
	view, err := services.ReadDocument(c.Context(), h.Coord, key, p)
	if err != nil {
		if errors.Is(err, coordinator.ErrLockTimeout) {
			return utils.LockTimeoutResponse(c)
		}
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "getAppInstance")
	}
	view.Version, err = services.AppInstanceStateVersion(h.DB, app.ID, userID)
	if err != nil {
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "getAppInstance")
	}
	return c.Status(fiber.StatusOK).JSON(view)
}

// ApplyAppInstanceUpdates handles POST /api/apps/:document/users/:user/updates
// @Summary Apply app instance updates
// @Description Apply one or more incremental updates to a user's app instance
// @Tags Apps
// @Accept json
// @Produce json
// @Param document path string true "Document ID"
// @Param user path string true "User ID"
// @Param body body object true "Version and base64 updates"
// @Success 200 {object} utils.SuccessResponseStruct
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 409 {object} utils.ErrorResponseStruct
// @Failure 500 {object} utils.ErrorResponseStruct
// @Failure 503 {object} utils.ErrorResponseStruct
// @Router /apps/{document}/users/{user}/updates [post]
func (h *AppHandler) ApplyAppInstanceUpdates(c *fiber.Ctx) error {
	app, ok, err := h.app(c)
	if !ok {
		return err
	}
	userID := c.Params("user")

	var body struct {
		Version types.FlexUint64       `json:"version"`
		Updates types.FlexList[string] `json:"updates"`
	}
	if err := c.BodyParser(&body); err != nil {
		return utils.ErrorResponse(c, "Invalid input", fiber.StatusBadRequest, "app.validation.input")
	}
	updates, err := decodeUpdates(body.Updates.Slice())
	if err != nil {
		return utils.ErrorResponse(c, err.Error(), fiber.StatusBadRequest, "app.validation.input")
	}

	newVersion, err := services.EditAppInstance(c.Context(), h.DB, h.Coord, app, userID, updates, body.Version.Uint64())
	if err != nil {
		switch {
		case errors.Is(err, services.ErrVersionConflict):
			return utils.VersionErrorResponse(c)
		case errors.Is(err, coordinator.ErrLockTimeout):
			return utils.LockTimeoutResponse(c)
		}
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "applyAppInstanceUpdates")
	}
	return utils.MutationSuccessResponse(c, newVersion, int64(len(updates)))
}

// RevokeAppInstance handles DELETE /api/apps/:document/users/:user
// @Summary Revoke an app instance
// @Description Delete a user's app instance
// @Tags Apps
// @Accept json
// @Produce json
// @Param document path string true "Document ID"
// @Param user path string true "User ID"
// @Success 200 {object} utils.SuccessResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 500 {object} utils.ErrorResponseStruct
// @Failure 503 {object} utils.ErrorResponseStruct
// @Router /apps/{document}/users/{user} [delete]
func (h *AppHandler) RevokeAppInstance(c *fiber.Ctx) error {
	app, ok, err := h.app(c)
	if !ok {
		return err
	}
	userID := c.Params("user")

	if err := services.RevokeAppInstance(c.Context(), h.DB, h.Coord, app, userID); err != nil {
		if errors.Is(err, coordinator.ErrLockTimeout) {
			return utils.LockTimeoutResponse(c)
		}
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "revokeAppInstance")
	}
	return utils.SuccessResponse(c, fiber.Map{"message": "Success", "ok": true}, fiber.StatusOK)
}

// PropagateAppState handles POST /api/apps/:document/propagate
// @Summary Propagate app state
// @Description Push the canonical document's current state to every user instance of its app
// @Tags Apps
// @Accept json
// @Produce json
// @Param document path string true "Document ID"
// @Success 200 {object} utils.SuccessResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 500 {object} utils.ErrorResponseStruct
// @Failure 502 {object} utils.ErrorResponseStruct
// @Failure 503 {object} utils.ErrorResponseStruct
// @Router /apps/{document}/propagate [post]
func (h *AppHandler) PropagateAppState(c *fiber.Ctx) error {
	app, ok, err := h.app(c)
	if !ok {
		return err
	}

	err = services.PropagateAppState(c.Context(), h.DB, h.Coord, app)
	if err != nil {
		var pe *apps.PropagationError
		switch {
		case errors.As(err, &pe):
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"status":      fiber.StatusBadGateway,
				"message":     pe.Error(),
				"ok":          false,
				"failedUsers": pe.FailedUserIDs(),
			})
		case errors.Is(err, coordinator.ErrLockTimeout):
			return utils.LockTimeoutResponse(c)
		}
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "propagateAppState")
	}
	return utils.SuccessResponse(c, fiber.Map{"message": "Success", "ok": true}, fiber.StatusOK)
}
