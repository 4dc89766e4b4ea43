// document.go
//
// HTTP handlers for canonical document operations.
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

	"github.com/notebase/docsync/internal/coordinator"
	"github.com/notebase/docsync/internal/persist"
	"github.com/notebase/docsync/internal/services"
	"github.com/notebase/docsync/internal/types"
	"github.com/notebase/docsync/internal/utils"
)

// DocumentHandler handles canonical document routes
type DocumentHandler struct {
	DB    *gorm.DB
	Coord *coordinator.Coordinator
}

// CreateDocument handles POST /api/documents
// @Summary Create a document
// @Description Create a new canonical document in a workspace
// @Tags Documents
// @Accept json
// @Produce json
// @Param body body object true "Workspace and title"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 500 {object} utils.ErrorResponseStruct
// @Router /documents [post]
func (h *DocumentHandler) CreateDocument(c *fiber.Ctx) error {
	var body struct {
		WorkspaceID string `json:"workspaceId"`
		Title       string `json:"title"`
	}
	if err := c.BodyParser(&body); err != nil || body.WorkspaceID == "" {
		return utils.ErrorResponse(c, "Invalid input", fiber.StatusBadRequest, "document.validation.input")
	}

	doc, err := services.CreateDocument(h.DB, body.WorkspaceID, body.Title)
	if err != nil {
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "createDocument")
	}
	return c.Status(fiber.StatusCreated).JSON(doc)
}

// GetDocument handles GET /api/documents/:document
// @Summary Get document content
// @Description Get the current title, blocks, layout, dashboard, and dataframes of a document
// @Tags Documents
// @Accept json
// @Produce json
// @Param document path string true "Document ID"
// @Success 200 {object} services.DocumentOverview
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 500 {object} utils.ErrorResponseStruct
// @Router /documents/{document} [get]
func (h *DocumentHandler) GetDocument(c *fiber.Ctx) error {
	documentID := c.Params("document")

	if _, err := services.GetDocument(h.DB, documentID); err != nil {
		if errors.Is(err, services.ErrDocumentNotFound) {
			return utils.NotFoundResponse(c, "Document '"+documentID+"' not found")
		}
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "getDocument")
	}

	key := coordinator.DocKey(documentID)
	p := persist.NewDocumentPersistor(h.DB, documentID)
	view, err := services.ReadDocument(c.Context(), h.Coord, key, p)
	if err != nil {
		if errors.Is(err, coordinator.ErrLockTimeout) {
			return utils.LockTimeoutResponse(c)
		}
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "getDocument")
	}
	view.Version, err = services.DocumentStateVersion(h.DB, documentID)
	if err != nil {
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "getDocument")
	}
	return c.Status(fiber.StatusOK).JSON(view)
}

// ApplyDocumentUpdates handles POST /api/documents/:document/updates
// @Summary Apply document updates
// @Description Apply one or more incremental updates to a document
// @Tags Documents
// @Accept json
// @Produce json
// @Param document path string true "Document ID"
// @Param body body object true "Version and base64 updates"
// @Success 200 {object} utils.SuccessResponseStruct
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 409 {object} utils.ErrorResponseStruct
// @Failure 500 {object} utils.ErrorResponseStruct
// @Failure 503 {object} utils.ErrorResponseStruct
// @Router /documents/{document}/updates [post]
func (h *DocumentHandler) ApplyDocumentUpdates(c *fiber.Ctx) error {
	documentID := c.Params("document")

	var body struct {
		Version types.FlexUint64       `json:"version"`
		Updates types.FlexList[string] `json:"updates"`
	}
	if err := c.BodyParser(&body); err != nil {
		return utils.ErrorResponse(c, "Invalid input", fiber.StatusBadRequest, "document.validation.input")
	}
	updates, err := decodeUpdates(body.Updates.Slice())
	if err != nil {
		return utils.ErrorResponse(c, err.Error(), fiber.StatusBadRequest, "document.validation.input")
	}

	if _, err := services.GetDocument(h.DB, documentID); err != nil {
		if errors.Is(err, services.ErrDocumentNotFound) {
			return utils.NotFoundResponse(c, "Document '"+documentID+"' not found")
		}
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "applyDocumentUpdates")
	}

	newVersion, err := services.EditDocument(c.Context(), h.DB, h.Coord, documentID, updates, body.Version.Uint64())
	if err != nil {
		switch {
		case errors.Is(err, services.ErrVersionConflict):
			return utils.VersionErrorResponse(c)
		case errors.Is(err, coordinator.ErrLockTimeout):
			return utils.LockTimeoutResponse(c)
		}
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "applyDocumentUpdates")
	}
	return utils.MutationSuccessResponse(c, newVersion, int64(len(updates)))
}

// DuplicateDocument handles POST /api/documents/:document/duplicate
// @Summary Duplicate a document
// @Description Copy a document into a new one with fresh block identifiers
// @Tags Documents
// @Accept json
// @Produce json
// @Param document path string true "Source document ID"
// @Param body body object true "Optional title and datasource remapping"
// @Success 201 {object} map[string]interface{}
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 500 {object} utils.ErrorResponseStruct
// @Failure 503 {object} utils.ErrorResponseStruct
// @Router /documents/{document}/duplicate [post]
func (h *DocumentHandler) DuplicateDocument(c *fiber.Ctx) error {
	documentID := c.Params("document")

	var body struct {
		Title         string            `json:"title"`
		DatasourceMap map[string]string `json:"datasourceMap"`
	}
	// Body is optional; an empty body duplicates with defaults.
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return utils.ErrorResponse(c, "Invalid input", fiber.StatusBadRequest, "document.validation.input")
		}
	}

	prevDoc, err := services.GetDocument(h.DB, documentID)
	if err != nil {
		if errors.Is(err, services.ErrDocumentNotFound) {
			return utils.NotFoundResponse(c, "Document '"+documentID+"' not found")
		}
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "duplicateDocument")
	}

	renameTitle := func(title string) string {
		if body.Title != "" {
			return body.Title
		}
		return title + " (copy)"
	}

	var newDoc struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		created, err := services.CreateDocument(tx, prevDoc.WorkspaceID, renameTitle(prevDoc.Title))
		if err != nil {
			return err
		}
		newDoc.ID = created.ID
		newDoc.Title = created.Title
		return services.DuplicateDocument(c.Context(), tx, h.Coord, prevDoc, created, renameTitle, body.DatasourceMap)
	})
	if err != nil {
		if errors.Is(err, coordinator.ErrLockTimeout) {
			return utils.LockTimeoutResponse(c)
		}
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "duplicateDocument")
	}
	return c.Status(fiber.StatusCreated).JSON(newDoc)
}

// RestoreDocument handles POST /api/documents/:document/restore
// @Summary Compact document history
// @Description Re-seed a document's persisted state from its current content, dropping history
// @Tags Documents
// @Accept json
// @Produce json
// @Param document path string true "Document ID"
// @Success 200 {object} utils.SuccessResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 500 {object} utils.ErrorResponseStruct
// @Failure 503 {object} utils.ErrorResponseStruct
// @Router /documents/{document}/restore [post]
func (h *DocumentHandler) RestoreDocument(c *fiber.Ctx) error {
	documentID := c.Params("document")

	if _, err := services.GetDocument(h.DB, documentID); err != nil {
		if errors.Is(err, services.ErrDocumentNotFound) {
			return utils.NotFoundResponse(c, "Document '"+documentID+"' not found")
		}
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "restoreDocument")
	}

	if err := services.RestoreWithoutHistory(c.Context(), h.DB, h.Coord, documentID); err != nil {
		if errors.Is(err, coordinator.ErrLockTimeout) {
			return utils.LockTimeoutResponse(c)
		}
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "restoreDocument")
	}
	return utils.SuccessResponse(c, fiber.Map{"message": "Success", "ok": true}, fiber.StatusOK)
}
