package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/catalog"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/common"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/entity"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/wire"
)

// AddEntity handles POST /{type}/add.
func (h *Handler) AddEntity(store *catalog.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req wire.AddRequest
		if err := c.ShouldBindJSON(&req); err != nil || len(req.Entity) == 0 {
			common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
			return
		}
		version, err := store.Create(c.Request.Context(), req.Entity)
		if err != nil {
			switch {
			case errors.Is(err, entity.ErrReservedID):
				common.Fail(c, http.StatusBadRequest, 40002, "identifier is reserved")
			case errors.Is(err, catalog.ErrExists):
				common.Fail(c, http.StatusConflict, 40901, "entity already exists")
			default:
				common.Fail(c, http.StatusInternalServerError, 50001, "failed to create entity")
			}
			return
		}
		common.OK(c, wire.AddResponse{Version: version})
	}
}

// EditEntity handles POST /{type}/edit with expected-version enforcement.
func (h *Handler) EditEntity(store *catalog.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req wire.EditRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" || len(req.Entity) == 0 {
			common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
			return
		}
		version, err := store.Edit(c.Request.Context(), req.ID, req.Entity, req.ExpectedVersion)
		if err != nil {
			switch {
			case errors.Is(err, catalog.ErrNotFound):
				common.Fail(c, http.StatusNotFound, 40404, "entity not found")
			case errors.Is(err, catalog.ErrConflict):
				common.Fail(c, http.StatusConflict, 40902, "version conflict")
			default:
				common.Fail(c, http.StatusInternalServerError, 50002, "failed to edit entity")
			}
			return
		}
		common.OK(c, wire.EditResponse{Version: version})
	}
}

// GetEntity handles GET /{type}/get?id=.
func (h *Handler) GetEntity(store *catalog.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Query("id")
		if id == "" {
			common.Fail(c, http.StatusBadRequest, 10002, "missing id")
			return
		}
		raw, version, err := store.Fetch(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				common.Fail(c, http.StatusNotFound, 40404, "entity not found")
				return
			}
			common.Fail(c, http.StatusInternalServerError, 50003, "failed to fetch entity")
			return
		}
		common.OK(c, wire.FetchResponse{Entity: raw, Version: version})
	}
}

// DeleteEntity handles POST /{type}/delete.
func (h *Handler) DeleteEntity(store *catalog.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req wire.DeleteRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" {
			common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
			return
		}
		if err := store.Delete(c.Request.Context(), req.ID); err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				common.Fail(c, http.StatusNotFound, 40404, "entity not found")
				return
			}
			common.Fail(c, http.StatusInternalServerError, 50004, "failed to delete entity")
			return
		}
		common.OK(c, nil)
	}
}

// SyncEntities handles POST /{type}/sync: the manifest comparison the kiosk
// engine reconciles against.
func (h *Handler) SyncEntities(store *catalog.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req wire.SyncRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
			return
		}
		resp, err := store.Reconcile(c.Request.Context(), req.LocalVersions)
		if err != nil {
			common.Fail(c, http.StatusInternalServerError, 50005, "failed to reconcile")
			return
		}
		common.OK(c, resp)
	}
}
