package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/analysis"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/archive"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/common"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/wire"
)

// SaveChat handles POST /chat/save: archives a finished session and queues
// its speech-pattern analysis. An authenticated caller's identity overrides
// whatever the kiosk put in the payload.
func (h *Handler) SaveChat(c *gin.Context) {
	var req wire.ChatSaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.SessionID == "" || req.AvatarID == "" {
		common.Fail(c, http.StatusBadRequest, 10003, "missing session or avatar id")
		return
	}
	if len(req.Messages) == 0 {
		common.Fail(c, http.StatusBadRequest, 40003, "empty sessions are not archived")
		return
	}
	if uid, uname := identityFromContext(c); uid != "" {
		req.UserID = uid
		req.UserName = uname
	}

	session := archive.FromSaveRequest(req, time.Now())
	if err := h.Archiver.Save(c.Request.Context(), session); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50010, "failed to archive session")
		return
	}

	h.enqueueAnalysis(c, req.SessionID, req.AvatarID)
	common.OK(c, gin.H{"sessionId": req.SessionID})
}

// enqueueAnalysis is best-effort: the session is already durable, so a
// queueing failure only delays the report.
func (h *Handler) enqueueAnalysis(c *gin.Context, sessionID, avatarID string) {
	if h.Jobs == nil || h.Publisher == nil {
		return
	}
	job := &analysis.Job{
		ID:        ulid.Make().String(),
		SessionID: sessionID,
		AvatarID:  avatarID,
		Status:    analysis.JobQueued,
	}
	job, created, err := h.Jobs.CreateJobOrGetExisting(c.Request.Context(), job)
	if err != nil {
		log.Printf("chat save: create analysis job for %s: %v", sessionID, err)
		return
	}
	if !created && job.Status == analysis.JobSucceeded {
		return
	}
	if err := h.Publisher.PublishJob(c.Request.Context(), job.ID); err != nil {
		log.Printf("chat save: publish analysis job %s: %v", job.ID, err)
	}
}

// GetChatSession handles GET /chat/sessions/:session_id.
func (h *Handler) GetChatSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	session, err := h.Archiver.Get(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, 40405, "session not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50011, "failed to load session")
		return
	}
	common.OK(c, session)
}

// ListChatSessions handles GET /chat/sessions with optional avatar_id,
// user_id, start, end (RFC 3339) and limit query parameters. Listing reads
// only the session index.
func (h *Handler) ListChatSessions(c *gin.Context) {
	f := archive.Filter{
		AvatarID: c.Query("avatar_id"),
		UserID:   c.Query("user_id"),
	}
	if v := c.Query("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			common.Fail(c, http.StatusBadRequest, 10004, "invalid start time")
			return
		}
		f.StartDate = t
	}
	if v := c.Query("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			common.Fail(c, http.StatusBadRequest, 10004, "invalid end time")
			return
		}
		f.EndDate = t
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			f.Limit = n
		}
	}

	metas, err := h.Archiver.List(c.Request.Context(), f)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50012, "failed to list sessions")
		return
	}
	common.OK(c, gin.H{"sessions": metas})
}

type deleteChatReq struct {
	SessionID string `json:"sessionId" binding:"required"`
}

// DeleteChatSession handles POST /chat/delete.
func (h *Handler) DeleteChatSession(c *gin.Context) {
	var req deleteChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := h.Archiver.Delete(c.Request.Context(), req.SessionID); err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, 40405, "session not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50013, "failed to delete session")
		return
	}
	common.OK(c, nil)
}

// GetSessionAnalysis handles GET /chat/sessions/:session_id/analysis: job
// status plus the report once the worker has produced one.
func (h *Handler) GetSessionAnalysis(c *gin.Context) {
	if h.Jobs == nil || h.AnalysisSvc == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "analysis disabled")
		return
	}
	sessionID := c.Param("session_id")

	job, err := h.Jobs.GetJobBySessionID(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40406, "no analysis for session")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50014, "failed to load analysis job")
		return
	}

	resp := gin.H{"status": job.Status}
	if job.Status == analysis.JobSucceeded {
		report, err := h.AnalysisSvc.Report(c.Request.Context(), sessionID)
		if err != nil {
			common.Fail(c, http.StatusInternalServerError, 50015, "failed to load report")
			return
		}
		resp["report"] = report
	}
	if job.Error != nil {
		resp["error"] = *job.Error
	}
	common.OK(c, resp)
}
