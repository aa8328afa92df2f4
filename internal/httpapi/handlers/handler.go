package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/analysis"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/archive"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/catalog"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/common"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/httpapi/middleware"
)

// JobPublisher enqueues analysis jobs; nil disables the pipeline.
type JobPublisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

// Handler carries the constructed backend components. Everything is
// injected; handlers own no state of their own.
type Handler struct {
	Catalogs    map[string]*catalog.Store
	Archiver    *archive.Archiver
	Jobs        *analysis.Repo
	AnalysisSvc *analysis.Service
	Publisher   JobPublisher
}

func NewHandler(catalogs map[string]*catalog.Store, archiver *archive.Archiver, jobs *analysis.Repo, analysisSvc *analysis.Service, pub JobPublisher) *Handler {
	return &Handler{
		Catalogs:    catalogs,
		Archiver:    archiver,
		Jobs:        jobs,
		AnalysisSvc: analysisSvc,
		Publisher:   pub,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func identityFromContext(c *gin.Context) (userID, userName string) {
	if v, ok := c.Get(middleware.UserIDKey); ok {
		userID, _ = v.(string)
	}
	if v, ok := c.Get(middleware.UserNameKey); ok {
		userName, _ = v.(string)
	}
	return userID, userName
}
