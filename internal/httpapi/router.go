package httpapi

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/common"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/httpapi/handlers"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/httpapi/middleware"
)

// NewRouter wires the backend API: one route group per entity type for the
// versioned CRUD + sync contract, and the chat archive endpoints. Entity
// mutations require a token; kiosk traffic (sync, get, chat save) runs
// anonymously with optional identity.
func NewRouter(h *handlers.Handler, jwtSecret string) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)

	prefixes := make([]string, 0, len(h.Catalogs))
	for p := range h.Catalogs {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)

	for _, prefix := range prefixes {
		store := h.Catalogs[prefix]
		g := r.Group("/" + prefix)
		g.POST("/sync", h.SyncEntities(store))
		g.GET("/get", h.GetEntity(store))

		mutate := g.Group("/")
		mutate.Use(middleware.AuthRequired(jwtSecret))
		mutate.POST("/add", h.AddEntity(store))
		mutate.POST("/edit", h.EditEntity(store))
		mutate.POST("/delete", h.DeleteEntity(store))
	}

	chatGroup := r.Group("/chat")
	chatGroup.Use(middleware.AuthOptional(jwtSecret))
	chatGroup.POST("/save", h.SaveChat)
	chatGroup.GET("/sessions", h.ListChatSessions)
	chatGroup.GET("/sessions/:session_id", h.GetChatSession)
	chatGroup.GET("/sessions/:session_id/analysis", h.GetSessionAnalysis)
	chatGroup.POST("/delete", h.DeleteChatSession)

	return r
}
