package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/usermodel/internal/database"
	"gorm.io/gorm"
)

// BuildInfo identifies the running binary
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// HealthHandler reports liveness and database reachability
type HealthHandler struct {
	db    *gorm.DB
	build BuildInfo
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(db *gorm.DB, build BuildInfo) *HealthHandler {
	return &HealthHandler{db: db, build: build}
}

// Health
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status, code, dbStatus := "ok", http.StatusOK, "ok"
	if err := database.Ping(ctx, h.db); err != nil {
		status, code, dbStatus = "degraded", http.StatusServiceUnavailable, err.Error()
	}

	c.JSON(code, gin.H{
		"status":     status,
		"database":   dbStatus,
		"version":    h.build.Version,
		"commit":     h.build.Commit,
		"build_time": h.build.BuildTime,
		"time":       time.Now().Unix(),
	})
}

// RegisterRoutes registers the health route at the router root
func (h *HealthHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health", h.Health)
}
