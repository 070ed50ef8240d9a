package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/usermodel/internal/logger"
	"github.com/usermodel/internal/service"
	"github.com/usermodel/pkg/response"
)

// RoleHandler handles role API requests
type RoleHandler struct {
	roleService *service.RoleService
	log         *logger.Logger
}

// NewRoleHandler creates a new RoleHandler
func NewRoleHandler(roleService *service.RoleService, log *logger.Logger) *RoleHandler {
	return &RoleHandler{
		roleService: roleService,
		log:         log.With("handler", "RoleHandler"),
	}
}

// ListRoles
// GET /api/v1/roles/roles
func (h *RoleHandler) ListRoles(c *gin.Context) {
	roles, err := h.roleService.FindAll(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, roles)
}

// GetRole
// GET /api/v1/roles/role/:id
func (h *RoleHandler) GetRole(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	role, err := h.roleService.FindByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, role)
}

// GetRoleByName
// GET /api/v1/roles/role/name/:name
func (h *RoleHandler) GetRoleByName(c *gin.Context) {
	role, err := h.roleService.FindByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, role)
}

// CreateRole
// POST /api/v1/roles/role
func (h *RoleHandler) CreateRole(c *gin.Context) {
	var req service.RoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	role, err := h.roleService.Create(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Created(c, role)
}

// RenameRole
// PUT /api/v1/roles/role/:id
func (h *RoleHandler) RenameRole(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req service.RoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	role, err := h.roleService.Rename(c.Request.Context(), id, &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, role)
}

// RegisterRoutes registers role routes; admin guards creation and renames
func (h *RoleHandler) RegisterRoutes(rg *gin.RouterGroup, admin ...gin.HandlerFunc) {
	roles := rg.Group("/roles")
	{
		roles.GET("/roles", h.ListRoles)
		roles.GET("/role/:id", h.GetRole)
		roles.GET("/role/name/:name", h.GetRoleByName)
	}

	write := roles.Group("", admin...)
	{
		write.POST("/role", h.CreateRole)
		write.PUT("/role/:id", h.RenameRole)
	}
}
