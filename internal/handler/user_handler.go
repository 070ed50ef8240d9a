package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/usermodel/internal/events"
	"github.com/usermodel/internal/logger"
	"github.com/usermodel/internal/service"
	"github.com/usermodel/pkg/response"
)

const (
	eventWriteWait  = 10 * time.Second
	eventPongWait   = 60 * time.Second
	eventPingPeriod = (eventPongWait * 9) / 10
)

// UserHandler handles user API requests
type UserHandler struct {
	userService *service.UserService
	subscriber  events.Subscriber
	upgrader    websocket.Upgrader
	log         *logger.Logger
}

// NewUserHandler creates a new UserHandler. A nil subscriber disables the event stream.
func NewUserHandler(userService *service.UserService, subscriber events.Subscriber, log *logger.Logger) *UserHandler {
	return &UserHandler{
		userService: userService,
		subscriber:  subscriber,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// origins are enforced by the CORS middleware for regular requests
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log.With("handler", "UserHandler"),
	}
}

// ListUsers returns every user
// GET /api/v1/users/users
func (h *UserHandler) ListUsers(c *gin.Context) {
	users, err := h.userService.FindAll(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, users)
}

// GetUser returns one user with emails and roles
// GET /api/v1/users/user/:id
func (h *UserHandler) GetUser(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	user, err := h.userService.FindByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, user)
}

// GetUserByName returns the user with exactly that username
// GET /api/v1/users/user/name/:name
func (h *UserHandler) GetUserByName(c *gin.Context) {
	user, err := h.userService.FindByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, user)
}

// SearchUsers returns a page of users whose username contains the fragment
// GET /api/v1/users/user/name/like/:name?page=1&page_size=20
func (h *UserHandler) SearchUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	users, total, err := h.userService.FindByNameContaining(c.Request.Context(), c.Param("name"), page, pageSize)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.SuccessPaginated(c, users, total, page, pageSize)
}

// CreateUser inserts a new user
// POST /api/v1/users/user
func (h *UserHandler) CreateUser(c *gin.Context) {
	var req service.UserInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	user, err := h.userService.Insert(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.Header("Location", c.Request.URL.Path+"/"+strconv.FormatUint(uint64(user.ID), 10))
	response.Created(c, user)
}

// ReplaceUser overwrites a user and both of its collections
// PUT /api/v1/users/user/:id
func (h *UserHandler) ReplaceUser(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req service.UserInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	user, err := h.userService.FullReplace(c.Request.Context(), id, &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, user)
}

// UpdateUser applies the fields present in the body
// PATCH /api/v1/users/user/:id
func (h *UserHandler) UpdateUser(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req service.UserPatch
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	user, err := h.userService.PartialUpdate(c.Request.Context(), id, &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, user)
}

// DeleteUser removes a user with its emails and role links
// DELETE /api/v1/users/user/:id
func (h *UserHandler) DeleteUser(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.userService.Delete(c.Request.Context(), id); err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, nil)
}

// CountEmails reports secondary email counts per user
// GET /api/v1/users/user/email/count
func (h *UserHandler) CountEmails(c *gin.Context) {
	counts, err := h.userService.CountEmailsPerUser(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, counts)
}

// AddRole links a role to a user
// POST /api/v1/users/user/:id/role/:roleid
func (h *UserHandler) AddRole(c *gin.Context) {
	userID, ok := parseID(c, "id")
	if !ok {
		return
	}
	roleID, ok := parseID(c, "roleid")
	if !ok {
		return
	}
	if err := h.userService.AddUserRole(c.Request.Context(), userID, roleID); err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Created(c, gin.H{"userid": userID, "roleid": roleID})
}

// RemoveRole unlinks a role from a user
// DELETE /api/v1/users/user/:id/role/:roleid
func (h *UserHandler) RemoveRole(c *gin.Context) {
	userID, ok := parseID(c, "id")
	if !ok {
		return
	}
	roleID, ok := parseID(c, "roleid")
	if !ok {
		return
	}
	if err := h.userService.RemoveUserRole(c.Request.Context(), userID, roleID); err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, nil)
}

// StreamEvents forwards committed user changes to a websocket client
// GET /api/v1/users/events
func (h *UserHandler) StreamEvents(c *gin.Context) {
	if h.subscriber == nil {
		response.ServiceUnavailable(c, "event stream is disabled")
		return
	}

	msgs, cancel, err := h.subscriber.Subscribe(c.Request.Context())
	if err != nil {
		h.log.Error("event subscribe failed", "error", err)
		response.ServiceUnavailable(c, "event stream unavailable")
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// the read pump only notices the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(eventPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(eventPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(eventPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case msg, ok := <-msgs:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(eventWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventWriteWait)); err != nil {
				return
			}
		}
	}
}

// RegisterRoutes registers user routes. Reads are public, mutations go through protected.
func (h *UserHandler) RegisterRoutes(rg *gin.RouterGroup, protected ...gin.HandlerFunc) {
	users := rg.Group("/users")
	{
		users.GET("/users", h.ListUsers)
		users.GET("/user/:id", h.GetUser)
		users.GET("/user/name/:name", h.GetUserByName)
		users.GET("/user/name/like/:name", h.SearchUsers)
		users.GET("/user/email/count", h.CountEmails)
		users.GET("/events", h.StreamEvents)
	}

	write := users.Group("", protected...)
	{
		write.POST("/user", h.CreateUser)
		write.PUT("/user/:id", h.ReplaceUser)
		write.PATCH("/user/:id", h.UpdateUser)
		write.DELETE("/user/:id", h.DeleteUser)
		write.POST("/user/:id/role/:roleid", h.AddRole)
		write.DELETE("/user/:id/role/:roleid", h.RemoveRole)
	}
}
