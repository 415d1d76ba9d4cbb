// Package bridge is the REST ingress into the realtime core. Events posted
// here flow through the same dispatcher as socket traffic, so both paths
// share one wire contract.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/blacknout/nomada-backend-sub000/internal/dispatch"
	"github.com/blacknout/nomada-backend-sub000/internal/identity"
	"github.com/blacknout/nomada-backend-sub000/internal/notify"
	"github.com/blacknout/nomada-backend-sub000/internal/ridestop"
	"github.com/blacknout/nomada-backend-sub000/internal/wire"
	"github.com/blacknout/nomada-backend-sub000/pkg/config"
	"github.com/blacknout/nomada-backend-sub000/pkg/hub"
)

// ContactStore is the slice of persistence the bridge's settings endpoints
// need.
type ContactStore interface {
	SaveSOSContact(ctx context.Context, userID string, contact *ridestop.SOSContact) error
	SavePushToken(ctx context.Context, userID, token string) error
}

type API struct {
	dispatcher *dispatch.Dispatcher
	hub        *hub.Hub
	scheduler  *notify.Scheduler
	contacts   ContactStore
	jwtSecret  string
	logger     *slog.Logger
}

func New(dispatcher *dispatch.Dispatcher, h *hub.Hub, scheduler *notify.Scheduler, contacts ContactStore, jwtSecret string, logger *slog.Logger) *API {
	return &API{
		dispatcher: dispatcher,
		hub:        h,
		scheduler:  scheduler,
		contacts:   contacts,
		jwtSecret:  jwtSecret,
		logger:     logger.With(slog.String("component", "bridge")),
	}
}

// Router builds the gin engine mounted under /api on the main server.
func (a *API) Router(cfg config.BridgeConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	r.Use(cors.New(corsCfg))

	api := r.Group("/api")
	api.GET("/healthz", a.healthz)

	authed := api.Group("", a.requireAuth())
	authed.POST("/dispatch", a.requireAdmin(), a.dispatchEvent)
	authed.POST("/rooms/join", a.requireAdmin(), a.joinRoom)
	authed.POST("/rooms/leave", a.requireAdmin(), a.leaveRoom)
	authed.POST("/schedules", a.requireAdmin(), a.createSchedule)
	authed.DELETE("/schedules/:id", a.requireAdmin(), a.cancelSchedule)
	authed.PUT("/users/:id/sos-contact", a.saveSOSContact)
	authed.PUT("/users/:id/push-token", a.savePushToken)

	return r
}

func (a *API) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// targetKind → envelope type. REST-triggered user events are server-driven
// notifications, not rider chat, hence notification-update for "user".
var targetTypes = map[string]string{
	"user":      wire.TypeNotificationUpdate,
	"group":     wire.TypeGroupMessage,
	"ride":      wire.TypeRideUpdate,
	"ride-stop": wire.TypeRideStop,
}

type dispatchRequest struct {
	Target   string          `json:"target" binding:"required"`
	TargetID string          `json:"targetId" binding:"required"`
	Payload  json.RawMessage `json:"payload"`
}

func (a *API) dispatchEvent(c *gin.Context) {
	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	envType, ok := targetTypes[req.Target]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown target kind"})
		return
	}
	if len(req.Payload) > 0 && !gjson.ValidBytes(req.Payload) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload is not valid JSON"})
		return
	}

	env := wire.Envelope{Type: envType, Target: req.TargetID, Payload: req.Payload}
	raw, err := json.Marshal(&env)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode envelope"})
		return
	}

	// No socket behind a bridge call, so there is no sender to exclude.
	a.dispatcher.Dispatch(c.Request.Context(), identityFrom(c), uuid.Nil, raw)
	c.JSON(http.StatusAccepted, gin.H{"dispatched": true})
}

type roomRequest struct {
	UserID string `json:"userId" binding:"required"`
	Kind   string `json:"kind" binding:"required"`
	ID     string `json:"id" binding:"required"`
}

func (r *roomRequest) room() (hub.Room, bool) {
	switch r.Kind {
	case "group":
		return hub.GroupRoom(r.ID), true
	case "ride":
		return hub.RideRoom(r.ID), true
	}
	return "", false
}

// joinRoom executes a membership grant decided by domain logic outside the
// core; the hub does not re-validate group or ride membership.
func (a *API) joinRoom(c *gin.Context) {
	var req roomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	room, ok := req.room()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be group or ride"})
		return
	}
	joined := a.hub.JoinRoom(req.UserID, room)
	c.JSON(http.StatusOK, gin.H{"joinedConnections": joined})
}

func (a *API) leaveRoom(c *gin.Context) {
	var req roomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	room, ok := req.room()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be group or ride"})
		return
	}
	a.hub.LeaveRoom(req.UserID, room)
	c.JSON(http.StatusOK, gin.H{"left": true})
}

type scheduleRequest struct {
	UserIDs []string `json:"userIds" binding:"required,min=1"`
	Title   string   `json:"title" binding:"required"`
	Body    string   `json:"body" binding:"required"`
	Trigger string   `json:"trigger" binding:"required"`
}

func (a *API) createSchedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := a.scheduler.Schedule(req.UserIDs, req.Title, req.Body, req.Trigger)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"scheduleId": id})
}

func (a *API) cancelSchedule(c *gin.Context) {
	a.scheduler.Cancel(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

type sosContactRequest struct {
	ContactUserID string `json:"contactUserId"`
	ContactEmail  string `json:"contactEmail"`
}

func (a *API) saveSOSContact(c *gin.Context) {
	userID := c.Param("id")
	caller := identityFrom(c)
	if caller.ID != userID && !caller.IsAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot modify another user's SOS contact"})
		return
	}

	var req sosContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	contact := &ridestop.SOSContact{UserID: req.ContactUserID, Email: req.ContactEmail}
	if err := a.contacts.SaveSOSContact(c.Request.Context(), userID, contact); err != nil {
		a.logger.Error("Failed to save SOS contact", slog.String("userID", userID), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save contact"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": true})
}

type pushTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

func (a *API) savePushToken(c *gin.Context) {
	userID := c.Param("id")
	caller := identityFrom(c)
	if caller.ID != userID && !caller.IsAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot modify another user's push token"})
		return
	}

	var req pushTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.contacts.SavePushToken(c.Request.Context(), userID, req.Token); err != nil {
		a.logger.Error("Failed to save push token", slog.String("userID", userID), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": true})
}

func identityFrom(c *gin.Context) identity.Identity {
	if v, ok := c.Get(identityKey); ok {
		if ident, ok := v.(identity.Identity); ok {
			return ident
		}
	}
	return identity.Identity{}
}
