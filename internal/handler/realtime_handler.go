package handler

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/labrecord-api/internal/realtime"
	"github.com/noah-isme/labrecord-api/internal/utils"
)

// RealtimeHandler upgrades authenticated requests to hub connections.
type RealtimeHandler struct {
	hub    *realtime.Hub
	ctx    context.Context
	logger zerolog.Logger
}

// NewRealtimeHandler constructs the handler. ctx bounds every connection it serves.
func NewRealtimeHandler(ctx context.Context, hub *realtime.Hub, logger zerolog.Logger) *RealtimeHandler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &RealtimeHandler{
		hub:    hub,
		ctx:    ctx,
		logger: logger.With().Str("component", "realtime_handler").Logger(),
	}
}

// Register attaches the websocket endpoint.
func (h *RealtimeHandler) Register(router fiber.Router) {
	router.Use("/ws", h.upgrade)
	router.Get("/ws", websocket.New(h.serve))
}

func (h *RealtimeHandler) upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return utils.SendError(c, fiber.StatusUpgradeRequired, "websocket upgrade required")
	}
	principal, err := principalFromContext(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}
	c.Locals("identity", realtime.Identity{
		UserID:   principal.UserID,
		Role:     principal.Role,
		SchoolID: principal.SchoolID,
	})
	return c.Next()
}

func (h *RealtimeHandler) serve(conn *websocket.Conn) {
	identity, ok := conn.Locals("identity").(realtime.Identity)
	if !ok || identity.UserID == 0 {
		_ = conn.Close()
		return
	}

	h.logger.Debug().
		Uint("user_id", identity.UserID).
		Str("role", strings.ToLower(identity.Role)).
		Msg("realtime connection opened")
	h.hub.Serve(h.ctx, conn, identity)
	h.logger.Debug().Uint("user_id", identity.UserID).Msg("realtime connection closed")
}
