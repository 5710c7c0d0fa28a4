package http

import (
	"context"
	"io"
	"net/http"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"
	"rillcall/internal/core/services"
	"rillcall/internal/infrastructure/middleware"
	"rillcall/internal/infrastructure/signal"
	"rillcall/pkg/errors"
	"rillcall/pkg/validation"

	"github.com/gin-gonic/gin"
)

const eventBuffer = 64

// Diagnostics runs STUN/TURN reachability checks.
type Diagnostics interface {
	TestStunConnectivity(ctx context.Context, url string) domain.ConnectivityResult
	TestTurnConnectivity(ctx context.Context, url, username, credential string) domain.ConnectivityResult
}

// RouteGuards are optional middlewares; nil entries are skipped.
type RouteGuards struct {
	Authenticate  gin.HandlerFunc
	AuthorizeRoom gin.HandlerFunc
	LimitStreams  gin.HandlerFunc
}

type CallHandler struct {
	rooms       *services.RoomService
	diagnostics Diagnostics
	events      *signal.EventStream
}

func NewCallHandler(rooms *services.RoomService, diagnostics Diagnostics, events *signal.EventStream) *CallHandler {
	RegisterErrors()
	return &CallHandler{
		rooms:       rooms,
		diagnostics: diagnostics,
		events:      events,
	}
}

func (h *CallHandler) SetupRoutes(router *gin.Engine, guards RouteGuards) {
	api := router.Group("/api/v1")

	authed := api.Group("", chain(guards.Authenticate)...)
	authed.GET("/rooms", h.ListRooms)
	authed.GET("/diagnostics/stun", h.TestStun)
	authed.GET("/diagnostics/turn", h.TestTurn)

	room := authed.Group("/rooms/:room", chain(guards.AuthorizeRoom)...)
	{
		room.PUT("/quality", h.SetQuality)
		room.POST("/mute", h.ToggleMute)
		room.POST("/camera", h.SwitchCamera)
		room.POST("/camera/toggle", h.ToggleCamera)
		room.POST("/screen-share", h.StartScreenShare)
		room.DELETE("/screen-share", h.StopScreenShare)
		room.GET("/events", append(chain(guards.LimitStreams), h.StreamEvents)...)

		peer := room.Group("/peers/:peer")
		peer.POST("/offer", h.CreateOffer)
		peer.POST("/accept", h.AcceptOffer)
		peer.POST("/answer", h.CompleteHandshake)
		peer.POST("/candidates", h.AddCandidate)
		peer.GET("/stats", h.GetStats)
		peer.DELETE("", h.RemovePeer)
	}
}

type offerRequest struct {
	Video *bool `json:"video"`
}

type acceptRequest struct {
	Offer domain.SessionDescriptor `json:"offer"`
	Video *bool                    `json:"video"`
}

type qualityRequest struct {
	Quality string `json:"quality" binding:"required"`
}

type cameraRequest struct {
	DeviceID string `json:"deviceId"`
}

func (h *CallHandler) CreateOffer(c *gin.Context) {
	room, peer, ok := pathIDs(c)
	if !ok {
		return
	}
	var req offerRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	mesh, err := h.rooms.Join(c.Request.Context(), room, peer)
	if err != nil {
		_ = c.Error(err)
		return
	}
	offer, err := mesh.CreateOfferForPeer(c.Request.Context(), peer, videoEnabled(req.Video))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, offer)
}

func (h *CallHandler) AcceptOffer(c *gin.Context) {
	room, peer, ok := pathIDs(c)
	if !ok {
		return
	}
	var req acceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if err := req.Offer.Validate(); err != nil {
		_ = c.Error(err)
		return
	}

	mesh, err := h.rooms.Join(c.Request.Context(), room, peer)
	if err != nil {
		_ = c.Error(err)
		return
	}
	answer, err := mesh.AcceptOfferFromPeer(c.Request.Context(), peer, req.Offer, videoEnabled(req.Video))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, answer)
}

func (h *CallHandler) CompleteHandshake(c *gin.Context) {
	room, peer, ok := pathIDs(c)
	if !ok {
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		_ = c.Error(errors.NewInvalidInputError("invalid request body"))
		return
	}
	answer, err := domain.ParseSessionDescriptor(body)
	if err != nil {
		_ = c.Error(err)
		return
	}

	mesh, err := h.rooms.Room(room)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if err := mesh.CompleteHandshakeForPeer(c.Request.Context(), peer, answer); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CallHandler) AddCandidate(c *gin.Context) {
	room, peer, ok := pathIDs(c)
	if !ok {
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		_ = c.Error(errors.NewInvalidInputError("invalid request body"))
		return
	}
	candidate, err := domain.ParseIceCandidate(body)
	if err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	mesh, err := h.rooms.Room(room)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if err := mesh.AddICECandidateForPeer(c.Request.Context(), peer, candidate); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CallHandler) RemovePeer(c *gin.Context) {
	room, peer, ok := pathIDs(c)
	if !ok {
		return
	}
	if err := h.rooms.Leave(c.Request.Context(), room, peer); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CallHandler) GetStats(c *gin.Context) {
	room, peer, ok := pathIDs(c)
	if !ok {
		return
	}
	mesh, err := h.rooms.Room(room)
	if err != nil {
		_ = c.Error(err)
		return
	}
	stats, err := mesh.GetStats(c.Request.Context(), peer)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *CallHandler) SetQuality(c *gin.Context) {
	mesh, ok := h.room(c)
	if !ok {
		return
	}
	var req qualityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewInvalidInputError("quality is required"))
		return
	}
	tier, err := domain.ParseQualityTier(req.Quality)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if err := mesh.SetVideoQuality(tier); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quality": tier})
}

func (h *CallHandler) ToggleMute(c *gin.Context) {
	mesh, ok := h.room(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"muted": mesh.ToggleMute()})
}

func (h *CallHandler) ToggleCamera(c *gin.Context) {
	mesh, ok := h.room(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"cameraOff": mesh.ToggleCamera()})
}

func (h *CallHandler) SwitchCamera(c *gin.Context) {
	mesh, ok := h.room(c)
	if !ok {
		return
	}
	var req cameraRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	if err := validation.ValidateDeviceID(req.DeviceID); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := mesh.SwitchCamera(c.Request.Context(), req.DeviceID); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CallHandler) StartScreenShare(c *gin.Context) {
	mesh, ok := h.room(c)
	if !ok {
		return
	}
	stream, err := mesh.StartScreenShare(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sharing": true, "streamId": stream.ID()})
}

func (h *CallHandler) StopScreenShare(c *gin.Context) {
	mesh, ok := h.room(c)
	if !ok {
		return
	}
	mesh.StopScreenShare()
	c.JSON(http.StatusOK, gin.H{"sharing": mesh.IsScreenSharing()})
}

// StreamEvents upgrades to a websocket carrying the room's events for the
// calling peer.
func (h *CallHandler) StreamEvents(c *gin.Context) {
	mesh, ok := h.room(c)
	if !ok {
		return
	}

	peer := c.Query("peer")
	if claims, ok := middleware.Claims(c); ok {
		peer = string(claims.PeerID)
	}
	if err := validation.ValidatePeerID(peer); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	events, cancel := mesh.Subscribe(eventBuffer)
	h.events.Serve(c.Writer, c.Request, signal.Subscription{
		Room:   domain.RoomID(c.Param("room")),
		Peer:   domain.PeerID(peer),
		Events: events,
		Cancel: cancel,
	})
}

func (h *CallHandler) ListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.rooms.Rooms()})
}

func (h *CallHandler) TestStun(c *gin.Context) {
	url := c.Query("url")
	if err := validation.ValidateICEURL(url); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	c.JSON(http.StatusOK, h.diagnostics.TestStunConnectivity(c.Request.Context(), url))
}

func (h *CallHandler) TestTurn(c *gin.Context) {
	url := c.Query("url")
	if err := validation.ValidateICEURL(url); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	result := h.diagnostics.TestTurnConnectivity(c.Request.Context(), url, c.Query("username"), c.Query("credential"))
	c.JSON(http.StatusOK, result)
}

func (h *CallHandler) room(c *gin.Context) (ports.Mesh, bool) {
	room := c.Param("room")
	if err := validation.ValidateRoomID(room); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return nil, false
	}
	mesh, err := h.rooms.Room(domain.RoomID(room))
	if err != nil {
		_ = c.Error(err)
		return nil, false
	}
	return mesh, true
}

func pathIDs(c *gin.Context) (domain.RoomID, domain.PeerID, bool) {
	room, peer := c.Param("room"), c.Param("peer")
	if err := validation.ValidateRoomID(room); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return "", "", false
	}
	if err := validation.ValidatePeerID(peer); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return "", "", false
	}
	return domain.RoomID(room), domain.PeerID(peer), true
}

// bindOptionalJSON binds a body when one is present.
func bindOptionalJSON(c *gin.Context, obj interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(obj); err != nil {
		_ = c.Error(errors.NewInvalidInputError("invalid request format"))
		return false
	}
	return true
}

func videoEnabled(v *bool) bool {
	return v == nil || *v
}

func chain(handlers ...gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}
