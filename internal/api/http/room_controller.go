package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/avelichka/streamcast/internal/api/http/converter"
	"github.com/avelichka/streamcast/internal/domain"
	"github.com/avelichka/streamcast/internal/service"
)

type RoomController struct {
	rooms    service.RoomInteractor
	upgrader websocket.Upgrader
}

func NewRoomController(rooms service.RoomInteractor) *RoomController {
	return &RoomController{
		rooms: rooms,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (c *RoomController) CreateRoom(ctx *gin.Context) {
	type CreateRoomRequest struct {
		Name           string `json:"name" binding:"required"`
		LifetimeMinute int    `json:"lifetime_minutes"`
	}
	var req CreateRoomRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	lifetime := time.Duration(req.LifetimeMinute) * time.Minute
	room, err := c.rooms.CreateRoom(ctx.Request.Context(), req.Name, lifetime)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"room": converter.RoomToApi(room)})
}

func (c *RoomController) GetRoom(ctx *gin.Context) {
	roomID, err := uuid.Parse(ctx.Param("roomID"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	room, err := c.rooms.GetRoom(ctx.Request.Context(), roomID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrRoomExpired) {
			status = http.StatusGone
		}
		ctx.JSON(status, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"room": converter.RoomToApi(room)})
}

func (c *RoomController) GetRoomByLink(ctx *gin.Context) {
	room, err := c.rooms.GetRoomByLink(ctx.Request.Context(), ctx.Param("link"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrRoomExpired) {
			status = http.StatusGone
		}
		ctx.JSON(status, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"room": converter.RoomToApi(room)})
}

func (c *RoomController) ListParticipants(ctx *gin.Context) {
	roomID, err := uuid.Parse(ctx.Param("roomID"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	participants, err := c.rooms.ListParticipants(ctx.Request.Context(), roomID)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"participants": participants})
}

// JoinRoom upgrades to a websocket and pumps signaling envelopes between the
// peer and the room until the socket closes.
func (c *RoomController) JoinRoom(ctx *gin.Context) {
	roomID, err := uuid.Parse(ctx.Param("roomID"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	peerID := ctx.Query("peer_id")
	if peerID == "" {
		peerID = uuid.New().String()
	}

	role := domain.Role(ctx.Query("role"))
	if !role.Valid() {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "role must be broadcaster or viewer"})
		return
	}

	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		ctx.String(http.StatusInternalServerError, "failed to upgrade connection")
		return
	}

	peer, err := c.rooms.RegisterPeer(context.Background(), roomID, peerID, role)
	if err != nil {
		conn.WriteJSON(gin.H{"error": err.Error()})
		conn.Close()
		return
	}
	peer.Socket = conn
	peer.SetStatus(domain.PeerStatusConnected)

	go forwardPeerEvents(peer)

	for {
		var env domain.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			_ = c.rooms.UnregisterPeer(context.Background(), roomID, peer.ID)
			conn.Close()
			return
		}

		if err := c.rooms.HandleSignal(context.Background(), roomID, peer.ID, &env); err != nil {
			if errors.Is(err, service.ErrPeerNotFound) && env.Kind == domain.KindLeaveRoom {
				conn.Close()
				return
			}
			// Error replies go through the event queue: forwardPeerEvents is
			// the only socket writer once it is running.
			peer.EnqueueEvent(domain.Envelope{
				Kind:  domain.KindError,
				Room:  roomID.String(),
				Error: err.Error(),
			})
			continue
		}

		if env.Kind == domain.KindLeaveRoom {
			conn.Close()
			return
		}
	}
}

func forwardPeerEvents(peer *domain.Peer) {
	for event := range peer.Events {
		if peer.Socket == nil {
			return
		}
		if err := peer.Socket.WriteJSON(event); err != nil {
			return
		}
	}
}
