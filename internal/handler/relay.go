package handler

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/vedran77/lattice/internal/protocol"
	"github.com/vedran77/lattice/internal/transport/ws"
)

// handleEstablishConnection relays signaling between two users. The server
// never looks inside Payload; offers and answers are sealed for the
// destination.
func (h *Handler) handleEstablishConnection(ctx context.Context, c *ws.Client, req *protocol.Request) {
	var p protocol.EstablishConnectionPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil ||
		p.SenderUserID == "" || p.DestinationUserID == "" || p.ContentType == "" {
		h.respond(ctx, c, req.ID, protocol.StatusBadRequest, nil)
		return
	}
	if c.Role() == ws.RoleDevice && c.UserID() != p.SenderUserID {
		h.respond(ctx, c, req.ID, protocol.StatusDenied, nil)
		return
	}

	if target := h.hub.ByUser(p.DestinationUserID); target != nil {
		fwd, err := protocol.NewRequest(protocol.TypeEstablishConnection, p)
		if err != nil {
			h.respond(ctx, c, req.ID, protocol.StatusInternalError, nil)
			return
		}
		data, err := json.Marshal(fwd)
		if err != nil {
			h.respond(ctx, c, req.ID, protocol.StatusInternalError, nil)
			return
		}
		if err := target.Send(ctx, data); err != nil {
			h.log.Debug("signal delivery failed",
				zap.String("destination", p.DestinationUserID), zap.Error(err))
			h.respond(ctx, c, req.ID, protocol.StatusNotFound, nil)
			return
		}
		h.respond(ctx, c, req.ID, protocol.StatusOK, nil)
		return
	}

	// Not here. A device-originated signal takes one hop through the mesh;
	// a server-originated one stops, so signals cannot loop.
	if c.Role() == ws.RoleDevice {
		h.fed.RelaySignal(ctx, p)
		h.respond(ctx, c, req.ID, protocol.StatusOK, nil)
		return
	}
	h.respond(ctx, c, req.ID, protocol.StatusNotFound, nil)
}

// handleRecommendedPeer suggests another online device to sync from, or
// this server when nobody else is around.
func (h *Handler) handleRecommendedPeer(ctx context.Context, c *ws.Client, req *protocol.Request) {
	for _, device := range h.hub.Devices() {
		if id := device.UserID(); id != "" && id != c.UserID() {
			h.respond(ctx, c, req.ID, protocol.StatusOK, protocol.RecommendedPeerPayload{PeerID: id})
			return
		}
	}
	h.respond(ctx, c, req.ID, protocol.StatusOK, protocol.RecommendedPeerPayload{IsServer: true})
}

func (h *Handler) handleServerHello(ctx context.Context, c *ws.Client, req *protocol.Request) {
	if c.Role() != ws.RoleServer {
		h.respond(ctx, c, req.ID, protocol.StatusDenied, nil)
		return
	}
	var hello protocol.ServerHelloPayload
	if err := json.Unmarshal(req.Payload, &hello); err != nil || hello.Address == "" {
		h.respond(ctx, c, req.ID, protocol.StatusBadRequest, nil)
		return
	}
	ours := h.fed.AcceptInbound(c, hello)
	h.respond(ctx, c, req.ID, protocol.StatusOK, ours)
}
