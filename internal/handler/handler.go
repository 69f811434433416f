// Package handler implements the wire protocol on the server side: the
// challenge handshake, profile and post queries with federation fallback,
// the profile update sequencing rules, and signaling relay.
package handler

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/vedran77/lattice/internal/federation"
	"github.com/vedran77/lattice/internal/protocol"
	"github.com/vedran77/lattice/internal/reconcile"
	"github.com/vedran77/lattice/internal/storage"
	"github.com/vedran77/lattice/internal/transport/ws"
)

type Handler struct {
	log      *zap.Logger
	profiles storage.ProfileRepository
	posts    storage.PostRepository
	rec      *reconcile.Reconciler
	fed      *federation.Manager
	hub      *ws.Hub
	tokens   *Issuer
}

func New(profiles storage.ProfileRepository, posts storage.PostRepository, rec *reconcile.Reconciler, fed *federation.Manager, hub *ws.Hub, tokens *Issuer, log *zap.Logger) *Handler {
	return &Handler{
		log:      log,
		profiles: profiles,
		posts:    posts,
		rec:      rec,
		fed:      fed,
		hub:      hub,
		tokens:   tokens,
	}
}

// HandleRequest implements ws.Router.
func (h *Handler) HandleRequest(ctx context.Context, c *ws.Client, req *protocol.Request) {
	switch req.Type {
	case protocol.TypePing:
		h.respond(ctx, c, req.ID, protocol.StatusOK, nil)
	case protocol.TypeChallenge:
		h.handleChallenge(ctx, c, req)
	case protocol.TypeRegister:
		h.handleRegister(ctx, c, req)
	case protocol.TypeAuthToServer:
		h.handleAuth(ctx, c, req)
	case protocol.TypeUserSearch:
		h.handleUserSearch(ctx, c, req)
	case protocol.TypeUserInfo:
		h.handleUserInfo(ctx, c, req)
	case protocol.TypePosts:
		h.handlePosts(ctx, c, req)
	case protocol.TypeProfileUpdate:
		h.handleProfileUpdate(ctx, c, req)
	case protocol.TypeEstablishConnection:
		h.handleEstablishConnection(ctx, c, req)
	case protocol.TypeRecommendedPeer:
		h.handleRecommendedPeer(ctx, c, req)
	case protocol.TypeServerHello:
		h.handleServerHello(ctx, c, req)
	default:
		h.respond(ctx, c, req.ID, protocol.StatusBadRequest, nil)
	}
}

func (h *Handler) respond(ctx context.Context, c *ws.Client, requestID string, status protocol.Status, payload any) {
	resp, err := protocol.NewResponse(requestID, status, payload)
	if err != nil {
		h.log.Error("response not serializable", zap.Error(err))
		resp, _ = protocol.NewResponse(requestID, protocol.StatusInternalError, nil)
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := c.Send(ctx, data); err != nil {
		h.log.Debug("response dropped", zap.String("addr", c.Addr()), zap.Error(err))
	}
}
