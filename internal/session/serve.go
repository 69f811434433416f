package session

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/vedran77/lattice/internal/dispatch"
	"github.com/vedran77/lattice/internal/protocol"
	"github.com/vedran77/lattice/internal/storage"
	"github.com/vedran77/lattice/internal/transport/peer"
	"github.com/vedran77/lattice/internal/transport/ws"
	"github.com/vedran77/lattice/pkg/validator"
)

// OnSignal registers the callback for relayed signaling payloads (offers,
// answers, ICE candidates addressed to this device).
func (s *Session) OnSignal(fn func(p protocol.EstablishConnectionPayload)) {
	s.mu.Lock()
	s.onSignal = fn
	s.mu.Unlock()
}

// HandleRequest implements ws.Router for the device's server connections:
// servers forward signaling and may query the device like any peer.
func (s *Session) HandleRequest(ctx context.Context, c *ws.Client, req *protocol.Request) {
	s.handleRequest(ctx, c, req)
}

// ServePeer wires an established peer channel into the session: inbound
// responses feed the dispatcher, inbound requests are answered from the
// local mirror. remoteUserID names who the channel was negotiated with.
func (s *Session) ServePeer(end *peer.End, remoteUserID string) {
	s.AddPeer(end, remoteUserID)
	go end.Serve(func(data []byte) {
		req, resp, err := protocol.Parse(data)
		if err != nil {
			s.log.Debug("unparseable peer frame", zap.String("addr", end.Addr()), zap.Error(err))
			return
		}
		if resp != nil {
			s.d.HandleResponse(resp)
			return
		}
		go s.handleRequest(context.Background(), end, req)
	})
}

func (s *Session) handleRequest(ctx context.Context, from dispatch.Conn, req *protocol.Request) {
	switch req.Type {
	case protocol.TypePing:
		s.respond(ctx, from, req.ID, protocol.StatusOK, nil)
	case protocol.TypeUserSearch:
		s.serveUserSearch(ctx, from, req)
	case protocol.TypeUserInfo:
		s.serveUserInfo(ctx, from, req)
	case protocol.TypePosts:
		s.servePosts(ctx, from, req)
	case protocol.TypeEstablishConnection:
		s.serveSignal(ctx, from, req)
	default:
		s.respond(ctx, from, req.ID, protocol.StatusBadRequest, nil)
	}
}

func (s *Session) respond(ctx context.Context, to dispatch.Conn, requestID string, status protocol.Status, payload any) {
	resp, err := protocol.NewResponse(requestID, status, payload)
	if err != nil {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := to.Send(ctx, data); err != nil {
		s.log.Debug("peer response dropped", zap.String("addr", to.Addr()), zap.Error(err))
	}
}

func (s *Session) serveUserSearch(ctx context.Context, from dispatch.Conn, req *protocol.Request) {
	var p protocol.UserSearchPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		s.respond(ctx, from, req.ID, protocol.StatusBadRequest, nil)
		return
	}
	if own := s.Profile(); own != nil {
		if own.UserID == p.UserID || own.Username == p.Username || own.PublicKey == p.PublicKey {
			s.respond(ctx, from, req.ID, protocol.StatusOK, own)
			return
		}
	}
	cached, err := storage.FindProfile(ctx, s.profiles, p.UserID, p.Username, p.PublicKey, "")
	if err != nil || cached == nil {
		s.respond(ctx, from, req.ID, protocol.StatusNotFound, nil)
		return
	}
	s.respond(ctx, from, req.ID, protocol.StatusOK, cached)
}

func (s *Session) serveUserInfo(ctx context.Context, from dispatch.Conn, req *protocol.Request) {
	var p protocol.UserInfoPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil || p.UserID == "" {
		s.respond(ctx, from, req.ID, protocol.StatusBadRequest, nil)
		return
	}
	profile := s.Profile()
	if profile == nil || profile.UserID != p.UserID {
		var err error
		profile, err = s.profiles.GetByID(ctx, p.UserID)
		if err != nil || profile == nil {
			s.respond(ctx, from, req.ID, protocol.StatusNotFound, nil)
			return
		}
	}

	reply := profile.BasicFields()
	newer := profile.PostCount > p.PostCount
	if profile.Details != nil && profile.Details.VersionLock.Version > p.DetailsVersion {
		reply.Details = profile.Details
		newer = true
	}
	if profile.ProfilePicture != nil && profile.ProfilePicture.VersionLock.Version > p.ProfilePictureVersion {
		reply.ProfilePicture = profile.ProfilePicture
		newer = true
	}
	if profile.Friends != nil && profile.Friends.VersionLock.Version > p.FriendListVersion {
		reply.Friends = profile.Friends
		newer = true
	}
	if profile.Blocked != nil && profile.Blocked.VersionLock.Version > p.BlockedListVersion {
		reply.Blocked = profile.Blocked
		newer = true
	}
	if !newer {
		s.respond(ctx, from, req.ID, protocol.StatusUpToDate, nil)
		return
	}
	s.respond(ctx, from, req.ID, protocol.StatusOK, reply)
}

func (s *Session) servePosts(ctx context.Context, from dispatch.Conn, req *protocol.Request) {
	var p protocol.PostsPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil || p.UserID == "" ||
		!validator.ValidPostRange(p.BeginIndex, p.EndIndex) {
		s.respond(ctx, from, req.ID, protocol.StatusBadRequest, nil)
		return
	}
	local, err := s.posts.Range(ctx, p.UserID, p.BeginIndex, p.EndIndex)
	if err != nil || int64(len(local)) != p.EndIndex-p.BeginIndex+1 {
		// a partial answer would just fail the requester's chain check
		s.respond(ctx, from, req.ID, protocol.StatusNotFound, nil)
		return
	}
	s.respond(ctx, from, req.ID, protocol.StatusOK, local)
}

func (s *Session) serveSignal(ctx context.Context, from dispatch.Conn, req *protocol.Request) {
	var p protocol.EstablishConnectionPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		s.respond(ctx, from, req.ID, protocol.StatusBadRequest, nil)
		return
	}
	own := s.Profile()
	if own == nil || p.DestinationUserID != own.UserID {
		s.respond(ctx, from, req.ID, protocol.StatusNotFound, nil)
		return
	}
	s.mu.Lock()
	fn := s.onSignal
	s.mu.Unlock()
	if fn != nil {
		fn(p)
	}
	s.respond(ctx, from, req.ID, protocol.StatusOK, nil)
}
