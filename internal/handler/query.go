package handler

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/vedran77/lattice/internal/protocol"
	"github.com/vedran77/lattice/internal/storage"
	"github.com/vedran77/lattice/internal/transport/ws"
	"github.com/vedran77/lattice/pkg/validator"
)

func (h *Handler) handleUserSearch(ctx context.Context, c *ws.Client, req *protocol.Request) {
	var p protocol.UserSearchPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil ||
		(p.UserID == "" && p.Username == "" && p.PublicKey == "") {
		h.respond(ctx, c, req.ID, protocol.StatusBadRequest, nil)
		return
	}
	profile, err := storage.FindProfile(ctx, h.profiles, p.UserID, p.Username, p.PublicKey, "")
	if err != nil {
		h.respond(ctx, c, req.ID, protocol.StatusInternalError, nil)
		return
	}
	// Only device queries trigger a mesh search; server queries answer
	// from local state so lookups cannot ricochet between servers.
	if profile == nil && c.Role() == ws.RoleDevice {
		fetched, err := h.fed.SearchProfile(ctx, p)
		if err == nil {
			profile = fetched
			if err := h.profiles.Add(ctx, fetched); err != nil {
				h.log.Warn("caching fetched profile failed",
					zap.String("userId", fetched.UserID), zap.Error(err))
			}
		}
	}
	if profile == nil {
		h.respond(ctx, c, req.ID, protocol.StatusNotFound, nil)
		return
	}
	h.respond(ctx, c, req.ID, protocol.StatusOK, profile)
}

func (h *Handler) handleUserInfo(ctx context.Context, c *ws.Client, req *protocol.Request) {
	var p protocol.UserInfoPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil || p.UserID == "" {
		h.respond(ctx, c, req.ID, protocol.StatusBadRequest, nil)
		return
	}
	profile, err := h.profiles.GetByID(ctx, p.UserID)
	if err != nil {
		h.respond(ctx, c, req.ID, protocol.StatusInternalError, nil)
		return
	}
	if profile == nil {
		h.respond(ctx, c, req.ID, protocol.StatusNotFound, nil)
		return
	}

	// Strip sections the caller already has at the current version; what
	// remains is exactly the stale part of their snapshot.
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
		h.respond(ctx, c, req.ID, protocol.StatusUpToDate, nil)
		return
	}
	h.respond(ctx, c, req.ID, protocol.StatusOK, reply)
}

func (h *Handler) handlePosts(ctx context.Context, c *ws.Client, req *protocol.Request) {
	var p protocol.PostsPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil || p.UserID == "" ||
		!validator.ValidPostRange(p.BeginIndex, p.EndIndex) {
		h.respond(ctx, c, req.ID, protocol.StatusBadRequest, nil)
		return
	}
	local, err := h.posts.Range(ctx, p.UserID, p.BeginIndex, p.EndIndex)
	if err != nil {
		h.respond(ctx, c, req.ID, protocol.StatusInternalError, nil)
		return
	}
	if int64(len(local)) == p.EndIndex-p.BeginIndex+1 {
		h.respond(ctx, c, req.ID, protocol.StatusOK, local)
		return
	}
	// Incomplete locally; for devices, try to fill the hole from the mesh
	// and keep what we learn.
	if c.Role() == ws.RoleDevice {
		profile, err := h.profiles.GetByID(ctx, p.UserID)
		if err == nil && profile != nil {
			fetched, err := h.fed.FetchPosts(ctx, profile, p.BeginIndex, p.EndIndex)
			if err == nil {
				if err := h.posts.Add(ctx, p.UserID, fetched); err != nil {
					h.log.Warn("caching fetched posts failed",
						zap.String("userId", p.UserID), zap.Error(err))
				}
				h.respond(ctx, c, req.ID, protocol.StatusOK, fetched)
				return
			}
		}
	}
	h.respond(ctx, c, req.ID, protocol.StatusNotFound, nil)
}
