package handler

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/vedran77/lattice/internal/domain"
	"github.com/vedran77/lattice/internal/protocol"
	"github.com/vedran77/lattice/internal/transport/ws"
	"github.com/vedran77/lattice/internal/validate"
)

const backfillTimeout = 30 * time.Second

// handleProfileUpdate enforces the append rules: the companion post's id
// must equal the new postCount, the new postCount must follow the stored
// one, and a gap is only bridged when the mesh can corroborate every
// missing post.
func (h *Handler) handleProfileUpdate(ctx context.Context, c *ws.Client, req *protocol.Request) {
	var p protocol.ProfileUpdatePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil || p.NewUserProfile == nil || p.Post == nil {
		h.respond(ctx, c, req.ID, protocol.StatusBadRequest, nil)
		return
	}
	update := p.NewUserProfile
	if err := validate.Profile(update); err != nil {
		h.respond(ctx, c, req.ID, protocol.StatusBadRequest, nil)
		return
	}
	// a device may only append to its own log
	if c.Role() == ws.RoleDevice && c.UserID() != update.UserID {
		h.respond(ctx, c, req.ID, protocol.StatusDenied, nil)
		return
	}
	if p.Post.ID != update.PostCount {
		h.respond(ctx, c, req.ID, protocol.StatusBadRequest, nil)
		return
	}

	old, err := h.profiles.GetByID(ctx, update.UserID)
	if err != nil {
		h.respond(ctx, c, req.ID, protocol.StatusInternalError, nil)
		return
	}
	if old == nil {
		h.handleFirstSighting(ctx, c, req, &p)
		return
	}
	if old.Deleted {
		// deletion is terminal
		h.respond(ctx, c, req.ID, protocol.StatusDenied, nil)
		return
	}
	if update.PostCount <= old.PostCount {
		h.respond(ctx, c, req.ID, protocol.StatusUpToDate, nil)
		return
	}
	if update.RecoveryPublicKey != old.RecoveryPublicKey {
		h.respond(ctx, c, req.ID, protocol.StatusBadRequest, nil)
		return
	}
	gap := update.PostCount > old.PostCount+1
	if !gap {
		// Direct successor: the post's signing key must connect to the
		// stored one. With a gap the chain walk below proves continuity
		// instead, since a rotation may sit anywhere in the missing range.
		if p.Post.PostType == domain.PostTypeKeyChange {
			if p.Post.Content == nil || p.Post.Content.OldPublicKey != old.PublicKey {
				h.respond(ctx, c, req.ID, protocol.StatusBadRequest, nil)
				return
			}
		} else if update.PublicKey != old.PublicKey {
			h.respond(ctx, c, req.ID, protocol.StatusBadRequest, nil)
			return
		}
	}
	if err := validate.SinglePost(p.Post, update.PublicKey, update.RecoveryPublicKey); err != nil {
		h.respond(ctx, c, req.ID, protocol.StatusBadRequest, nil)
		return
	}

	posts := []domain.Post{*p.Post}
	if gap {
		// Fill the gap from the mesh before accepting: the fetched range
		// must chain from the stored key up to whatever key signed the
		// post before this one.
		lastKey := update.PublicKey
		if p.Post.PostType == domain.PostTypeKeyChange {
			lastKey = p.Post.Content.OldPublicKey
		}
		fetched, err := h.fed.FetchPostsBetween(ctx, update.UserID, update.RecoveryPublicKey,
			old.PostCount+1, update.PostCount-1, old.PublicKey, lastKey)
		if err != nil {
			h.log.Debug("gap not corroborated",
				zap.String("userId", update.UserID),
				zap.Int64("have", old.PostCount),
				zap.Int64("got", update.PostCount),
				zap.Error(err))
			h.respond(ctx, c, req.ID, protocol.StatusBadRequest, nil)
			return
		}
		posts = append(fetched, posts...)
	}

	if err := h.rec.ProcessNewPosts(ctx, update, posts); err != nil {
		h.respond(ctx, c, req.ID, protocol.StatusInternalError, nil)
		return
	}
	h.respond(ctx, c, req.ID, protocol.StatusOK, nil)
	if c.Role() == ws.RoleDevice {
		h.fed.BroadcastProfileUpdate(ctx, p)
	}
}

// handleFirstSighting stores a profile another server gossiped about.
// Devices cannot introduce foreign users this way.
func (h *Handler) handleFirstSighting(ctx context.Context, c *ws.Client, req *protocol.Request, p *protocol.ProfileUpdatePayload) {
	if c.Role() != ws.RoleServer {
		h.respond(ctx, c, req.ID, protocol.StatusDenied, nil)
		return
	}
	update := p.NewUserProfile
	if err := validate.SinglePost(p.Post, update.PublicKey, update.RecoveryPublicKey); err != nil {
		h.respond(ctx, c, req.ID, protocol.StatusBadRequest, nil)
		return
	}
	if err := h.profiles.Add(ctx, update); err != nil {
		h.respond(ctx, c, req.ID, protocol.StatusInternalError, nil)
		return
	}
	if err := h.posts.Add(ctx, update.UserID, []domain.Post{*p.Post}); err != nil {
		h.respond(ctx, c, req.ID, protocol.StatusInternalError, nil)
		return
	}
	h.respond(ctx, c, req.ID, protocol.StatusOK, nil)

	// backfill the history asynchronously; the snapshot is already usable
	if update.PostCount > 1 {
		lastKey := update.PublicKey
		if p.Post.PostType == domain.PostTypeKeyChange {
			lastKey = p.Post.Content.OldPublicKey
		}
		go func(update *domain.UserProfile, upTo int64, lastKey string) {
			ctx, cancel := context.WithTimeout(context.Background(), backfillTimeout)
			defer cancel()
			fetched, err := h.fed.FetchPostsBetween(ctx, update.UserID, update.RecoveryPublicKey,
				1, upTo, "", lastKey)
			if err != nil {
				h.log.Debug("history backfill failed",
					zap.String("userId", update.UserID), zap.Error(err))
				return
			}
			if err := h.posts.Add(ctx, update.UserID, fetched); err != nil {
				h.log.Warn("history backfill store failed",
					zap.String("userId", update.UserID), zap.Error(err))
			}
		}(update.Clone(), update.PostCount-1, lastKey)
	}
}
