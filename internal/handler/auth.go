package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vedran77/lattice/internal/crypto"
	"github.com/vedran77/lattice/internal/domain"
	"github.com/vedran77/lattice/internal/protocol"
	"github.com/vedran77/lattice/internal/transport/ws"
	"github.com/vedran77/lattice/internal/validate"
)

const challengeTTL = 5 * time.Minute

// newChallenge embeds the issue time so freshness survives without
// server-side expiry bookkeeping; the value itself is stored on the
// connection.
func newChallenge() string {
	return fmt.Sprintf("%d.%s", time.Now().UnixMilli(), uuid.NewString())
}

func challengeFresh(challenge string) bool {
	ms, _, ok := strings.Cut(challenge, ".")
	if !ok {
		return false
	}
	issued, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return false
	}
	age := time.Since(time.UnixMilli(issued))
	return age >= 0 && age < challengeTTL
}

func (h *Handler) handleChallenge(ctx context.Context, c *ws.Client, req *protocol.Request) {
	challenge := newChallenge()
	c.SetChallenge(challenge)
	h.respond(ctx, c, req.ID, protocol.StatusOK, protocol.ChallengePayload{Challenge: challenge})
}

// takeChallenge consumes the connection's pending challenge; replay of a
// signature requires a fresh handshake.
func takeChallenge(c *ws.Client) (string, bool) {
	challenge := c.Challenge()
	if challenge == "" || !challengeFresh(challenge) {
		return "", false
	}
	c.SetChallenge("")
	return challenge, true
}

// newProfileShape holds registrations to a blank starting state: every
// section present, both lists empty, public visibility, no tombstone. An
// account cannot be born with history.
func newProfileShape(p *domain.UserProfile) bool {
	return !p.Deleted &&
		p.SharePermission == domain.SharePublic &&
		p.Details != nil && p.ProfilePicture != nil &&
		p.Friends != nil && len(p.Friends.Elements) == 0 &&
		p.Blocked != nil && len(p.Blocked.Elements) == 0
}

func (h *Handler) handleRegister(ctx context.Context, c *ws.Client, req *protocol.Request) {
	var p protocol.RegisterPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil || p.NewProfile == nil || p.FirstPost == nil {
		h.respond(ctx, c, req.ID, protocol.StatusBadRequest, nil)
		return
	}
	challenge, ok := takeChallenge(c)
	if !ok {
		h.respond(ctx, c, req.ID, protocol.StatusUnauthorized, nil)
		return
	}
	profile := p.NewProfile
	// both keys must prove possession over the challenge
	if !crypto.Verify(profile.PublicKey, []byte(challenge), p.PublicKeySignature) ||
		!crypto.Verify(profile.RecoveryPublicKey, []byte(challenge), p.RecoveryKeySignature) {
		h.respond(ctx, c, req.ID, protocol.StatusUnauthorized, nil)
		return
	}
	if err := validate.Profile(profile); err != nil {
		h.respond(ctx, c, req.ID, protocol.StatusBadRequest, nil)
		return
	}
	if profile.PostCount != 1 || p.FirstPost.ID != 1 || p.FirstPost.PostType != domain.PostTypeProfileUpdate {
		h.respond(ctx, c, req.ID, protocol.StatusBadRequest, nil)
		return
	}
	if !newProfileShape(profile) {
		h.respond(ctx, c, req.ID, protocol.StatusBadRequest, nil)
		return
	}
	if err := validate.SinglePost(p.FirstPost, profile.PublicKey, profile.RecoveryPublicKey); err != nil {
		h.respond(ctx, c, req.ID, protocol.StatusBadRequest, nil)
		return
	}

	for _, lookup := range []func() (*domain.UserProfile, error){
		func() (*domain.UserProfile, error) { return h.profiles.GetByID(ctx, profile.UserID) },
		func() (*domain.UserProfile, error) { return h.profiles.GetByUsername(ctx, profile.Username) },
		func() (*domain.UserProfile, error) { return h.profiles.GetByPublicKey(ctx, profile.PublicKey) },
	} {
		existing, err := lookup()
		if err != nil {
			h.respond(ctx, c, req.ID, protocol.StatusInternalError, nil)
			return
		}
		if existing != nil {
			h.respond(ctx, c, req.ID, protocol.StatusDenied, nil)
			return
		}
	}

	if err := h.profiles.Add(ctx, profile); err != nil {
		h.respond(ctx, c, req.ID, protocol.StatusInternalError, nil)
		return
	}
	if err := h.posts.Add(ctx, profile.UserID, []domain.Post{*p.FirstPost}); err != nil {
		h.respond(ctx, c, req.ID, protocol.StatusInternalError, nil)
		return
	}
	c.BindUser(profile.UserID)

	token, err := h.tokens.Issue(profile.UserID)
	if err != nil {
		h.log.Warn("resume token issue failed", zap.Error(err))
	}
	h.respond(ctx, c, req.ID, protocol.StatusOK, protocol.AuthResult{Profile: profile, ResumeToken: token})
	h.fed.BroadcastProfileUpdate(ctx, protocol.ProfileUpdatePayload{NewUserProfile: profile, Post: p.FirstPost})
	h.log.Info("user registered", zap.String("userId", profile.UserID), zap.String("username", profile.Username))
}

func (h *Handler) handleAuth(ctx context.Context, c *ws.Client, req *protocol.Request) {
	var p protocol.AuthPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil || p.Username == "" {
		h.respond(ctx, c, req.ID, protocol.StatusBadRequest, nil)
		return
	}
	challenge, ok := takeChallenge(c)
	if !ok {
		h.respond(ctx, c, req.ID, protocol.StatusUnauthorized, nil)
		return
	}
	profile, err := h.profiles.GetByUsername(ctx, p.Username)
	if err != nil {
		h.respond(ctx, c, req.ID, protocol.StatusInternalError, nil)
		return
	}
	if profile == nil {
		h.respond(ctx, c, req.ID, protocol.StatusNotFound, nil)
		return
	}
	if profile.Deleted {
		h.respond(ctx, c, req.ID, protocol.StatusDenied, nil)
		return
	}
	if p.PublicKey != profile.PublicKey ||
		!crypto.Verify(profile.PublicKey, []byte(challenge), p.Signature) {
		h.respond(ctx, c, req.ID, protocol.StatusUnauthorized, nil)
		return
	}
	// a password change proves the recovery key up front, before the
	// KEY_CHANGE post arrives
	if p.RecoveryPublicKey != "" {
		if p.RecoveryPublicKey != profile.RecoveryPublicKey ||
			!crypto.Verify(profile.RecoveryPublicKey, []byte(challenge), p.RecoveryKeySignature) {
			h.respond(ctx, c, req.ID, protocol.StatusUnauthorized, nil)
			return
		}
	}

	c.BindUser(profile.UserID)
	token, err := h.tokens.Issue(profile.UserID)
	if err != nil {
		h.log.Warn("resume token issue failed", zap.Error(err))
	}
	h.respond(ctx, c, req.ID, protocol.StatusOK, protocol.AuthResult{Profile: profile, ResumeToken: token})
}
