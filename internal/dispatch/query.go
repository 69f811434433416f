package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/vedran77/lattice/internal/domain"
	"github.com/vedran77/lattice/internal/protocol"
	"github.com/vedran77/lattice/internal/validate"
)

var ErrNoProfile = errors.New("no remote returned a usable profile")

// SearchProfile fans the search out to every conn and keeps the answer with
// the highest signed postCount, since a higher count can only come from a
// newer snapshot. Invalid or unverifiable profiles are dropped before the
// comparison; ties keep the first arrival.
func (d *Dispatcher) SearchProfile(ctx context.Context, conns []Conn, query protocol.UserSearchPayload, timeout time.Duration) (*domain.UserProfile, error) {
	results := d.FanOut(ctx, conns, protocol.TypeUserSearch, query, timeout)

	var best *domain.UserProfile
	for _, r := range results {
		if r.Response.Status != protocol.StatusOK {
			continue
		}
		var profile domain.UserProfile
		if err := json.Unmarshal(r.Response.Payload, &profile); err != nil {
			d.log.Debug("unreadable search result",
				zap.String("addr", r.Conn.Addr()), zap.Error(err))
			continue
		}
		if err := validate.Profile(&profile); err != nil {
			d.log.Debug("discarding invalid search result",
				zap.String("addr", r.Conn.Addr()), zap.Error(err))
			continue
		}
		if !matchesQuery(&profile, query) {
			d.log.Debug("discarding search result for the wrong user",
				zap.String("addr", r.Conn.Addr()), zap.String("userId", profile.UserID))
			continue
		}
		if best == nil || profile.PostCount > best.PostCount {
			best = &profile
		}
	}
	if best == nil {
		return nil, ErrNoProfile
	}
	return best, nil
}

// matchesQuery rejects answers for anyone other than who was asked about; a
// valid signature on the wrong user's profile is still the wrong answer.
func matchesQuery(p *domain.UserProfile, q protocol.UserSearchPayload) bool {
	if q.UserID != "" && p.UserID != q.UserID {
		return false
	}
	if q.Username != "" && p.Username != q.Username {
		return false
	}
	if q.PublicKey != "" && p.PublicKey != q.PublicKey {
		return false
	}
	return true
}

// FetchPosts walks conns sequentially until one returns the full requested
// range with an unbroken signature chain anchored at the profile's current
// key on both ends. For ranges that may contain a key rotation use
// FetchPostsBetween with the endpoint keys spelled out.
func (d *Dispatcher) FetchPosts(ctx context.Context, conns []Conn, profile *domain.UserProfile, begin, end int64, budget time.Duration) ([]domain.Post, error) {
	return d.FetchPostsBetween(ctx, conns, profile.UserID, profile.RecoveryPublicKey,
		begin, end, profile.PublicKey, profile.PublicKey, budget)
}

// FetchPostsBetween fetches [begin, end] of userID's log, trying one conn at
// a time until a source returns the full range with an unbroken chain.
// firstPublicKey is the key trusted immediately before begin (irrelevant
// when begin is 1), lastPublicKey the key in force at end; KEY_CHANGE posts
// inside the range rotate between them.
func (d *Dispatcher) FetchPostsBetween(ctx context.Context, conns []Conn, userID, recoveryPublicKey string, begin, end int64, firstPublicKey, lastPublicKey string, budget time.Duration) ([]domain.Post, error) {
	payload := protocol.PostsPayload{
		UserID:     userID,
		BeginIndex: begin,
		EndIndex:   end,
	}
	var posts []domain.Post
	_, err := d.Sequential(ctx, conns, protocol.TypePosts, payload, budget, func(resp *protocol.Response) error {
		if resp.Status != protocol.StatusOK {
			return errors.New("remote answered " + string(resp.Status))
		}
		var got []domain.Post
		if err := json.Unmarshal(resp.Payload, &got); err != nil {
			return err
		}
		if int64(len(got)) != end-begin+1 || len(got) == 0 || got[0].ID != begin {
			return errors.New("remote returned the wrong range")
		}
		if err := validate.PostRange(got, recoveryPublicKey, lastPublicKey, firstPublicKey); err != nil {
			return err
		}
		posts = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return posts, nil
}

// UserInfo asks one remote whether it holds anything newer than the local
// snapshot. An UP_TO_DATE answer returns (nil, nil); an OK answer carries a
// partial profile with only the stale sections present.
func (d *Dispatcher) UserInfo(ctx context.Context, conn Conn, local *domain.UserProfile, timeout time.Duration) (*domain.UserProfile, error) {
	req, err := protocol.NewRequest(protocol.TypeUserInfo, protocol.UserInfoRequestFor(local))
	if err != nil {
		return nil, err
	}
	resp, err := d.Do(ctx, conn, req, timeout)
	if err != nil {
		return nil, err
	}
	switch resp.Status {
	case protocol.StatusUpToDate:
		return nil, nil
	case protocol.StatusOK:
	default:
		return nil, errors.New("remote answered " + string(resp.Status))
	}
	var profile domain.UserProfile
	if err := json.Unmarshal(resp.Payload, &profile); err != nil {
		return nil, err
	}
	if err := validate.Profile(&profile); err != nil {
		return nil, err
	}
	return &profile, nil
}
