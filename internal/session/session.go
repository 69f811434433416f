// Package session is the device side of the protocol: it owns the signing
// key for the lifetime of a login, keeps the local mirror of the user's
// profile and log, and turns every action into a signed profile update with
// its companion post. Reads go to peers first and fall back to servers;
// writes always go to a server.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vedran77/lattice/internal/content"
	"github.com/vedran77/lattice/internal/crypto"
	"github.com/vedran77/lattice/internal/dispatch"
	"github.com/vedran77/lattice/internal/domain"
	"github.com/vedran77/lattice/internal/protocol"
	"github.com/vedran77/lattice/internal/storage"
	"github.com/vedran77/lattice/pkg/validator"
)

var (
	ErrNoServer         = errors.New("no server connection available")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotFound         = errors.New("nothing found")
)

type Session struct {
	log *zap.Logger
	d   *dispatch.Dispatcher

	// local mirror of everything this device has verified
	profiles storage.ProfileRepository
	posts    storage.PostRepository

	mu       sync.Mutex
	key      *crypto.KeyPair
	profile  *domain.UserProfile
	resume   string
	servers  []dispatch.Conn
	peers    []peerLink
	onSignal func(p protocol.EstablishConnectionPayload)
}

// peerLink remembers which user sits on the other end of a direct channel,
// so blocking that user can sever the link.
type peerLink struct {
	conn   dispatch.Conn
	userID string
}

func New(d *dispatch.Dispatcher, profiles storage.ProfileRepository, posts storage.PostRepository, log *zap.Logger) *Session {
	return &Session{
		log:      log,
		d:        d,
		profiles: profiles,
		posts:    posts,
	}
}

func (s *Session) AddServer(conn dispatch.Conn) {
	s.mu.Lock()
	s.servers = append(s.servers, conn)
	s.mu.Unlock()
}

func (s *Session) AddPeer(conn dispatch.Conn, userID string) {
	s.mu.Lock()
	s.peers = append(s.peers, peerLink{conn: conn, userID: userID})
	s.mu.Unlock()
}

// dropPeer severs every direct link to userID.
func (s *Session) dropPeer(userID string) {
	s.mu.Lock()
	kept := s.peers[:0]
	var severed []dispatch.Conn
	for _, p := range s.peers {
		if p.userID == userID {
			severed = append(severed, p.conn)
			continue
		}
		kept = append(kept, p)
	}
	s.peers = kept
	s.mu.Unlock()
	for _, conn := range severed {
		if closer, ok := conn.(interface{ Close() }); ok {
			closer.Close()
		}
	}
}

func (s *Session) serverConns() []dispatch.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dispatch.Conn(nil), s.servers...)
}

func (s *Session) peerConns() []dispatch.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := make([]dispatch.Conn, 0, len(s.peers))
	for _, p := range s.peers {
		conns = append(conns, p.conn)
	}
	return conns
}

func (s *Session) primary() (dispatch.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.servers) == 0 {
		return nil, ErrNoServer
	}
	return s.servers[0], nil
}

// Profile returns the current local snapshot of the logged-in user.
func (s *Session) Profile() *domain.UserProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return nil
	}
	return s.profile.Clone()
}

// ResumeToken returns the token the server issued at login, for skipping
// the handshake on the next connection.
func (s *Session) ResumeToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resume
}

func (s *Session) fetchChallenge(ctx context.Context, server dispatch.Conn) (string, error) {
	req, err := protocol.NewRequest(protocol.TypeChallenge, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.d.Do(ctx, server, req, dispatch.ServerTimeout)
	if err != nil {
		return "", err
	}
	if resp.Status != protocol.StatusOK {
		return "", fmt.Errorf("challenge refused: %s", resp.Status)
	}
	var ch protocol.ChallengePayload
	if err := json.Unmarshal(resp.Payload, &ch); err != nil {
		return "", err
	}
	return ch.Challenge, nil
}

// Register creates the account on the primary server and returns the
// recovery seed. The seed is shown to the user once and never stored.
func (s *Session) Register(ctx context.Context, username, password string) (string, error) {
	if errs := validator.ValidateRegisterInput(username, password); errs.HasErrors() {
		return "", errs
	}
	server, err := s.primary()
	if err != nil {
		return "", err
	}
	challenge, err := s.fetchChallenge(ctx, server)
	if err != nil {
		return "", err
	}

	key := crypto.FromPassword(username, password)
	seed, recovery, err := crypto.NewRecoveryKey()
	if err != nil {
		return "", err
	}
	profile := content.NewProfile(key, username, recovery.PublicKey)
	first := content.NewPost(key, 1, domain.PostTypeProfileUpdate, nil)

	req, err := protocol.NewRequest(protocol.TypeRegister, protocol.RegisterPayload{
		NewProfile:           profile,
		FirstPost:            first,
		PublicKeySignature:   key.Sign([]byte(challenge)),
		RecoveryKeySignature: recovery.Sign([]byte(challenge)),
	})
	if err != nil {
		return "", err
	}
	resp, err := s.d.Do(ctx, server, req, dispatch.ServerTimeout)
	if err != nil {
		return "", err
	}
	if resp.Status != protocol.StatusOK {
		return "", fmt.Errorf("registration refused: %s", resp.Status)
	}
	var result protocol.AuthResult
	if err := json.Unmarshal(resp.Payload, &result); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.key = key
	s.profile = profile
	s.resume = result.ResumeToken
	s.mu.Unlock()
	if err := s.posts.Add(ctx, profile.UserID, []domain.Post{*first}); err != nil {
		s.log.Warn("own log init failed", zap.Error(err))
	}
	return seed, nil
}

// Authenticate logs in on the primary server and mirrors the log the
// server holds, verifying the whole chain on the way in.
func (s *Session) Authenticate(ctx context.Context, username, password string) error {
	server, err := s.primary()
	if err != nil {
		return err
	}
	challenge, err := s.fetchChallenge(ctx, server)
	if err != nil {
		return err
	}
	key := crypto.FromPassword(username, password)

	req, err := protocol.NewRequest(protocol.TypeAuthToServer, protocol.AuthPayload{
		Username:  username,
		PublicKey: key.PublicKey,
		Signature: key.Sign([]byte(challenge)),
	})
	if err != nil {
		return err
	}
	resp, err := s.d.Do(ctx, server, req, dispatch.ServerTimeout)
	if err != nil {
		return err
	}
	if resp.Status != protocol.StatusOK {
		return fmt.Errorf("authentication refused: %s", resp.Status)
	}
	var result protocol.AuthResult
	if err := json.Unmarshal(resp.Payload, &result); err != nil {
		return err
	}
	if result.Profile == nil {
		return errors.New("authentication answer carried no profile")
	}

	s.mu.Lock()
	s.key = key
	s.profile = result.Profile
	s.resume = result.ResumeToken
	s.mu.Unlock()

	return s.syncOwnLog(ctx)
}

// syncOwnLog pulls and verifies the full post log for the logged-in user.
func (s *Session) syncOwnLog(ctx context.Context) error {
	s.mu.Lock()
	profile := s.profile
	s.mu.Unlock()
	if profile == nil {
		return ErrNotAuthenticated
	}
	if profile.PostCount < 1 {
		return nil
	}
	posts, err := s.d.FetchPosts(ctx, s.serverConns(), profile, 1, profile.PostCount, dispatch.ServerTimeout)
	if err != nil {
		return fmt.Errorf("syncing own log: %w", err)
	}
	if err := s.posts.Add(ctx, profile.UserID, posts); err != nil {
		return err
	}
	return nil
}

// snapshot hands back the working state every mutation starts from.
func (s *Session) snapshot() (*crypto.KeyPair, *domain.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == nil || s.profile == nil {
		return nil, nil, ErrNotAuthenticated
	}
	return s.key, s.profile.Clone(), nil
}

// publish pushes one update+post pair to the primary server and, on
// acceptance, commits it locally.
func (s *Session) publish(ctx context.Context, key *crypto.KeyPair, update *domain.UserProfile, post *domain.Post) error {
	server, err := s.primary()
	if err != nil {
		return err
	}
	req, err := protocol.NewRequest(protocol.TypeProfileUpdate, protocol.ProfileUpdatePayload{
		NewUserProfile: update,
		Post:           post,
	})
	if err != nil {
		return err
	}
	resp, err := s.d.Do(ctx, server, req, dispatch.ServerTimeout)
	if err != nil {
		return err
	}
	if resp.Status != protocol.StatusOK {
		return fmt.Errorf("update refused: %s", resp.Status)
	}

	s.mu.Lock()
	s.key = key
	s.profile = update
	s.mu.Unlock()

	if update.Deleted {
		if err := s.posts.DeleteAll(ctx, update.UserID); err != nil {
			s.log.Warn("local log purge failed", zap.Error(err))
		}
		return nil
	}
	if err := s.posts.Add(ctx, update.UserID, []domain.Post{*post}); err != nil {
		s.log.Warn("local log append failed", zap.Error(err))
	}
	if post.PostType == domain.PostTypePostDeletion && post.Content != nil {
		tomb := domain.Tombstone(post.Content.DeletedPostID)
		if err := s.posts.Update(ctx, update.UserID, &tomb); err != nil {
			s.log.Warn("local tombstone failed", zap.Error(err))
		}
	}
	return nil
}

// CreateContentPost appends a regular post to the user's log.
func (s *Session) CreateContentPost(ctx context.Context, text, location string) error {
	key, profile, err := s.snapshot()
	if err != nil {
		return err
	}
	update := content.IncrementPostCount(key, profile)
	post := content.NewContentPost(key, update.PostCount, text, location, time.Now().UnixMilli())
	return s.publish(ctx, key, update, post)
}

// UpdateDetails applies mutate to the details section, bumps its version
// lock, and publishes.
func (s *Session) UpdateDetails(ctx context.Context, mutate func(d *domain.ProfileDetails)) error {
	key, profile, err := s.snapshot()
	if err != nil {
		return err
	}
	update := content.IncrementPostCount(key, profile)
	if update.Details == nil {
		update.Details = &domain.ProfileDetails{}
	}
	mutate(update.Details)
	update.Details.VersionLock.Version = time.Now().UnixMilli()
	content.SignProfile(key, update)
	post := content.NewPost(key, update.PostCount, domain.PostTypeProfileUpdate, nil)
	return s.publish(ctx, key, update, post)
}

func (s *Session) editList(ctx context.Context, pick func(u *domain.UserProfile) **domain.UserList, edit func(l *domain.UserList)) error {
	key, profile, err := s.snapshot()
	if err != nil {
		return err
	}
	update := content.IncrementPostCount(key, profile)
	list := pick(update)
	if *list == nil {
		*list = &domain.UserList{Elements: []domain.UserRef{}}
	}
	edit(*list)
	(*list).VersionLock.Version = time.Now().UnixMilli()
	content.SignProfile(key, update)
	post := content.NewPost(key, update.PostCount, domain.PostTypeProfileUpdate, nil)
	return s.publish(ctx, key, update, post)
}

func addRef(l *domain.UserList, ref domain.UserRef) {
	if l.Contains(ref.ID) {
		return
	}
	l.Elements = append(l.Elements, ref)
}

func removeRef(l *domain.UserList, userID string) {
	kept := l.Elements[:0]
	for _, e := range l.Elements {
		if e.ID != userID {
			kept = append(kept, e)
		}
	}
	l.Elements = kept
}

func (s *Session) AddFriend(ctx context.Context, ref domain.UserRef) error {
	return s.editList(ctx,
		func(u *domain.UserProfile) **domain.UserList { return &u.Friends },
		func(l *domain.UserList) { addRef(l, ref) })
}

func (s *Session) RemoveFriend(ctx context.Context, userID string) error {
	return s.editList(ctx,
		func(u *domain.UserProfile) **domain.UserList { return &u.Friends },
		func(l *domain.UserList) { removeRef(l, userID) })
}

// Block puts the user on the blocked list and drops them from friends in
// the same update.
func (s *Session) Block(ctx context.Context, ref domain.UserRef) error {
	key, profile, err := s.snapshot()
	if err != nil {
		return err
	}
	update := content.IncrementPostCount(key, profile)
	now := time.Now().UnixMilli()
	if update.Blocked == nil {
		update.Blocked = &domain.UserList{Elements: []domain.UserRef{}}
	}
	addRef(update.Blocked, ref)
	update.Blocked.VersionLock.Version = now
	if update.Friends != nil && update.Friends.Contains(ref.ID) {
		removeRef(update.Friends, ref.ID)
		update.Friends.VersionLock.Version = now
	}
	content.SignProfile(key, update)
	post := content.NewPost(key, update.PostCount, domain.PostTypeProfileUpdate, nil)
	if err := s.publish(ctx, key, update, post); err != nil {
		return err
	}
	s.dropPeer(ref.ID)
	return nil
}

func (s *Session) Unblock(ctx context.Context, userID string) error {
	return s.editList(ctx,
		func(u *domain.UserProfile) **domain.UserList { return &u.Blocked },
		func(l *domain.UserList) { removeRef(l, userID) })
}

// DeletePost retracts an earlier content post. The retraction is itself a
// post, so every replica converges on the same tombstone.
func (s *Session) DeletePost(ctx context.Context, postID int64) error {
	key, profile, err := s.snapshot()
	if err != nil {
		return err
	}
	update := content.IncrementPostCount(key, profile)
	post := content.NewPost(key, update.PostCount, domain.PostTypePostDeletion,
		&domain.PostContent{DeletedPostID: postID})
	return s.publish(ctx, key, update, post)
}

// ChangePassword rotates the signing key. Only the recovery seed can
// authorize the KEY_CHANGE post.
func (s *Session) ChangePassword(ctx context.Context, recoverySeed, newPassword string) error {
	key, profile, err := s.snapshot()
	if err != nil {
		return err
	}
	recovery, err := crypto.FromRecoverySeed(recoverySeed)
	if err != nil {
		return err
	}
	if recovery.PublicKey != profile.RecoveryPublicKey {
		return crypto.ErrInvalidKey
	}
	newKey := crypto.FromPassword(profile.Username, newPassword)

	update := profile.Clone()
	update.PublicKey = newKey.PublicKey
	update.PostCount++
	content.SignProfile(newKey, update)
	post := content.NewPost(recovery, update.PostCount, domain.PostTypeKeyChange,
		&domain.PostContent{OldPublicKey: key.PublicKey})
	return s.publish(ctx, newKey, update, post)
}

// DeleteAccount tombstones the profile and closes the log forever.
func (s *Session) DeleteAccount(ctx context.Context, recoverySeed string) error {
	key, profile, err := s.snapshot()
	if err != nil {
		return err
	}
	recovery, err := crypto.FromRecoverySeed(recoverySeed)
	if err != nil {
		return err
	}
	if recovery.PublicKey != profile.RecoveryPublicKey {
		return crypto.ErrInvalidKey
	}

	update := content.IncrementPostCount(key, profile).Tombstoned()
	content.SignProfile(key, update)
	post := content.NewPost(recovery, update.PostCount, domain.PostTypeAccountDeletion, nil)
	return s.publish(ctx, key, update, post)
}

// SearchUser resolves a profile, peers before servers, and caches the
// winner locally.
func (s *Session) SearchUser(ctx context.Context, query protocol.UserSearchPayload) (*domain.UserProfile, error) {
	if cached, err := storage.FindProfile(ctx, s.profiles, query.UserID, query.Username, query.PublicKey, ""); err == nil && cached != nil {
		return cached, nil
	}
	profile, err := s.d.SearchProfile(ctx, s.peerConns(), query, dispatch.PeerTimeout)
	if err != nil {
		profile, err = s.d.SearchProfile(ctx, s.serverConns(), query, dispatch.ServerTimeout)
	}
	if err != nil {
		return nil, ErrNotFound
	}
	if err := s.profiles.Add(ctx, profile); err != nil {
		s.log.Warn("profile cache failed", zap.String("userId", profile.UserID), zap.Error(err))
	}
	if profile.Deleted {
		s.scrubDeleted(ctx, profile.UserID)
	}
	return profile, nil
}

// scrubDeleted removes a user discovered deleted from the own friend and
// blocked lists; a closed log has no further use for either entry.
func (s *Session) scrubDeleted(ctx context.Context, userID string) {
	own := s.Profile()
	if own == nil {
		return
	}
	if own.Friends != nil && own.Friends.Contains(userID) {
		if err := s.RemoveFriend(ctx, userID); err != nil {
			s.log.Warn("removing deleted user from friends failed", zap.String("userId", userID), zap.Error(err))
		}
	}
	own = s.Profile()
	if own != nil && own.Blocked != nil && own.Blocked.Contains(userID) {
		if err := s.Unblock(ctx, userID); err != nil {
			s.log.Warn("removing deleted user from blocked failed", zap.String("userId", userID), zap.Error(err))
		}
	}
}

// FetchUserPosts retrieves a verified range of someone's log, peers before
// servers, and mirrors it locally.
func (s *Session) FetchUserPosts(ctx context.Context, profile *domain.UserProfile, begin, end int64) ([]domain.Post, error) {
	posts, err := s.d.FetchPosts(ctx, s.peerConns(), profile, begin, end, dispatch.ServerTimeout)
	if err != nil {
		posts, err = s.d.FetchPosts(ctx, s.serverConns(), profile, begin, end, dispatch.ServerTimeout)
	}
	if err != nil {
		return nil, err
	}
	if err := s.posts.Add(ctx, profile.UserID, posts); err != nil {
		s.log.Warn("post cache failed", zap.String("userId", profile.UserID), zap.Error(err))
	}
	return posts, nil
}

// Signal sends a connection-establishment payload towards its destination
// through the primary server. Delivery is best effort; the answer only
// confirms the server accepted it for relay.
func (s *Session) Signal(ctx context.Context, p protocol.EstablishConnectionPayload) error {
	server, err := s.primary()
	if err != nil {
		return err
	}
	req, err := protocol.NewRequest(protocol.TypeEstablishConnection, p)
	if err != nil {
		return err
	}
	resp, err := s.d.Do(ctx, server, req, dispatch.ServerTimeout)
	if err != nil {
		return err
	}
	if resp.Status != protocol.StatusOK {
		return fmt.Errorf("signal refused: %s", resp.Status)
	}
	return nil
}

// RefreshProfile asks the primary server for anything newer than the
// cached snapshot of some user. A snapshot claiming a longer log is only
// accepted once the missing posts have been fetched and chain-verified
// against the key already trusted locally.
func (s *Session) RefreshProfile(ctx context.Context, local *domain.UserProfile) (*domain.UserProfile, error) {
	server, err := s.primary()
	if err != nil {
		return nil, err
	}
	update, err := s.d.UserInfo(ctx, server, local, dispatch.ServerTimeout)
	if err != nil {
		return nil, err
	}
	if update == nil {
		return local, nil
	}
	merged := update.Clone()
	if merged.Details == nil {
		merged.Details = local.Details
	}
	if merged.ProfilePicture == nil {
		merged.ProfilePicture = local.ProfilePicture
	}
	if merged.Friends == nil {
		merged.Friends = local.Friends
	}
	if merged.Blocked == nil {
		merged.Blocked = local.Blocked
	}

	if merged.Deleted {
		if err := s.posts.DeleteAll(ctx, merged.UserID); err != nil {
			s.log.Warn("local log purge failed", zap.Error(err))
		}
	} else if merged.PostCount > local.PostCount {
		posts, err := s.d.FetchPostsBetween(ctx, s.peerConns(), local.UserID, local.RecoveryPublicKey,
			local.PostCount+1, merged.PostCount, local.PublicKey, merged.PublicKey, dispatch.PeerTimeout)
		if err != nil {
			posts, err = s.d.FetchPostsBetween(ctx, s.serverConns(), local.UserID, local.RecoveryPublicKey,
				local.PostCount+1, merged.PostCount, local.PublicKey, merged.PublicKey, dispatch.ServerTimeout)
		}
		if err != nil {
			return nil, fmt.Errorf("corroborating newer snapshot: %w", err)
		}
		if err := s.posts.Add(ctx, local.UserID, posts); err != nil {
			s.log.Warn("post cache failed", zap.String("userId", local.UserID), zap.Error(err))
		}
	}

	if err := s.profiles.Update(ctx, merged); err != nil {
		s.log.Warn("profile cache update failed", zap.Error(err))
	}
	return merged, nil
}
