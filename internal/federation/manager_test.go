package federation_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vedran77/lattice/internal/dispatch"
	"github.com/vedran77/lattice/internal/domain"
	"github.com/vedran77/lattice/internal/federation"
	"github.com/vedran77/lattice/internal/handler"
	"github.com/vedran77/lattice/internal/protocol"
	"github.com/vedran77/lattice/internal/reconcile"
	"github.com/vedran77/lattice/internal/session"
	"github.com/vedran77/lattice/internal/storage/memory"
	"github.com/vedran77/lattice/internal/transport/ws"
)

type node struct {
	url      string
	profiles *memory.ProfileStore
	posts    *memory.PostStore
	fed      *federation.Manager
}

// startNode boots a full server. The listener must exist before the
// federation manager so the node knows its own address.
func startNode(t *testing.T) *node {
	t.Helper()
	log := zaptest.NewLogger(t)

	var serve http.HandlerFunc
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serve(w, r)
	}))
	t.Cleanup(srv.Close)

	profiles := memory.NewProfileStore()
	posts := memory.NewPostStore()
	rec := reconcile.New(profiles, posts, log)
	d := dispatch.New(log)
	fed := federation.New(srv.URL, d, rec, log)
	hub := ws.NewHub(log)
	tokens := handler.NewIssuer("test-secret", time.Hour)
	h := handler.New(profiles, posts, rec, fed, hub, tokens, log)
	fed.SetRouter(h)
	serve = ws.ServeWS(hub, h, d, tokens, nil, log)

	return &node{url: srv.URL, profiles: profiles, posts: posts, fed: fed}
}

func newDevice(t *testing.T, n *node) *session.Session {
	t.Helper()
	log := zaptest.NewLogger(t)
	d := dispatch.New(log)
	sess := session.New(d, memory.NewProfileStore(), memory.NewPostStore(), log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := ws.Dial(ctx, n.url, ws.RoleDevice, sess, d, log)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	sess.AddServer(conn)
	return sess
}

func linked(m *federation.Manager, want int) func() bool {
	return func() bool { return len(m.Conns()) == want }
}

func TestLinkHandshake(t *testing.T) {
	a := startNode(t)
	b := startNode(t)

	require.NoError(t, b.fed.ConnectTo(context.Background(), a.url))
	assert.Eventually(t, linked(b.fed, 1), 5*time.Second, 20*time.Millisecond)
	assert.Eventually(t, linked(a.fed, 1), 5*time.Second, 20*time.Millisecond)

	// reconnecting the same address stays a single link
	require.NoError(t, b.fed.ConnectTo(context.Background(), a.url))
	assert.Len(t, b.fed.Conns(), 1)
}

func TestGossipReachesThirdNode(t *testing.T) {
	a := startNode(t)
	b := startNode(t)
	c := startNode(t)

	require.NoError(t, b.fed.ConnectTo(context.Background(), a.url))
	require.Eventually(t, linked(a.fed, 1), 5*time.Second, 20*time.Millisecond)

	// c dials b and learns about a from the hello exchange
	require.NoError(t, c.fed.ConnectTo(context.Background(), b.url))
	assert.Eventually(t, linked(c.fed, 2), 5*time.Second, 20*time.Millisecond)
	assert.Eventually(t, linked(a.fed, 2), 5*time.Second, 20*time.Millisecond)
}

func TestCrossServerLookup(t *testing.T) {
	a := startNode(t)
	b := startNode(t)
	ctx := context.Background()

	// alice only ever talks to a, and the link to b comes up afterwards,
	// so b must resolve her through the mesh
	alice := newDevice(t, a)
	_, err := alice.Register(ctx, "alice", "password1A")
	require.NoError(t, err)
	require.NoError(t, alice.CreateContentPost(ctx, "hello from a", ""))

	require.NoError(t, b.fed.ConnectTo(ctx, a.url))
	require.Eventually(t, linked(a.fed, 1), 5*time.Second, 20*time.Millisecond)

	bob := newDevice(t, b)
	_, err = bob.Register(ctx, "bobby", "password1A")
	require.NoError(t, err)

	found, err := bob.SearchUser(ctx, protocol.UserSearchPayload{Username: "alice"})
	require.NoError(t, err)
	require.Equal(t, int64(2), found.PostCount)

	posts, err := bob.FetchUserPosts(ctx, found, 1, 2)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "hello from a", posts[1].Content.Text)

	// b now holds the fetched state itself
	cached, err := b.profiles.GetByID(ctx, found.UserID)
	require.NoError(t, err)
	require.NotNil(t, cached)
}

func TestUpdateBridgesRotationInGap(t *testing.T) {
	a := startNode(t)
	b := startNode(t)
	ctx := context.Background()

	// alice registers and rotates her key while only a is reachable
	alice := newDevice(t, a)
	seed, err := alice.Register(ctx, "alice", "password1A")
	require.NoError(t, err)
	userID := alice.Profile().UserID
	genesis := alice.Profile()
	first, err := a.posts.Get(ctx, userID, 1)
	require.NoError(t, err)
	require.NoError(t, alice.ChangePassword(ctx, seed, "password2B"))

	// b knows her as of the genesis snapshot only
	require.NoError(t, b.profiles.Add(ctx, genesis))
	require.NoError(t, b.posts.Add(ctx, userID, []domain.Post{*first}))

	require.NoError(t, b.fed.ConnectTo(ctx, a.url))
	require.Eventually(t, linked(a.fed, 1), 5*time.Second, 20*time.Millisecond)

	// the post-3 broadcast leaves b a gap containing the KEY_CHANGE; the
	// mesh corroborates it and b catches up
	require.NoError(t, alice.CreateContentPost(ctx, "after the rotation", ""))
	require.Eventually(t, func() bool {
		p, err := b.profiles.GetByID(ctx, userID)
		return err == nil && p != nil && p.PostCount == 3
	}, 5*time.Second, 20*time.Millisecond)

	rotated, err := b.posts.Get(ctx, userID, 2)
	require.NoError(t, err)
	require.NotNil(t, rotated)
	assert.Equal(t, domain.PostTypeKeyChange, rotated.PostType)
}

func TestUpdateBroadcastConverges(t *testing.T) {
	a := startNode(t)
	b := startNode(t)
	require.NoError(t, b.fed.ConnectTo(context.Background(), a.url))
	require.Eventually(t, linked(a.fed, 1), 5*time.Second, 20*time.Millisecond)

	ctx := context.Background()
	alice := newDevice(t, a)
	_, err := alice.Register(ctx, "alice", "password1A")
	require.NoError(t, err)
	userID := alice.Profile().UserID

	// registration is pushed into the mesh
	require.Eventually(t, func() bool {
		p, err := b.profiles.GetByID(ctx, userID)
		return err == nil && p != nil && p.PostCount == 1
	}, 5*time.Second, 20*time.Millisecond)

	// so is every subsequent post
	require.NoError(t, alice.CreateContentPost(ctx, "now everywhere", ""))
	require.Eventually(t, func() bool {
		p, err := b.profiles.GetByID(ctx, userID)
		return err == nil && p != nil && p.PostCount == 2
	}, 5*time.Second, 20*time.Millisecond)

	stored, err := b.posts.Get(ctx, userID, 2)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "now everywhere", stored.Content.Text)
}
