package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vedran77/lattice/internal/content"
	"github.com/vedran77/lattice/internal/crypto"
	"github.com/vedran77/lattice/internal/domain"
	"github.com/vedran77/lattice/internal/protocol"
)

// fakeConn answers every request through handle on a separate goroutine,
// the way a real link delivers responses back to the dispatcher.
type fakeConn struct {
	addr   string
	d      *Dispatcher
	handle func(req *protocol.Request) *protocol.Response
}

func (c *fakeConn) Addr() string { return c.addr }

func (c *fakeConn) Send(ctx context.Context, data []byte) error {
	req, _, err := protocol.Parse(data)
	if err != nil {
		return err
	}
	if c.handle == nil {
		return nil
	}
	go func() {
		if resp := c.handle(req); resp != nil {
			c.d.HandleResponse(resp)
		}
	}()
	return nil
}

func okConn(d *Dispatcher, addr string, payload any) *fakeConn {
	return &fakeConn{addr: addr, d: d, handle: func(req *protocol.Request) *protocol.Response {
		resp, _ := protocol.NewResponse(req.ID, protocol.StatusOK, payload)
		return resp
	}}
}

func TestDoRoundTrip(t *testing.T) {
	d := New(zaptest.NewLogger(t))
	conn := okConn(d, "a", protocol.ChallengePayload{Challenge: "pong"})

	req, err := protocol.NewRequest(protocol.TypePing, nil)
	require.NoError(t, err)
	resp, err := d.Do(context.Background(), conn, req, time.Second)
	require.NoError(t, err)
	assert.Equal(t, req.ID, resp.RequestID)
	assert.Equal(t, protocol.StatusOK, resp.Status)
}

func TestDoTimeout(t *testing.T) {
	d := New(zaptest.NewLogger(t))
	silent := &fakeConn{addr: "a", d: d}

	req, err := protocol.NewRequest(protocol.TypePing, nil)
	require.NoError(t, err)
	_, err = d.Do(context.Background(), silent, req, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestLateResponseDropped(t *testing.T) {
	d := New(zaptest.NewLogger(t))
	resp, err := protocol.NewResponse("nobody-waiting", protocol.StatusOK, nil)
	require.NoError(t, err)
	// Must not block or panic.
	d.HandleResponse(resp)
}

func TestSearchProfileKeepsNewestSnapshot(t *testing.T) {
	d := New(zaptest.NewLogger(t))
	key := crypto.FromPassword("carol", "password1A")
	_, recovery, err := crypto.NewRecoveryKey()
	require.NoError(t, err)
	older := content.NewProfile(key, "carol", recovery.PublicKey)
	newer := content.IncrementPostCount(key, older)

	tampered := newer.Clone()
	tampered.PostCount = 99

	conns := []Conn{
		okConn(d, "stale", older),
		okConn(d, "fresh", newer),
		okConn(d, "liar", tampered),
	}
	got, err := d.SearchProfile(context.Background(), conns,
		protocol.UserSearchPayload{Username: "carol"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, newer.PostCount, got.PostCount)
}

func TestSearchProfileRejectsWrongUser(t *testing.T) {
	d := New(zaptest.NewLogger(t))
	malloryKey := crypto.FromPassword("mallory", "password1A")
	_, recovery, err := crypto.NewRecoveryKey()
	require.NoError(t, err)
	mallory := content.NewProfile(malloryKey, "mallory", recovery.PublicKey)
	for i := 0; i < 5; i++ {
		mallory = content.IncrementPostCount(malloryKey, mallory)
	}

	// A validly-signed profile for someone else must never win a search.
	_, err = d.SearchProfile(context.Background(), []Conn{okConn(d, "rogue", mallory)},
		protocol.UserSearchPayload{Username: "alice"}, time.Second)
	assert.ErrorIs(t, err, ErrNoProfile)

	aliceKey := crypto.FromPassword("alice", "password1A")
	alice := content.NewProfile(aliceKey, "alice", recovery.PublicKey)
	conns := []Conn{
		okConn(d, "rogue", mallory),
		okConn(d, "honest", alice),
	}
	got, err := d.SearchProfile(context.Background(), conns,
		protocol.UserSearchPayload{Username: "alice"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
}

func TestSearchProfileNoUsableAnswer(t *testing.T) {
	d := New(zaptest.NewLogger(t))
	denied := &fakeConn{addr: "a", d: d, handle: func(req *protocol.Request) *protocol.Response {
		resp, _ := protocol.NewResponse(req.ID, protocol.StatusNotFound, nil)
		return resp
	}}
	_, err := d.SearchProfile(context.Background(), []Conn{denied},
		protocol.UserSearchPayload{Username: "nobody"}, time.Second)
	assert.ErrorIs(t, err, ErrNoProfile)
}

func TestFetchPostsSkipsBadSources(t *testing.T) {
	d := New(zaptest.NewLogger(t))
	key := crypto.FromPassword("dave", "password1A")
	_, recovery, err := crypto.NewRecoveryKey()
	require.NoError(t, err)
	profile := content.NewProfile(key, "dave", recovery.PublicKey)

	chain := []domain.Post{
		*content.NewPost(key, 1, domain.PostTypeProfileUpdate, nil),
		*content.NewContentPost(key, 2, "hello", "", 1700000000000),
	}
	forged := []domain.Post{chain[0], chain[1]}
	forged[1].Content = &domain.PostContent{Text: "forged", Timestamp: 1700000000000}

	conns := []Conn{
		okConn(d, "forger", forged),
		okConn(d, "honest", chain),
	}
	got, err := d.FetchPosts(context.Background(), conns, profile, 1, 2, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "hello", got[1].Content.Text)
}

func TestUserInfoUpToDate(t *testing.T) {
	d := New(zaptest.NewLogger(t))
	key := crypto.FromPassword("erin", "password1A")
	_, recovery, err := crypto.NewRecoveryKey()
	require.NoError(t, err)
	profile := content.NewProfile(key, "erin", recovery.PublicKey)

	conn := &fakeConn{addr: "a", d: d, handle: func(req *protocol.Request) *protocol.Response {
		resp, _ := protocol.NewResponse(req.ID, protocol.StatusUpToDate, nil)
		return resp
	}}
	got, err := d.UserInfo(context.Background(), conn, profile, time.Second)
	require.NoError(t, err)
	assert.Nil(t, got)
}
