package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromPasswordDeterministic(t *testing.T) {
	a := FromPassword("alice", "hunter22A")
	b := FromPassword("alice", "hunter22A")
	assert.Equal(t, a.PublicKey, b.PublicKey)

	c := FromPassword("alice", "different1X")
	assert.NotEqual(t, a.PublicKey, c.PublicKey)

	d := FromPassword("bob", "hunter22A")
	assert.NotEqual(t, a.PublicKey, d.PublicKey)
}

func TestSignVerify(t *testing.T) {
	key := FromPassword("alice", "hunter22A")
	payload := []byte(`{"id":1,"postType":"content"}`)

	sig := key.Sign(payload)
	assert.True(t, Verify(key.PublicKey, payload, sig))
	assert.False(t, Verify(key.PublicKey, []byte("tampered"), sig))

	other := FromPassword("bob", "hunter22A")
	assert.False(t, Verify(other.PublicKey, payload, sig))
}

func TestVerifyRejectsGarbage(t *testing.T) {
	key := FromPassword("alice", "hunter22A")
	assert.False(t, Verify("not base64 !!!", []byte("x"), key.Sign([]byte("x"))))
	assert.False(t, Verify(key.PublicKey, []byte("x"), "not base64 !!!"))
	assert.False(t, Verify(key.PublicKey, []byte("x"), ""))
}

func TestRecoverySeedRoundTrip(t *testing.T) {
	seed, key, err := NewRecoveryKey()
	require.NoError(t, err)

	restored, err := FromRecoverySeed(seed)
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey, restored.PublicKey)

	sig := key.Sign([]byte("payload"))
	assert.True(t, Verify(restored.PublicKey, []byte("payload"), sig))

	_, err = FromRecoverySeed("short")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestSealOpen(t *testing.T) {
	recipient := FromPassword("carol", "secret123Z")

	sealed, err := Seal("webrtc offer sdp", recipient.PublicKey)
	require.NoError(t, err)

	plain, err := recipient.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "webrtc offer sdp", plain)

	// Wrong recipient cannot open.
	stranger := FromPassword("dave", "secret123Z")
	_, err = stranger.Open(sealed)
	assert.ErrorIs(t, err, ErrDecrypt)

	// Truncated ciphertext.
	_, err = recipient.Open("AAAA")
	assert.ErrorIs(t, err, ErrDecrypt)
}
