package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/argon2"
)

// argon2id parameters for password-derived signing keys.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	seedSize     = 32
)

var ErrInvalidKey = errors.New("invalid key encoding")

// KeyPair holds an ed25519 signing key together with its base64 public form,
// which is the representation that travels in profiles and on the wire.
type KeyPair struct {
	priv      ed25519.PrivateKey
	PublicKey string
}

// FromPassword derives a signing keypair deterministically from the user's
// credentials, so the same username+password always reproduces the key on
// any device.
func FromPassword(username, password string) *KeyPair {
	seed := argon2.IDKey([]byte(password), []byte("lattice/"+username), argonTime, argonMemory, argonThreads, seedSize)
	return fromSeed(seed)
}

// NewRecoveryKey generates a random recovery keypair. The returned seed is
// shown to the user exactly once; FromRecoverySeed reconstructs the key.
func NewRecoveryKey() (seed string, key *KeyPair, err error) {
	raw := make([]byte, seedSize)
	if _, err = rand.Read(raw); err != nil {
		return "", nil, err
	}
	return base64.StdEncoding.EncodeToString(raw), fromSeed(raw), nil
}

func FromRecoverySeed(seed string) (*KeyPair, error) {
	raw, err := base64.StdEncoding.DecodeString(seed)
	if err != nil || len(raw) != seedSize {
		return nil, ErrInvalidKey
	}
	return fromSeed(raw), nil
}

func fromSeed(seed []byte) *KeyPair {
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &KeyPair{priv: priv, PublicKey: base64.StdEncoding.EncodeToString(pub)}
}

// Sign returns the base64 ed25519 signature over payload.
func (k *KeyPair) Sign(payload []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(k.priv, payload))
}

// Verify checks a base64 signature over payload against a base64 public key.
// Any decoding failure counts as an invalid signature.
func Verify(publicKey string, payload []byte, signature string) bool {
	pub, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), payload, sig)
}
