package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"errors"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/nacl/box"
)

// Connection-establishment payloads (offers/answers relayed through servers)
// are sealed to the destination profile's signing key. The ed25519 key is
// mapped to its curve25519 form and the message is boxed with an ephemeral
// sender key, so the relaying servers learn nothing.

var ErrDecrypt = errors.New("cannot decrypt message")

// Seal encrypts msg so that only the holder of the ed25519 private key
// behind publicKey can read it. Output: base64(ephemeralPub || nonce || box).
func Seal(msg string, publicKey string) (string, error) {
	edPub, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil || len(edPub) != ed25519.PublicKeySize {
		return "", ErrInvalidKey
	}
	point, err := new(edwards25519.Point).SetBytes(edPub)
	if err != nil {
		return "", ErrInvalidKey
	}
	var curvePub [32]byte
	copy(curvePub[:], point.BytesMontgomery())

	ephPub, ephPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return "", err
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}

	out := make([]byte, 0, 32+24+len(msg)+box.Overhead)
	out = append(out, ephPub[:]...)
	out = append(out, nonce[:]...)
	out = box.Seal(out, []byte(msg), &nonce, &curvePub, ephPriv)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a message sealed to this keypair's public key.
func (k *KeyPair) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(raw) < 32+24+box.Overhead {
		return "", ErrDecrypt
	}

	var ephPub, curvePriv [32]byte
	var nonce [24]byte
	copy(ephPub[:], raw[:32])
	copy(nonce[:], raw[32:56])

	// ed25519 scalar -> curve25519 private key
	h := sha512.Sum512(k.priv.Seed())
	copy(curvePriv[:], h[:32])
	curvePriv[0] &= 248
	curvePriv[31] &= 127
	curvePriv[31] |= 64

	plain, ok := box.Open(nil, raw[56:], &nonce, &ephPub, &curvePriv)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
