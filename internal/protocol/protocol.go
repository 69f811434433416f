// Package protocol defines the JSON wire messages exchanged between clients,
// servers and peers. Every frame is either a Request {id, type, payload} or a
// Response {requestId, status, payload}; payloads are typed per request type.
package protocol

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/vedran77/lattice/internal/domain"
)

type RequestType string

const (
	TypePing                RequestType = "ping"
	TypeRegister            RequestType = "register"
	TypeAuthToServer        RequestType = "auth"
	TypeUserSearch          RequestType = "user_search"
	TypeUserInfo            RequestType = "user_info"
	TypeRecommendedPeer     RequestType = "recommended_peer"
	TypeEstablishConnection RequestType = "establish_connection"
	TypeProfileUpdate       RequestType = "profile_update"
	TypePosts               RequestType = "posts"

	// TypeChallenge is the auth handshake: a fresh socket requests a
	// challenge, then proves its keys by signing it.
	TypeChallenge RequestType = "challenge"

	// Exchanged between federation servers on link establishment.
	TypeServerHello RequestType = "server_hello"
)

type Status string

const (
	StatusOK            Status = "OK"
	StatusDenied        Status = "DENIED"
	StatusBadRequest    Status = "BAD_REQUEST"
	StatusUpToDate      Status = "UP_TO_DATE"
	StatusUnauthorized  Status = "UNAUTHORIZED"
	StatusNotFound      Status = "NOT_FOUND"
	StatusInternalError Status = "INTERNAL_ERROR"
)

type Request struct {
	ID      string          `json:"id"`
	Type    RequestType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Response struct {
	RequestID string          `json:"requestId"`
	Status    Status          `json:"status"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

var ErrBadFrame = errors.New("frame is neither a request nor a response")

// NewRequest builds a request with a fresh correlation id.
func NewRequest(t RequestType, payload any) (*Request, error) {
	req := &Request{ID: uuid.NewString(), Type: t}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		req.Payload = data
	}
	return req, nil
}

// NewResponse builds a response correlated to requestID. Only OK responses
// carry a payload.
func NewResponse(requestID string, status Status, payload any) (*Response, error) {
	resp := &Response{RequestID: requestID, Status: status}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		resp.Payload = data
	}
	return resp, nil
}

// Parse decodes a wire frame into a request or a response; exactly one of
// the two returns is non-nil on success.
func Parse(data []byte) (*Request, *Response, error) {
	var probe struct {
		ID        string      `json:"id"`
		Type      RequestType `json:"type"`
		RequestID string      `json:"requestId"`
		Status    Status      `json:"status"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, nil, err
	}
	if probe.RequestID != "" && probe.Status != "" {
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, nil, err
		}
		return nil, &resp, nil
	}
	if probe.ID != "" && probe.Type != "" {
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, nil, err
		}
		return &req, nil, nil
	}
	return nil, nil, ErrBadFrame
}

// --- Request payloads ---

type ChallengePayload struct {
	Challenge string `json:"challenge"`
}

// Both signatures cover the server-issued challenge, proving possession of
// both private keys at registration time.
type RegisterPayload struct {
	NewProfile           *domain.UserProfile `json:"newProfile"`
	FirstPost            *domain.Post        `json:"firstPost"`
	PublicKeySignature   string              `json:"publicKeySignature"`
	RecoveryKeySignature string              `json:"recoveryKeySignature"`
}

// Recovery fields are only present during a password change, authorizing the
// KEY_CHANGE post that follows. ResumeToken lets a reconnecting client skip
// the challenge round trip.
type AuthPayload struct {
	Username             string `json:"username"`
	PublicKey            string `json:"publicKey"`
	Signature            string `json:"signature"`
	RecoveryPublicKey    string `json:"recoveryPublicKey,omitempty"`
	RecoveryKeySignature string `json:"recoveryKeySignature,omitempty"`
}

type AuthResult struct {
	Profile     *domain.UserProfile `json:"profile,omitempty"`
	ResumeToken string              `json:"resumeToken,omitempty"`
}

type UserSearchPayload struct {
	UserID    string `json:"userId,omitempty"`
	Username  string `json:"username,omitempty"`
	PublicKey string `json:"publicKey,omitempty"`
}

type UserInfoPayload struct {
	UserID                string `json:"userId"`
	PostCount             int64  `json:"postCount"`
	DetailsVersion        int64  `json:"detailsVersion,omitempty"`
	ProfilePictureVersion int64  `json:"profilePictureVersion,omitempty"`
	FriendListVersion     int64  `json:"friendListVersion,omitempty"`
	BlockedListVersion    int64  `json:"blockedListVersion,omitempty"`
}

type PostsPayload struct {
	UserID     string `json:"userId"`
	BeginIndex int64  `json:"beginIndex"`
	EndIndex   int64  `json:"endIndex"`
}

type ProfileUpdatePayload struct {
	NewUserProfile *domain.UserProfile `json:"newUserProfile"`
	Post           *domain.Post        `json:"post"`
}

type ConnectionContentType string

const (
	ContentOffer        ConnectionContentType = "offer"
	ContentAnswer       ConnectionContentType = "answer"
	ContentICECandidate ConnectionContentType = "ice_candidate"
)

// EstablishConnectionPayload is relayed opaquely between two users; Payload
// is sealed end-to-end with the destination's public key for offers and
// answers.
type EstablishConnectionPayload struct {
	SenderUserID      string                `json:"senderUserId"`
	DestinationUserID string                `json:"destinationUserId"`
	ContentType       ConnectionContentType `json:"contentType"`
	Payload           string                `json:"payload"`
}

type RecommendedPeerPayload struct {
	PeerID   string `json:"peerId,omitempty"`
	IsServer bool   `json:"isServer,omitempty"`
}

// ServerHelloPayload is exchanged between federation servers on connect:
// each side announces its public address and the addresses it knows.
type ServerHelloPayload struct {
	Address      string   `json:"address"`
	KnownServers []string `json:"knownServers,omitempty"`
}

// UserInfoRequestFor builds the USER_INFO payload advertising what the
// caller already holds for the given profile.
func UserInfoRequestFor(p *domain.UserProfile) UserInfoPayload {
	info := UserInfoPayload{UserID: p.UserID, PostCount: p.PostCount}
	if p.Details != nil {
		info.DetailsVersion = p.Details.VersionLock.Version
	}
	if p.ProfilePicture != nil {
		info.ProfilePictureVersion = p.ProfilePicture.VersionLock.Version
	}
	if p.Friends != nil {
		info.FriendListVersion = p.Friends.VersionLock.Version
	}
	if p.Blocked != nil {
		info.BlockedListVersion = p.Blocked.VersionLock.Version
	}
	return info
}
