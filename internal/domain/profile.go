package domain

import "encoding/json"

// Share permission levels. Blocked users are always excluded.
const (
	SharePublic           = 0
	ShareFriendsOfFriends = 1
	ShareFriendsOnly      = 2
)

// VersionLock makes a profile section independently syncable: version is the
// timestamp of the last edit, signature covers the section's JSON with this
// signature blanked.
type VersionLock struct {
	Version   int64  `json:"version"`
	Signature string `json:"signature"`
}

type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type Birthday struct {
	Year  int `json:"year,omitempty"`
	Month int `json:"month,omitempty"`
	Day   int `json:"day,omitempty"`
}

type ProfileDetails struct {
	RegistrationTimestamp int64       `json:"registrationTimestamp"`
	Description           string      `json:"description,omitempty"`
	Location              string      `json:"location,omitempty"`
	Education             string      `json:"education,omitempty"`
	Birthday              *Birthday   `json:"birthday,omitempty"`
	VersionLock           VersionLock `json:"versionLock"`
}

type ProfilePicture struct {
	Picture     string      `json:"picture,omitempty"`
	VersionLock VersionLock `json:"versionLock"`
}

type UserList struct {
	Elements    []UserRef   `json:"elements"`
	VersionLock VersionLock `json:"versionLock"`
}

// UserProfile is the current snapshot of an identity. The four versioned
// sections are optional on the wire: a nil section means "unchanged, use
// what you already have".
type UserProfile struct {
	UserID             string `json:"userId"`
	Username           string `json:"username"`
	PublicKey          string `json:"publicKey"`
	RecoveryPublicKey  string `json:"recoveryPublicKey"`
	PostCount          int64  `json:"postCount"`
	PostCountSignature string `json:"postCountSignature"`
	SharePermission    int    `json:"sharePermission"`
	Deleted            bool   `json:"deleted,omitempty"`

	Details        *ProfileDetails `json:"details,omitempty"`
	ProfilePicture *ProfilePicture `json:"profilePicture,omitempty"`
	Friends        *UserList       `json:"friends,omitempty"`
	Blocked        *UserList       `json:"blocked,omitempty"`
}

// BasicFields projects the profile onto the subset sufficient to prove
// identity and log length, with all versioned sections dropped.
func (u *UserProfile) BasicFields() *UserProfile {
	return &UserProfile{
		UserID:             u.UserID,
		Username:           u.Username,
		PublicKey:          u.PublicKey,
		RecoveryPublicKey:  u.RecoveryPublicKey,
		PostCount:          u.PostCount,
		PostCountSignature: u.PostCountSignature,
		SharePermission:    u.SharePermission,
		Deleted:            u.Deleted,
	}
}

// Tombstoned returns the terminal shape a deleted account is stored as:
// basic fields only, deleted flag set.
func (u *UserProfile) Tombstoned() *UserProfile {
	t := u.BasicFields()
	t.Deleted = true
	return t
}

// BasicSigningPayload returns the bytes covered by postCountSignature.
func (u *UserProfile) BasicSigningPayload() []byte {
	basic := u.BasicFields()
	basic.PostCountSignature = ""
	data, _ := json.Marshal(basic)
	return data
}

// SigningPayload returns the bytes covered by a section's version lock
// signature: the section's JSON with the lock signature blanked.
func (d *ProfileDetails) SigningPayload() []byte {
	c := *d
	c.VersionLock.Signature = ""
	data, _ := json.Marshal(&c)
	return data
}

func (p *ProfilePicture) SigningPayload() []byte {
	c := *p
	c.VersionLock.Signature = ""
	data, _ := json.Marshal(&c)
	return data
}

func (l *UserList) SigningPayload() []byte {
	c := *l
	c.VersionLock.Signature = ""
	data, _ := json.Marshal(&c)
	return data
}

// Contains reports whether the list holds the given user id.
func (l *UserList) Contains(userID string) bool {
	if l == nil {
		return false
	}
	for _, e := range l.Elements {
		if e.ID == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the profile.
func (u *UserProfile) Clone() *UserProfile {
	c := *u
	if u.Details != nil {
		d := *u.Details
		if u.Details.Birthday != nil {
			b := *u.Details.Birthday
			d.Birthday = &b
		}
		c.Details = &d
	}
	if u.ProfilePicture != nil {
		p := *u.ProfilePicture
		c.ProfilePicture = &p
	}
	c.Friends = u.Friends.clone()
	c.Blocked = u.Blocked.clone()
	return &c
}

func (l *UserList) clone() *UserList {
	if l == nil {
		return nil
	}
	c := *l
	c.Elements = make([]UserRef, len(l.Elements))
	copy(c.Elements, l.Elements)
	return &c
}
