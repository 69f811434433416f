// Package validate checks profiles and post ranges received from untrusted
// sources. Everything here is a pure function of its inputs: a caller that
// gets a nil error may trust the whole batch, and anything else means the
// batch is discarded wholesale.
package validate

import (
	"errors"

	"github.com/vedran77/lattice/internal/crypto"
	"github.com/vedran77/lattice/internal/domain"
	"github.com/vedran77/lattice/pkg/validator"
)

var (
	ErrMissingFields   = errors.New("profile is missing required fields")
	ErrBadUsername     = errors.New("username does not match the format rule")
	ErrBadSection      = errors.New("profile section is incomplete")
	ErrOwnerInList     = errors.New("friend or block list contains the owner")
	ErrDeletedSections = errors.New("deleted profile still carries sections")
	ErrBadSignature    = errors.New("signature verification failed")
)

// Profile checks a UserProfile received from an untrusted source: required
// fields, username format, section completeness and every present signature.
func Profile(p *domain.UserProfile) error {
	if p == nil || p.UserID == "" || p.Username == "" || p.PublicKey == "" ||
		p.RecoveryPublicKey == "" || p.PostCount <= 0 || p.PostCountSignature == "" {
		return ErrMissingFields
	}
	if !validator.ValidSharePermission(p.SharePermission) {
		return ErrMissingFields
	}
	if !validator.ValidUsername(p.Username) {
		return ErrBadUsername
	}
	if p.Deleted {
		if p.Details != nil || p.ProfilePicture != nil || p.Friends != nil || p.Blocked != nil {
			return ErrDeletedSections
		}
	}
	if p.Details != nil {
		if p.Details.RegistrationTimestamp == 0 || !completeLock(p.Details.VersionLock) {
			return ErrBadSection
		}
	}
	if p.ProfilePicture != nil && !completeLock(p.ProfilePicture.VersionLock) {
		return ErrBadSection
	}
	if err := checkList(p, p.Friends); err != nil {
		return err
	}
	if err := checkList(p, p.Blocked); err != nil {
		return err
	}
	return profileSignatures(p)
}

func completeLock(l domain.VersionLock) bool {
	return l.Version != 0 && l.Signature != ""
}

func checkList(owner *domain.UserProfile, l *domain.UserList) error {
	if l == nil {
		return nil
	}
	if l.Elements == nil || !completeLock(l.VersionLock) {
		return ErrBadSection
	}
	for _, e := range l.Elements {
		if e.ID == "" || e.Username == "" {
			return ErrBadSection
		}
		if e.ID == owner.UserID || e.Username == owner.Username {
			return ErrOwnerInList
		}
	}
	return nil
}

func profileSignatures(p *domain.UserProfile) error {
	if !crypto.Verify(p.PublicKey, p.BasicSigningPayload(), p.PostCountSignature) {
		return ErrBadSignature
	}
	if p.Details != nil && !crypto.Verify(p.PublicKey, p.Details.SigningPayload(), p.Details.VersionLock.Signature) {
		return ErrBadSignature
	}
	if p.ProfilePicture != nil && !crypto.Verify(p.PublicKey, p.ProfilePicture.SigningPayload(), p.ProfilePicture.VersionLock.Signature) {
		return ErrBadSignature
	}
	if p.Friends != nil && !crypto.Verify(p.PublicKey, p.Friends.SigningPayload(), p.Friends.VersionLock.Signature) {
		return ErrBadSignature
	}
	if p.Blocked != nil && !crypto.Verify(p.PublicKey, p.Blocked.SigningPayload(), p.Blocked.VersionLock.Signature) {
		return ErrBadSignature
	}
	return nil
}
