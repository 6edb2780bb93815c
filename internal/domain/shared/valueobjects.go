// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"regexp"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UserID is the opaque identity supplied by the authentication provider.
// It is only used to key ledger lookups.
type UserID string

var userIDRegex = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// IsValid checks if the user ID has an acceptable shape.
func (u UserID) IsValid() bool {
	return userIDRegex.MatchString(string(u))
}

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// NewUserID creates a new UserID with validation.
func NewUserID(id string) (UserID, error) {
	uid := UserID(strings.TrimSpace(id))
	if uid == "" {
		return "", NewDomainError("shared", "NewUserID", ErrEmptyValue, "user ID is required")
	}
	if !uid.IsValid() {
		return "", NewDomainError("shared", "NewUserID", ErrInvalidID, "invalid user ID format")
	}
	return uid, nil
}

// EntityID identifies the task, habit, or journal entry that earned a reward.
// Habit rewards carry a day suffix ("<habit>@2024-05-01").
type EntityID string

var entityIDRegex = regexp.MustCompile(`^[A-Za-z0-9._:@-]{1,160}$`)

// IsValid checks if the entity ID has an acceptable shape.
func (e EntityID) IsValid() bool {
	return entityIDRegex.MatchString(string(e))
}

// String returns the string representation.
func (e EntityID) String() string {
	return string(e)
}

// NewEntityID creates a new EntityID with validation.
func NewEntityID(id string) (EntityID, error) {
	eid := EntityID(strings.TrimSpace(id))
	if eid == "" {
		return "", NewDomainError("shared", "NewEntityID", ErrEmptyValue, "entity ID is required")
	}
	if !eid.IsValid() {
		return "", NewDomainError("shared", "NewEntityID", ErrInvalidID, "invalid entity ID format")
	}
	return eid, nil
}
