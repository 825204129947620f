// Package models defines types shared across internal packages.
package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"
)

// IDLength is the length of a hex-encoded folder, file or token id.
const IDLength = 64

// ContactID identifies a contact in the local store.
type ContactID int

func (c ContactID) String() string {
	return strconv.Itoa(int(c))
}

// ParseContactID parses the decimal form produced by String.
func ParseContactID(s string) (ContactID, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid contact id %q", s)
	}

	return ContactID(n), nil
}

// FolderID names a folder on a mailbox.
type FolderID string

// FileID names a file inside a mailbox folder.
type FileID string

// MessageID identifies a message synced between two parties.
type MessageID string

// IsValidID reports whether s is a 64 character lowercase hex string.
func IsValidID(s string) bool {
	if len(s) != IDLength {
		return false
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}

	return true
}

// NewRandomID returns 32 random bytes, hex encoded.
func NewRandomID() string {
	var b [IDLength / 2]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}

	return hex.EncodeToString(b[:])
}

// Version is a mailbox API version.
type Version struct {
	Major int `json:"major" cbor:"1,keyasint"`
	Minor int `json:"minor" cbor:"2,keyasint"`
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// ClientSupports lists the mailbox API versions this client can speak.
var ClientSupports = []Version{{Major: 1, Minor: 0}}

// IsClientCompatibleWithServer reports whether a client supporting the
// client versions can talk to a server supporting the server versions.
// Versions are compatible when they share a major version.
func IsClientCompatibleWithServer(client, server []Version) bool {
	for _, c := range client {
		for _, s := range server {
			if c.Major == s.Major {
				return true
			}
		}
	}

	return false
}

// MailboxProperties describes how to reach a mailbox. Values are treated
// as immutable once constructed; use the With helpers to derive copies.
type MailboxProperties struct {
	Owner          bool      `json:"owner" cbor:"1,keyasint"`
	OnionAddress   string    `json:"onion" cbor:"2,keyasint"`
	AuthToken      string    `json:"token" cbor:"3,keyasint"`
	ServerSupports []Version `json:"server_supports" cbor:"4,keyasint"`
	InboxID        FolderID  `json:"inbox_id,omitempty" cbor:"5,keyasint,omitempty"`
	OutboxID       FolderID  `json:"outbox_id,omitempty" cbor:"6,keyasint,omitempty"`
}

// Equal reports whether p and o describe the same mailbox with the same
// API versions and folders.
func (p MailboxProperties) Equal(o MailboxProperties) bool {
	return p.Owner == o.Owner &&
		p.OnionAddress == o.OnionAddress &&
		p.AuthToken == o.AuthToken &&
		p.InboxID == o.InboxID &&
		p.OutboxID == o.OutboxID &&
		slices.Equal(p.ServerSupports, o.ServerSupports)
}

// WithServerSupports returns a copy of p with the server versions replaced.
func (p MailboxProperties) WithServerSupports(v []Version) MailboxProperties {
	p.ServerSupports = slices.Clone(v)
	return p
}

// MailboxUpdate is what one party tells another about its mailbox. A nil
// Properties means the sender has no usable mailbox.
type MailboxUpdate struct {
	ClientSupports []Version          `json:"client_supports" cbor:"1,keyasint"`
	Properties     *MailboxProperties `json:"properties,omitempty" cbor:"2,keyasint,omitempty"`
}

// HasMailbox reports whether the update carries mailbox properties.
func (u MailboxUpdate) HasMailbox() bool {
	return u.Properties != nil
}

// Updates pairs the latest update sent to a contact with the latest one
// received from it. Remote is nil until the contact has sent one.
type Updates struct {
	Local  MailboxUpdate
	Remote *MailboxUpdate
}

// MailboxContact is the record an owner registers on its own mailbox so a
// contact can use it.
type MailboxContact struct {
	ID       ContactID `json:"contactId"`
	Token    string    `json:"token"`
	InboxID  FolderID  `json:"inboxId"`
	OutboxID FolderID  `json:"outboxId"`
}

// MailboxFile is one entry of a folder listing.
type MailboxFile struct {
	Name FileID
	Time int64
}

// FolderFile identifies one file inside one folder.
type FolderFile struct {
	Folder FolderID
	File   FileID
}

// MailboxStatus is the last known connection state of our own mailbox.
type MailboxStatus struct {
	LastAttempt    int64     `json:"last_attempt"`
	LastSuccess    int64     `json:"last_success"`
	AttemptsSince  int       `json:"attempts_since_success"`
	ServerSupports []Version `json:"server_supports"`
}

// SessionRecord collects what an outgoing batch carried so that delivery
// can be recorded once the upload has succeeded.
type SessionRecord struct {
	AckedIDs []MessageID
	SentIDs  []MessageID
}
