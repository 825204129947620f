// Package relay talks to a mailbox relay over its HTTP API.
package relay

import (
	"context"

	"github.com/alexjbarnes/mailbox-sync/internal/models"
)

//go:generate mockgen -destination=mock_api.go -package=relay . API

// API is the relay contract. Every error wraps one of the sentinels in
// internal/errors. Owner-only calls reject non-owner properties with
// ErrInvariant before touching the network.
type API interface {
	// Setup redeems a setup token and returns the owner properties with
	// the long-lived token and the server's supported versions.
	Setup(ctx context.Context, props models.MailboxProperties) (models.MailboxProperties, error)
	// CheckStatus returns the server's supported versions. Owner only.
	CheckStatus(ctx context.Context, props models.MailboxProperties) ([]models.Version, error)
	// AddContact registers a contact. Owner only. Conflict is tolerable.
	AddContact(ctx context.Context, props models.MailboxProperties, contact models.MailboxContact) error
	// DeleteContact unregisters a contact. Owner only.
	DeleteContact(ctx context.Context, props models.MailboxProperties, id models.ContactID) error
	// ListContacts returns the registered contacts. Owner only.
	ListContacts(ctx context.Context, props models.MailboxProperties) ([]models.ContactID, error)
	// AddFile uploads the file at path into folder.
	AddFile(ctx context.Context, props models.MailboxProperties, folder models.FolderID, path string) error
	// ListFiles lists the files waiting in folder.
	ListFiles(ctx context.Context, props models.MailboxProperties, folder models.FolderID) ([]models.MailboxFile, error)
	// GetFile downloads a file into dest, which must already exist.
	GetFile(ctx context.Context, props models.MailboxProperties, folder models.FolderID, file models.FileID, dest string) error
	// DeleteFile removes a file from folder.
	DeleteFile(ctx context.Context, props models.MailboxProperties, folder models.FolderID, file models.FileID) error
	// ListFolders returns the folders that have files waiting. Owner only.
	ListFolders(ctx context.Context, props models.MailboxProperties) ([]models.FolderID, error)
}
