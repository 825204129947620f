// Package mailbox decides which mailbox each contact uses for upload and
// download, and runs the workers that move files through those mailboxes.
//
// Everything that touches the assignment table runs on the event loop.
// Relay calls and file I/O run on the I/O pool through an APICaller, and
// every worker guards its own state with a mutex so that late callbacks
// can find it destroyed and return.
package mailbox

import (
	"context"
	"time"

	"github.com/alexjbarnes/mailbox-sync/internal/events"
	"github.com/alexjbarnes/mailbox-sync/internal/models"
	"github.com/alexjbarnes/mailbox-sync/internal/state"
)

//go:generate mockgen -destination=mock_mailbox.go -package=mailbox . Client,ClientFactory,WorkerFactory,Worker

// Config holds the timing knobs of the mailbox subsystem.
type Config struct {
	// ConnectivityFreshness is how long a successful connectivity check
	// is reused.
	ConnectivityFreshness time.Duration
	// ReachabilityPeriod is how long our endpoint must stay active before
	// it is considered reachable by contacts.
	ReachabilityPeriod time.Duration
	// UploadCheckDelay coalesces bursts of new outgoing data.
	UploadCheckDelay time.Duration
	// UploadRetryDelay is the pause after a failure to write a batch.
	UploadRetryDelay time.Duration
	// MaxLatency is how long a sent message waits for an ack before it is
	// sent again.
	MaxLatency time.Duration
}

// DefaultConfig returns the timings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		ConnectivityFreshness: 10 * time.Second,
		ReachabilityPeriod:    10 * time.Minute,
		UploadCheckDelay:      5 * time.Second,
		UploadRetryDelay:      time.Minute,
		MaxLatency:            14 * 24 * time.Hour,
	}
}

// Worker is a background state machine. Start has no effect after the
// first call. Destroy is terminal, idempotent and safe to call from any
// state.
type Worker interface {
	Start()
	Destroy()
}

// Client owns the workers for one mailbox relationship.
type Client interface {
	Start()
	Destroy()
	AssignContactForUpload(c models.ContactID, props models.MailboxProperties, folder models.FolderID)
	DeassignContactForUpload(c models.ContactID)
	AssignContactForDownload(c models.ContactID, props models.MailboxProperties, folder models.FolderID)
	DeassignContactForDownload(c models.ContactID)
}

// ClientFactory creates mailbox clients.
type ClientFactory interface {
	CreateContactMailboxClient(monitor ReachabilityMonitor) Client
	CreateOwnMailboxClient(monitor ReachabilityMonitor, props models.MailboxProperties) Client
}

// WorkerFactory creates workers bound to a connectivity checker.
type WorkerFactory interface {
	CreateUploadWorker(checker ConnectivityChecker, props models.MailboxProperties, folder models.FolderID, c models.ContactID) Worker
	CreateDownloadWorkerForContactMailbox(checker ConnectivityChecker, monitor ReachabilityMonitor, props models.MailboxProperties, folder models.FolderID) Worker
	CreateDownloadWorkerForOwnMailbox(checker ConnectivityChecker, monitor ReachabilityMonitor, props models.MailboxProperties) Worker
	CreateContactListWorkerForOwnMailbox(checker ConnectivityChecker, props models.MailboxProperties) Worker
}

// Database is the transactional store. Commit actions attached to a
// transaction run on the event loop after commit.
type Database interface {
	Transaction(readOnly bool, fn func(*state.Txn) error) error
}

// EventBus is the subset of the bus that workers subscribe through.
type EventBus interface {
	AddListener(l events.Listener)
	RemoveListener(l events.Listener)
}

// ConnectionRegistry reports direct connections to contacts.
type ConnectionRegistry interface {
	IsConnected(c models.ContactID) bool
}

// EndpointState reports whether our own anonymity network endpoint is up.
type EndpointState interface {
	Active() bool
}

// FileManager allocates the local files that downloads land in and that
// uploads are read from.
type FileManager interface {
	// CreateTempFileForDownload returns the path of a new empty file for a
	// download from folder. It blocks until startup recovery of orphaned
	// files has finished or ctx is done.
	CreateTempFileForDownload(ctx context.Context, folder models.FolderID) (string, error)
	// HandleDownloadedFile takes ownership of a completed download.
	HandleDownloadedFile(folder models.FolderID, path string)
	// CreateAndWriteTempFileForUpload writes the next batch for c and
	// reports what the batch carries.
	CreateAndWriteTempFileForUpload(ctx context.Context, c models.ContactID) (string, models.SessionRecord, error)
}
