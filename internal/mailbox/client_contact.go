package mailbox

import (
	"fmt"
	"log/slog"

	mberrors "github.com/alexjbarnes/mailbox-sync/internal/errors"
	"github.com/alexjbarnes/mailbox-sync/internal/models"
)

// ContactMailboxClient uses a contact's mailbox to reach that contact. It
// runs at most one upload and one download worker.
type ContactMailboxClient struct {
	logger  *slog.Logger
	workers WorkerFactory
	checker ConnectivityChecker
	monitor ReachabilityMonitor

	upload   Worker
	download Worker
}

// NewContactMailboxClient creates a client. The client owns checker; the
// monitor is shared and left running on Destroy.
func NewContactMailboxClient(logger *slog.Logger, workers WorkerFactory, checker ConnectivityChecker, monitor ReachabilityMonitor) *ContactMailboxClient {
	return &ContactMailboxClient{
		logger:  logger.With(slog.String("component", "contact-mailbox-client")),
		workers: workers,
		checker: checker,
		monitor: monitor,
	}
}

func (c *ContactMailboxClient) Start() {
	c.logger.Info("started")
}

func (c *ContactMailboxClient) Destroy() {
	c.logger.Info("destroyed")

	if c.upload != nil {
		c.upload.Destroy()
		c.upload = nil
	}

	if c.download != nil {
		c.download.Destroy()
		c.download = nil
	}

	c.checker.Destroy()
}

func (c *ContactMailboxClient) AssignContactForUpload(contact models.ContactID, props models.MailboxProperties, folder models.FolderID) {
	if props.Owner {
		panic(fmt.Sprintf("contact mailbox client given owner properties: %v", mberrors.ErrInvariant))
	}

	if c.upload != nil {
		panic(fmt.Sprintf("contact %s already assigned for upload: %v", contact, mberrors.ErrInvariant))
	}

	c.logger.Info("assigned for upload", slog.String("contact_id", contact.String()))
	c.upload = c.workers.CreateUploadWorker(c.checker, props, folder, contact)
	c.upload.Start()
}

func (c *ContactMailboxClient) DeassignContactForUpload(contact models.ContactID) {
	c.logger.Info("deassigned for upload", slog.String("contact_id", contact.String()))

	if c.upload != nil {
		c.upload.Destroy()
		c.upload = nil
	}
}

func (c *ContactMailboxClient) AssignContactForDownload(contact models.ContactID, props models.MailboxProperties, folder models.FolderID) {
	if props.Owner {
		panic(fmt.Sprintf("contact mailbox client given owner properties: %v", mberrors.ErrInvariant))
	}

	if c.download != nil {
		panic(fmt.Sprintf("contact %s already assigned for download: %v", contact, mberrors.ErrInvariant))
	}

	c.logger.Info("assigned for download", slog.String("contact_id", contact.String()))
	c.download = c.workers.CreateDownloadWorkerForContactMailbox(c.checker, c.monitor, props, folder)
	c.download.Start()
}

func (c *ContactMailboxClient) DeassignContactForDownload(contact models.ContactID) {
	c.logger.Info("deassigned for download", slog.String("contact_id", contact.String()))

	if c.download != nil {
		c.download.Destroy()
		c.download = nil
	}
}
