package mailbox

import (
	"fmt"
	"log/slog"

	mberrors "github.com/alexjbarnes/mailbox-sync/internal/errors"
	"github.com/alexjbarnes/mailbox-sync/internal/models"
)

// OwnMailboxClient uses our own mailbox to reach any number of contacts.
// It keeps the mailbox's contact list in step, runs an upload worker per
// contact assigned for upload, and runs one download worker for as long
// as any contact is assigned for download.
type OwnMailboxClient struct {
	logger  *slog.Logger
	workers WorkerFactory
	checker ConnectivityChecker
	monitor ReachabilityMonitor
	props   models.MailboxProperties

	contactList  Worker
	uploads      map[models.ContactID]Worker
	download     Worker
	downloadRefs map[models.ContactID]bool
}

// NewOwnMailboxClient creates a client for our own mailbox. The client
// owns checker; the monitor is shared and left running on Destroy.
func NewOwnMailboxClient(logger *slog.Logger, workers WorkerFactory, checker ConnectivityChecker, monitor ReachabilityMonitor, props models.MailboxProperties) *OwnMailboxClient {
	if !props.Owner {
		panic(fmt.Sprintf("own mailbox client given non-owner properties: %v", mberrors.ErrInvariant))
	}

	return &OwnMailboxClient{
		logger:       logger.With(slog.String("component", "own-mailbox-client")),
		workers:      workers,
		checker:      checker,
		monitor:      monitor,
		props:        props,
		contactList:  workers.CreateContactListWorkerForOwnMailbox(checker, props),
		uploads:      make(map[models.ContactID]Worker),
		downloadRefs: make(map[models.ContactID]bool),
	}
}

func (c *OwnMailboxClient) Start() {
	c.logger.Info("started")
	c.contactList.Start()
}

func (c *OwnMailboxClient) Destroy() {
	c.logger.Info("destroyed")

	c.contactList.Destroy()

	for id, w := range c.uploads {
		w.Destroy()
		delete(c.uploads, id)
	}

	if c.download != nil {
		c.download.Destroy()
		c.download = nil
	}

	clear(c.downloadRefs)
	c.checker.Destroy()
}

func (c *OwnMailboxClient) requireOwner(props models.MailboxProperties) {
	if !props.Owner {
		panic(fmt.Sprintf("own mailbox client given non-owner properties: %v", mberrors.ErrInvariant))
	}
}

func (c *OwnMailboxClient) AssignContactForUpload(contact models.ContactID, props models.MailboxProperties, folder models.FolderID) {
	c.requireOwner(props)

	if _, ok := c.uploads[contact]; ok {
		panic(fmt.Sprintf("contact %s already assigned for upload: %v", contact, mberrors.ErrInvariant))
	}

	c.logger.Info("assigned for upload", slog.String("contact_id", contact.String()))

	w := c.workers.CreateUploadWorker(c.checker, props, folder, contact)
	c.uploads[contact] = w
	w.Start()
}

func (c *OwnMailboxClient) DeassignContactForUpload(contact models.ContactID) {
	w, ok := c.uploads[contact]
	if !ok {
		return
	}

	c.logger.Info("deassigned for upload", slog.String("contact_id", contact.String()))
	delete(c.uploads, contact)
	w.Destroy()
}

func (c *OwnMailboxClient) AssignContactForDownload(contact models.ContactID, props models.MailboxProperties, _ models.FolderID) {
	c.requireOwner(props)

	if c.downloadRefs[contact] {
		panic(fmt.Sprintf("contact %s already assigned for download: %v", contact, mberrors.ErrInvariant))
	}

	c.logger.Info("assigned for download", slog.String("contact_id", contact.String()))
	c.downloadRefs[contact] = true

	// The worker lists every folder, so one serves all assigned contacts.
	if c.download == nil {
		c.download = c.workers.CreateDownloadWorkerForOwnMailbox(c.checker, c.monitor, props)
		c.download.Start()
	}
}

func (c *OwnMailboxClient) DeassignContactForDownload(contact models.ContactID) {
	if !c.downloadRefs[contact] {
		return
	}

	c.logger.Info("deassigned for download", slog.String("contact_id", contact.String()))
	delete(c.downloadRefs, contact)

	if len(c.downloadRefs) == 0 && c.download != nil {
		c.download.Destroy()
		c.download = nil
	}
}
