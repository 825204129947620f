package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	mberrors "github.com/alexjbarnes/mailbox-sync/internal/errors"
	"github.com/alexjbarnes/mailbox-sync/internal/events"
	"github.com/alexjbarnes/mailbox-sync/internal/executor"
	"github.com/alexjbarnes/mailbox-sync/internal/metrics"
	"github.com/alexjbarnes/mailbox-sync/internal/models"
	"github.com/alexjbarnes/mailbox-sync/internal/relay"
	"github.com/alexjbarnes/mailbox-sync/internal/state"
)

type contactListState int

const (
	contactListCreated contactListState = iota
	contactListConnectivityCheck
	contactListFetching
	contactListUpdating
	contactListWaitingForChanges
	contactListDestroyed
)

// contactListUpdate is one change to apply to the mailbox's contact list.
type contactListUpdate struct {
	add     bool
	contact models.ContactID
}

// ContactListWorker keeps the contact list on our own mailbox in step
// with the local contact list.
type ContactListWorker struct {
	logger  *slog.Logger
	io      executor.Executor
	db      Database
	bus     EventBus
	checker ConnectivityChecker
	caller  APICaller
	api     relay.API
	props   models.MailboxProperties

	mu      sync.Mutex
	state   contactListState
	apiCall executor.Cancellable
	updates []contactListUpdate
}

// NewContactListWorker creates a worker for our own mailbox.
func NewContactListWorker(logger *slog.Logger, io executor.Executor, db Database, bus EventBus, checker ConnectivityChecker, caller APICaller, api relay.API, props models.MailboxProperties) *ContactListWorker {
	if !props.Owner {
		panic(fmt.Sprintf("contact list worker with non-owner properties: %v", mberrors.ErrInvariant))
	}

	return &ContactListWorker{
		logger:  logger.With(slog.String("component", "contact-list-worker")),
		io:      io,
		db:      db,
		bus:     bus,
		checker: checker,
		caller:  caller,
		api:     api,
		props:   props,
	}
}

func (w *ContactListWorker) Start() {
	w.mu.Lock()
	if w.state != contactListCreated {
		w.mu.Unlock()
		return
	}
	w.state = contactListConnectivityCheck
	w.mu.Unlock()

	w.logger.Info("started")
	metrics.WorkerStarted("contact_list")

	w.bus.AddListener(w)
	w.checker.CheckConnectivity(w.props, w)

	if w.isDestroyed() {
		w.checker.RemoveObserver(w)
		w.bus.RemoveListener(w)
	}
}

func (w *ContactListWorker) Destroy() {
	w.mu.Lock()
	if w.state == contactListDestroyed {
		w.mu.Unlock()
		return
	}
	started := w.state != contactListCreated
	w.state = contactListDestroyed
	apiCall := w.apiCall
	w.apiCall = nil
	w.updates = nil
	w.mu.Unlock()

	w.logger.Info("destroyed")

	if started {
		metrics.WorkerDestroyed("contact_list")
	}

	if apiCall != nil {
		apiCall.Cancel()
	}

	w.checker.RemoveObserver(w)
	w.bus.RemoveListener(w)
}

func (w *ContactListWorker) inState(s contactListState) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.state == s
}

func (w *ContactListWorker) isDestroyed() bool {
	return w.inState(contactListDestroyed)
}

func (w *ContactListWorker) OnConnectivityCheckSucceeded() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != contactListConnectivityCheck {
		return
	}

	w.state = contactListFetching
	w.apiCall = w.caller.RetryWithBackoff(SimpleCall(w.logger, "list_contacts", w.fetchContactList))
}

func (w *ContactListWorker) fetchContactList(ctx context.Context) error {
	if !w.inState(contactListFetching) {
		return nil
	}

	w.logger.Info("fetching remote contact list")

	remote, err := w.api.ListContacts(ctx, w.props)
	if err != nil {
		return err
	}

	w.io.Execute(func() { w.loadLocalContactList(remote) })

	return nil
}

func (w *ContactListWorker) loadLocalContactList(remote []models.ContactID) {
	w.mu.Lock()
	if w.state != contactListFetching {
		w.mu.Unlock()
		return
	}
	w.apiCall = nil
	w.mu.Unlock()

	err := w.db.Transaction(true, func(tx *state.Txn) error {
		local, err := tx.ContactIDs()
		if err != nil {
			return err
		}

		// Reconciled on the event loop so no contact event is missed or
		// applied twice.
		tx.Attach(func() { w.reconcile(local, remote) })

		return nil
	})
	if err != nil {
		w.logger.Warn("loading local contact list", slog.String("error", err.Error()))
	}
}

func (w *ContactListWorker) reconcile(local, remote []models.ContactID) {
	localSet := make(map[models.ContactID]bool, len(local))
	for _, c := range local {
		localSet[c] = true
	}

	remoteSet := make(map[models.ContactID]bool, len(remote))
	for _, c := range remote {
		remoteSet[c] = true
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != contactListFetching {
		return
	}

	for _, c := range local {
		if !remoteSet[c] {
			w.updates = append(w.updates, contactListUpdate{add: true, contact: c})
		}
	}

	for _, c := range remote {
		if !localSet[c] {
			w.updates = append(w.updates, contactListUpdate{add: false, contact: c})
		}
	}

	if len(w.updates) == 0 {
		w.logger.Info("contact list is up to date")
		w.state = contactListWaitingForChanges

		return
	}

	w.logger.Info("updating contact list", slog.Int("updates", len(w.updates)))
	w.state = contactListUpdating
	w.io.Execute(w.updateContactList)
}

// updateContactList applies the next queued update.
func (w *ContactListWorker) updateContactList() {
	w.mu.Lock()
	if w.state != contactListUpdating {
		w.mu.Unlock()
		return
	}

	if len(w.updates) == 0 {
		w.logger.Info("contact list updated")
		w.state = contactListWaitingForChanges
		w.apiCall = nil
		w.mu.Unlock()

		return
	}

	update := w.updates[0]
	w.updates = w.updates[1:]
	w.mu.Unlock()

	if update.add {
		w.loadMailboxProperties(update.contact)
	} else {
		w.removeContact(update.contact)
	}
}

func (w *ContactListWorker) loadMailboxProperties(c models.ContactID) {
	if !w.inState(contactListUpdating) {
		return
	}

	var local models.MailboxUpdate

	err := w.db.Transaction(true, func(tx *state.Txn) error {
		var err error
		local, err = tx.LocalUpdate(c)

		return err
	})

	switch {
	case errors.Is(err, mberrors.ErrNoSuchContact):
		// Removed since it was queued. A later removal for it will fail
		// tolerably on the relay.
		w.logger.Info("contact no longer exists, skipping", slog.String("contact_id", c.String()))
		w.updateContactList()
	case err != nil:
		w.logger.Warn("loading mailbox properties", slog.String("contact_id", c.String()), slog.String("error", err.Error()))
	case !local.HasMailbox():
		// Our mailbox was unpaired concurrently. This worker is about to be
		// destroyed.
		w.logger.Info("own mailbox was unpaired")
	default:
		w.addContact(c, *local.Properties)
	}
}

func (w *ContactListWorker) addContact(c models.ContactID, p models.MailboxProperties) {
	contact := models.MailboxContact{
		ID:       c,
		Token:    p.AuthToken,
		InboxID:  p.InboxID,
		OutboxID: p.OutboxID,
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != contactListUpdating {
		return
	}

	w.apiCall = w.caller.RetryWithBackoff(SimpleCall(w.logger, "add_contact", func(ctx context.Context) error {
		if !w.inState(contactListUpdating) {
			return nil
		}

		w.logger.Info("adding contact to mailbox", slog.String("contact_id", c.String()))

		if err := w.api.AddContact(ctx, w.props, contact); err != nil {
			if mberrors.Classify(err) != mberrors.KindTolerable {
				return err
			}

			w.logger.Info("contact already on mailbox", slog.String("contact_id", c.String()))
		}

		w.updateContactList()

		return nil
	}))
}

func (w *ContactListWorker) removeContact(c models.ContactID) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != contactListUpdating {
		return
	}

	w.apiCall = w.caller.RetryWithBackoff(SimpleCall(w.logger, "delete_contact", func(ctx context.Context) error {
		if !w.inState(contactListUpdating) {
			return nil
		}

		w.logger.Info("removing contact from mailbox", slog.String("contact_id", c.String()))

		if err := w.api.DeleteContact(ctx, w.props, c); err != nil {
			if mberrors.Classify(err) != mberrors.KindTolerable {
				return err
			}

			w.logger.Warn("contact was not on mailbox", slog.String("contact_id", c.String()))
		}

		w.updateContactList()

		return nil
	}))
}

func (w *ContactListWorker) EventOccurred(e events.Event) {
	switch e := e.(type) {
	case events.ContactAdded:
		w.logger.Debug("contact added", slog.String("contact_id", e.Contact.String()))
		w.queueUpdate(contactListUpdate{add: true, contact: e.Contact})
	case events.ContactRemoved:
		w.logger.Debug("contact removed", slog.String("contact_id", e.Contact.String()))
		w.queueUpdate(contactListUpdate{add: false, contact: e.Contact})
	}
}

func (w *ContactListWorker) queueUpdate(u contactListUpdate) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != contactListUpdating && w.state != contactListWaitingForChanges {
		return
	}

	w.updates = append(w.updates, u)

	if w.state == contactListWaitingForChanges {
		w.state = contactListUpdating
		w.io.Execute(w.updateContactList)
	}
}
