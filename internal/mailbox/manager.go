package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	mberrors "github.com/alexjbarnes/mailbox-sync/internal/errors"
	"github.com/alexjbarnes/mailbox-sync/internal/events"
	"github.com/alexjbarnes/mailbox-sync/internal/executor"
	"github.com/alexjbarnes/mailbox-sync/internal/models"
	"github.com/alexjbarnes/mailbox-sync/internal/state"
)

// ReachabilityService is a ReachabilityMonitor with a lifecycle.
type ReachabilityService interface {
	ReachabilityMonitor
	Start()
	Destroy()
}

// assignment records which mailbox carries each direction for a contact.
type assignment struct {
	ownUpload       bool
	ownDownload     bool
	contactUpload   bool
	contactDownload bool
}

// assignmentFor applies the priority rule. The contact's mailbox always
// carries upload when usable, and carries download only when our own
// mailbox cannot. Our own mailbox carries download when usable, and upload
// only when the contact's mailbox cannot.
func assignmentFor(own, contact bool) assignment {
	return assignment{
		ownUpload:       own && !contact,
		ownDownload:     own,
		contactUpload:   contact,
		contactDownload: contact && !own,
	}
}

// isMailboxUsable reports whether a contact supporting contactClient can
// be reached through a mailbox supporting server, given that we must be
// able to talk to that mailbox too.
func isMailboxUsable(contactClient, server []models.Version) bool {
	return models.IsClientCompatibleWithServer(contactClient, server) &&
		models.IsClientCompatibleWithServer(models.ClientSupports, server)
}

// Manager owns the assignment of contacts to mailboxes. It is driven by
// domain events and only ever touches its state on the event loop.
type Manager struct {
	logger   *slog.Logger
	loop     executor.Executor
	io       executor.Executor
	db       Database
	bus      EventBus
	endpoint EndpointState
	clients  ClientFactory
	monitor  ReachabilityService

	started atomic.Bool

	// Event loop only.
	handleEvents   bool
	online         bool
	updates        map[models.ContactID]models.Updates
	own            *models.MailboxProperties
	ownClient      Client
	contactClients map[models.ContactID]Client
	contactProps   map[models.ContactID]models.MailboxProperties
	assigned       map[models.ContactID]assignment
}

// NewManager creates a manager. loop must be the executor the store runs
// commit actions on and the bus delivers events on.
func NewManager(logger *slog.Logger, loop, io executor.Executor, db Database, bus EventBus, endpoint EndpointState, clients ClientFactory, monitor ReachabilityService) *Manager {
	return &Manager{
		logger:         logger.With(slog.String("component", "mailbox-manager")),
		loop:           loop,
		io:             io,
		db:             db,
		bus:            bus,
		endpoint:       endpoint,
		clients:        clients,
		monitor:        monitor,
		updates:        make(map[models.ContactID]models.Updates),
		contactClients: make(map[models.ContactID]Client),
		contactProps:   make(map[models.ContactID]models.MailboxProperties),
		assigned:       make(map[models.ContactID]assignment),
	}
}

// Start subscribes to events and loads the persisted state. Events are
// ignored until the load has been applied on the event loop.
func (m *Manager) Start() error {
	if m.started.Swap(true) {
		return fmt.Errorf("mailbox manager already started: %w", mberrors.ErrInvariant)
	}

	m.monitor.Start()
	m.bus.AddListener(m)
	m.io.Execute(m.load)

	return nil
}

// Stop destroys every client and waits for the event loop to confirm.
func (m *Manager) Stop(ctx context.Context) error {
	done := make(chan struct{})

	m.loop.Execute(func() {
		m.handleEvents = false
		if m.online {
			m.destroyClients()
			m.online = false
		}
		close(done)
	})

	m.bus.RemoveListener(m)
	m.monitor.Destroy()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) load() {
	m.logger.Info("loading mailbox state")

	err := m.db.Transaction(true, func(tx *state.Txn) error {
		all, err := tx.AllUpdates()
		if err != nil {
			return err
		}

		own, err := tx.OwnProperties()
		if err != nil {
			return err
		}

		// Applied as a commit action so the event loop sees this snapshot
		// before the event of any later commit.
		tx.Attach(func() { m.initialise(all, own) })

		return nil
	})
	if err != nil {
		m.logger.Error("loading mailbox state", slog.String("error", err.Error()))
	}
}

func (m *Manager) initialise(all map[models.ContactID]models.Updates, own *models.MailboxProperties) {
	for c, u := range all {
		m.updates[c] = u
	}
	m.own = own

	if m.endpoint.Active() {
		m.logger.Info("online")
		m.online = true
		m.createClients()
	}

	m.handleEvents = true
}

func (m *Manager) EventOccurred(e events.Event) {
	if !m.handleEvents {
		return
	}

	switch e := e.(type) {
	case events.EndpointActive:
		m.onEndpointActive()
	case events.EndpointInactive:
		m.onEndpointInactive()
	case events.MailboxPaired:
		m.logger.Info("mailbox paired")
		m.onMailboxPaired(e.Properties, e.LocalUpdates)
	case events.MailboxUnpaired:
		m.logger.Info("mailbox unpaired")
		m.onMailboxUnpaired(e.LocalUpdates)
	case events.MailboxUpdateSentToNewContact:
		m.logger.Info("contact added", slog.String("contact_id", e.Contact.String()))
		m.onContactAdded(e.Contact, e.Update)
	case events.ContactRemoved:
		m.logger.Info("contact removed", slog.String("contact_id", e.Contact.String()))
		m.onContactRemoved(e.Contact)
	case events.RemoteMailboxUpdate:
		m.logger.Info("remote mailbox update", slog.String("contact_id", e.Contact.String()))
		m.onRemoteMailboxUpdate(e.Contact, e.Update)
	case events.OwnMailboxConnectionStatus:
		m.onOwnMailboxConnectionStatus(e.Status)
	}
}

func (m *Manager) onEndpointActive() {
	// Already online if the startup check raced with the endpoint coming up.
	if m.online {
		return
	}

	m.logger.Info("online")
	m.online = true
	m.createClients()
}

func (m *Manager) onEndpointInactive() {
	if !m.online {
		return
	}

	m.logger.Info("offline")
	m.online = false
	m.destroyClients()
}

func (m *Manager) onMailboxPaired(props models.MailboxProperties, local map[models.ContactID]models.MailboxUpdate) {
	m.setLocalUpdates(local)
	m.own = &props

	if !m.online {
		return
	}

	m.createOwnClient()
	m.reconcileAll()
}

func (m *Manager) onMailboxUnpaired(local map[models.ContactID]models.MailboxUpdate) {
	m.setLocalUpdates(local)
	m.own = nil

	if !m.online {
		return
	}

	m.destroyOwnClient()
	m.reconcileAll()
}

func (m *Manager) setLocalUpdates(local map[models.ContactID]models.MailboxUpdate) {
	for c, lu := range local {
		u, ok := m.updates[c]
		if !ok {
			panic(fmt.Sprintf("local update for unknown contact %s: %v", c, mberrors.ErrInvariant))
		}

		u.Local = lu
		m.updates[c] = u
	}
}

func (m *Manager) onContactAdded(c models.ContactID, local models.MailboxUpdate) {
	if _, ok := m.updates[c]; ok {
		panic(fmt.Sprintf("contact %s added twice: %v", c, mberrors.ErrInvariant))
	}

	// Nothing to assign until the contact sends us an update.
	m.updates[c] = models.Updates{Local: local}
}

func (m *Manager) onContactRemoved(c models.ContactID) {
	if _, ok := m.updates[c]; !ok {
		panic(fmt.Sprintf("unknown contact %s removed: %v", c, mberrors.ErrInvariant))
	}

	delete(m.updates, c)

	if !m.online {
		return
	}

	cur := m.assigned[c]
	m.destroyContactClient(c)

	if cur.ownUpload {
		m.ownClient.DeassignContactForUpload(c)
	}

	if cur.ownDownload {
		m.ownClient.DeassignContactForDownload(c)
	}

	delete(m.assigned, c)
}

func (m *Manager) onRemoteMailboxUpdate(c models.ContactID, remote models.MailboxUpdate) {
	u, ok := m.updates[c]
	if !ok {
		panic(fmt.Sprintf("remote update for unknown contact %s: %v", c, mberrors.ErrInvariant))
	}

	u.Remote = &remote
	m.updates[c] = u

	if m.online {
		m.reconcile(c)
	}
}

func (m *Manager) onOwnMailboxConnectionStatus(status models.MailboxStatus) {
	if m.own == nil || slices.Equal(m.own.ServerSupports, status.ServerSupports) {
		return
	}

	m.logger.Info("own mailbox's supported versions changed",
		slog.Any("old", m.own.ServerSupports), slog.Any("new", status.ServerSupports))

	own := m.own.WithServerSupports(status.ServerSupports)
	m.own = &own

	if !m.online {
		return
	}

	// Every contact's compatibility may have changed at once.
	m.destroyClients()
	m.createClients()
}

func (m *Manager) createClients() {
	m.logger.Info("creating clients")

	if m.own != nil {
		m.createOwnClient()
	}

	m.reconcileAll()
}

func (m *Manager) destroyClients() {
	m.logger.Info("destroying clients")

	for c := range m.contactClients {
		m.destroyContactClient(c)
	}

	m.destroyOwnClient()
	clear(m.assigned)
}

func (m *Manager) createOwnClient() {
	if m.ownClient != nil {
		panic(fmt.Sprintf("own mailbox client already exists: %v", mberrors.ErrInvariant))
	}

	if !models.IsClientCompatibleWithServer(models.ClientSupports, m.own.ServerSupports) {
		m.logger.Warn("own mailbox is paired but not compatible with this client",
			slog.Any("server_supports", m.own.ServerSupports))

		return
	}

	m.ownClient = m.clients.CreateOwnMailboxClient(m.monitor, *m.own)
	m.ownClient.Start()
}

func (m *Manager) destroyOwnClient() {
	if m.ownClient == nil {
		return
	}

	m.ownClient.Destroy()
	m.ownClient = nil

	for c, a := range m.assigned {
		a.ownUpload, a.ownDownload = false, false
		m.storeAssignment(c, a)
	}
}

func (m *Manager) destroyContactClient(c models.ContactID) {
	client, ok := m.contactClients[c]
	if !ok {
		return
	}

	client.Destroy()
	delete(m.contactClients, c)
	delete(m.contactProps, c)

	a := m.assigned[c]
	a.contactUpload, a.contactDownload = false, false
	m.storeAssignment(c, a)
}

func (m *Manager) storeAssignment(c models.ContactID, a assignment) {
	if a == (assignment{}) {
		delete(m.assigned, c)
		return
	}

	m.assigned[c] = a
}

func (m *Manager) ownUsable(u models.Updates) bool {
	return m.own != nil && m.ownClient != nil &&
		u.Remote != nil && u.Local.Properties != nil &&
		isMailboxUsable(u.Remote.ClientSupports, m.own.ServerSupports)
}

func contactUsable(u models.Updates) bool {
	return u.Remote != nil && u.Remote.Properties != nil &&
		isMailboxUsable(u.Remote.ClientSupports, u.Remote.Properties.ServerSupports)
}

func (m *Manager) reconcileAll() {
	ids := make([]models.ContactID, 0, len(m.updates))
	for c := range m.updates {
		ids = append(ids, c)
	}

	slices.Sort(ids)

	for _, c := range ids {
		m.reconcile(c)
	}
}

// reconcile brings the assignments of c in line with its current updates,
// issuing only the deassign and assign calls implied by the difference.
func (m *Manager) reconcile(c models.ContactID) {
	u := m.updates[c]
	useContact := contactUsable(u)

	// A contact's mailbox that was replaced or whose versions changed
	// needs a fresh client.
	if _, ok := m.contactClients[c]; ok {
		if !useContact || !m.contactProps[c].Equal(*u.Remote.Properties) {
			m.destroyContactClient(c)
		}
	}

	if _, ok := m.contactClients[c]; useContact && !ok {
		client := m.clients.CreateContactMailboxClient(m.monitor)
		m.contactClients[c] = client
		m.contactProps[c] = *u.Remote.Properties
		client.Start()
	}

	cur := m.assigned[c]
	want := assignmentFor(m.ownUsable(u), useContact)

	if cur == want {
		return
	}

	contactClient := m.contactClients[c]

	if cur.ownUpload && !want.ownUpload {
		m.ownClient.DeassignContactForUpload(c)
	}

	if cur.ownDownload && !want.ownDownload {
		m.ownClient.DeassignContactForDownload(c)
	}

	if cur.contactUpload && !want.contactUpload {
		contactClient.DeassignContactForUpload(c)
	}

	if cur.contactDownload && !want.contactDownload {
		contactClient.DeassignContactForDownload(c)
	}

	if want.ownUpload && !cur.ownUpload {
		m.ownClient.AssignContactForUpload(c, *m.own, u.Local.Properties.InboxID)
	}

	if want.ownDownload && !cur.ownDownload {
		m.ownClient.AssignContactForDownload(c, *m.own, u.Local.Properties.OutboxID)
	}

	if want.contactUpload && !cur.contactUpload {
		p := *u.Remote.Properties
		contactClient.AssignContactForUpload(c, p, p.OutboxID)
	}

	if want.contactDownload && !cur.contactDownload {
		p := *u.Remote.Properties
		contactClient.AssignContactForDownload(c, p, p.InboxID)
	}

	m.storeAssignment(c, want)
}
