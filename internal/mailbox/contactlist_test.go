package mailbox

import (
	"context"
	"testing"

	mberrors "github.com/alexjbarnes/mailbox-sync/internal/errors"
	"github.com/alexjbarnes/mailbox-sync/internal/events"
	"github.com/alexjbarnes/mailbox-sync/internal/models"
	"github.com/alexjbarnes/mailbox-sync/internal/relay"
	"github.com/alexjbarnes/mailbox-sync/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type contactListEnv struct {
	store   *storeEnv
	io      *queue
	bus     *stubBus
	checker *stubChecker
	caller  *stubCaller
	api     *relay.MockAPI
	props   models.MailboxProperties
}

func newContactListEnv(t *testing.T) *contactListEnv {
	t.Helper()

	store := testStore(t)
	props := ownProps()
	require.NoError(t, store.s.PairMailbox(props))
	store.loop.runAll()

	return &contactListEnv{
		store:   store,
		io:      &queue{},
		bus:     &stubBus{},
		checker: &stubChecker{},
		caller:  &stubCaller{},
		api:     relay.NewMockAPI(gomock.NewController(t)),
		props:   props,
	}
}

func (e *contactListEnv) worker() *ContactListWorker {
	return NewContactListWorker(testLogger(), e.io, e.store.s, e.bus, e.checker, e.caller, e.api, e.props)
}

func (e *contactListEnv) addContact(t *testing.T) models.ContactID {
	t.Helper()

	c, err := e.store.s.AddContact("contact")
	require.NoError(t, err)
	e.store.loop.runAll()

	return c
}

// settle runs pool tasks, commit actions and relay calls until all are
// idle.
func (e *contactListEnv) settle(t *testing.T) {
	t.Helper()

	for i := 0; e.io.pending() > 0 || e.store.loop.pending() > 0 || e.caller.pending() > 0; i++ {
		require.Less(t, i, 1000, "did not settle")
		e.io.runAll()
		e.store.loop.runAll()
		e.caller.step()
	}
}

func (e *contactListEnv) localProps(t *testing.T, c models.ContactID) models.MailboxProperties {
	t.Helper()

	var u models.MailboxUpdate
	require.NoError(t, e.store.s.Transaction(true, func(tx *state.Txn) error {
		var err error
		u, err = tx.LocalUpdate(c)
		return err
	}))
	require.NotNil(t, u.Properties)

	return *u.Properties
}

// --- Reconciliation ---

func TestContactList_ReconcilesOnStart(t *testing.T) {
	env := newContactListEnv(t)
	c1 := env.addContact(t)
	c2 := env.addContact(t)
	stale := models.ContactID(99)

	p1 := env.localProps(t, c1)

	gomock.InOrder(
		env.api.EXPECT().ListContacts(gomock.Any(), env.props).Return([]models.ContactID{c2, stale}, nil),
		env.api.EXPECT().AddContact(gomock.Any(), env.props, models.MailboxContact{
			ID:       c1,
			Token:    p1.AuthToken,
			InboxID:  p1.InboxID,
			OutboxID: p1.OutboxID,
		}).Return(nil),
		env.api.EXPECT().DeleteContact(gomock.Any(), env.props, stale).Return(nil),
	)

	w := env.worker()
	w.Start()
	assert.Equal(t, 1, env.bus.count())
	assert.True(t, w.inState(contactListConnectivityCheck))

	env.checker.succeed()
	env.settle(t)

	assert.True(t, w.inState(contactListWaitingForChanges))
}

func TestContactList_UpToDate(t *testing.T) {
	env := newContactListEnv(t)
	c := env.addContact(t)

	env.api.EXPECT().ListContacts(gomock.Any(), env.props).Return([]models.ContactID{c}, nil)

	w := env.worker()
	w.Start()
	env.checker.succeed()
	env.settle(t)

	assert.True(t, w.inState(contactListWaitingForChanges))
}

func TestContactList_AppliesEventsAfterReconciling(t *testing.T) {
	env := newContactListEnv(t)

	env.api.EXPECT().ListContacts(gomock.Any(), env.props).Return(nil, nil)

	w := env.worker()
	w.Start()
	env.checker.succeed()
	env.settle(t)
	require.True(t, w.inState(contactListWaitingForChanges))

	c := env.addContact(t)
	p := env.localProps(t, c)

	gomock.InOrder(
		env.api.EXPECT().AddContact(gomock.Any(), env.props, gomock.Any()).DoAndReturn(
			func(_ context.Context, _ models.MailboxProperties, got models.MailboxContact) error {
				assert.Equal(t, c, got.ID)
				assert.Equal(t, p.AuthToken, got.Token)
				return nil
			}),
		env.api.EXPECT().DeleteContact(gomock.Any(), env.props, c).Return(nil),
	)

	env.bus.dispatch(events.ContactAdded{Contact: c})
	assert.True(t, w.inState(contactListUpdating))
	env.bus.dispatch(events.ContactRemoved{Contact: c})
	env.settle(t)

	assert.True(t, w.inState(contactListWaitingForChanges))
}

func TestContactList_EventsWhileFetchingAreIgnored(t *testing.T) {
	env := newContactListEnv(t)

	env.api.EXPECT().ListContacts(gomock.Any(), env.props).Return(nil, nil)

	w := env.worker()
	w.Start()
	env.checker.succeed()
	require.True(t, w.inState(contactListFetching))

	env.bus.dispatch(events.ContactAdded{Contact: 7})
	env.settle(t)

	assert.True(t, w.inState(contactListWaitingForChanges))
}

func TestContactList_RemovedContactIsSkipped(t *testing.T) {
	env := newContactListEnv(t)

	env.api.EXPECT().ListContacts(gomock.Any(), env.props).Return(nil, nil)

	w := env.worker()
	w.Start()
	env.checker.succeed()
	env.settle(t)

	env.bus.dispatch(events.ContactAdded{Contact: 42})
	env.settle(t)

	assert.True(t, w.inState(contactListWaitingForChanges), "unknown contact does not stall the queue")
}

func TestContactList_TolerableFailuresAdvance(t *testing.T) {
	env := newContactListEnv(t)
	env.addContact(t)

	gomock.InOrder(
		env.api.EXPECT().ListContacts(gomock.Any(), env.props).Return([]models.ContactID{5}, nil),
		env.api.EXPECT().AddContact(gomock.Any(), env.props, gomock.Any()).Return(mberrors.ErrTolerable),
		env.api.EXPECT().DeleteContact(gomock.Any(), env.props, models.ContactID(5)).Return(mberrors.ErrTolerable),
	)

	w := env.worker()
	w.Start()
	env.checker.succeed()
	env.settle(t)

	assert.True(t, w.inState(contactListWaitingForChanges))
}

func TestContactList_RetryableFailureIsRetried(t *testing.T) {
	env := newContactListEnv(t)

	gomock.InOrder(
		env.api.EXPECT().ListContacts(gomock.Any(), env.props).Return(nil, mberrors.ErrTransport),
		env.api.EXPECT().ListContacts(gomock.Any(), env.props).Return(nil, nil),
	)

	w := env.worker()
	w.Start()
	env.checker.succeed()
	env.settle(t)

	assert.True(t, w.inState(contactListWaitingForChanges))
}

// --- Lifecycle ---

func TestContactList_Destroy(t *testing.T) {
	env := newContactListEnv(t)

	w := env.worker()
	w.Start()
	env.checker.succeed()
	require.Equal(t, 1, env.caller.pending())

	w.Destroy()
	w.Destroy()

	assert.True(t, w.isDestroyed())
	assert.Equal(t, 0, env.caller.pending())
	assert.Equal(t, 0, env.bus.count())

	env.bus.dispatch(events.ContactAdded{Contact: 1})
	assert.Equal(t, 0, env.io.pending())
}

func TestContactList_DestroyWhileWaitingForConnectivity(t *testing.T) {
	env := newContactListEnv(t)

	w := env.worker()
	w.Start()
	w.Destroy()

	assert.Equal(t, 0, env.checker.waiting())
	env.checker.succeed()
	assert.Equal(t, 0, env.caller.pending())
}

func TestContactList_RejectsContactProperties(t *testing.T) {
	env := newContactListEnv(t)
	assert.Panics(t, func() {
		NewContactListWorker(testLogger(), env.io, env.store.s, env.bus, env.checker, env.caller, env.api, contactProps())
	})
}
