package mailbox

import (
	"errors"
	"os"
	"testing"

	"github.com/alexjbarnes/mailbox-sync/internal/events"
	"github.com/alexjbarnes/mailbox-sync/internal/models"
	"github.com/alexjbarnes/mailbox-sync/internal/relay"
	"github.com/alexjbarnes/mailbox-sync/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type uploadEnv struct {
	store   *storeEnv
	io      *queue
	sched   *fakeScheduler
	bus     *stubBus
	conns   *stubConnections
	caller  *stubCaller
	api     *relay.MockAPI
	files   *stubFiles
	checker *stubChecker
	deps    Deps
	contact models.ContactID
	props   models.MailboxProperties
}

func newUploadEnv(t *testing.T) *uploadEnv {
	t.Helper()

	store := testStore(t)
	c, err := store.s.AddContact("bob")
	require.NoError(t, err)
	store.loop.runAll()

	env := &uploadEnv{
		store:   store,
		io:      &queue{},
		sched:   &fakeScheduler{},
		bus:     &stubBus{},
		conns:   &stubConnections{},
		caller:  &stubCaller{},
		api:     relay.NewMockAPI(gomock.NewController(t)),
		files:   newStubFiles(t),
		checker: &stubChecker{},
		contact: c,
		props:   contactProps(),
	}

	env.deps = Deps{
		Logger:      testLogger(),
		IO:          env.io,
		Scheduler:   env.sched,
		Clock:       store.clock,
		DB:          store.s,
		Bus:         env.bus,
		Connections: env.conns,
		Caller:      env.caller,
		API:         env.api,
		Files:       env.files,
		Config:      DefaultConfig(),
	}

	return env
}

func (e *uploadEnv) worker() *UploadWorker {
	return NewUploadWorker(e.deps, e.checker, e.props, e.props.OutboxID, e.contact)
}

// settle runs pool tasks and commit actions until both are idle.
func (e *uploadEnv) settle() {
	for e.io.pending() > 0 || e.store.loop.pending() > 0 {
		e.io.runAll()
		e.store.loop.runAll()
	}
}

func (e *uploadEnv) sendable(t *testing.T) []models.MessageID {
	t.Helper()

	var ids []models.MessageID
	require.NoError(t, e.store.s.Transaction(true, func(tx *state.Txn) error {
		msgs, err := tx.SendableMessages(e.contact, 100)
		for _, m := range msgs {
			ids = append(ids, m.ID)
		}
		return err
	}))

	return ids
}

// ackEverything leaves the contact with nothing to send.
func (e *uploadEnv) ackEverything(t *testing.T) {
	t.Helper()

	ids := e.sendable(t)
	require.NoError(t, e.store.s.Transaction(false, func(tx *state.Txn) error {
		return tx.MarkAcked(e.contact, ids)
	}))
}

// --- Upload cycle ---

func TestUpload_SendsQueuedDataThenSchedulesWakeup(t *testing.T) {
	env := newUploadEnv(t)

	queued := env.sendable(t)
	require.NotEmpty(t, queued, "a new contact has our update queued")
	env.files.record = models.SessionRecord{SentIDs: queued}

	w := env.worker()
	w.Start()
	assert.Equal(t, 1, env.bus.count())

	env.settle()
	assert.Equal(t, uploadConnectivityCheck, w.currentState())
	assert.Equal(t, 1, env.checker.checks)

	env.checker.succeed()
	env.settle()
	assert.Equal(t, uploadWritingUploading, w.currentState())
	require.Len(t, env.files.uploads, 1)
	path := env.files.uploads[0]

	env.api.EXPECT().AddFile(gomock.Any(), env.props, env.props.OutboxID, path).Return(nil)
	require.True(t, env.caller.step())
	env.settle()

	_, err := os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist), "uploaded file is removed")

	assert.Empty(t, env.sendable(t), "sent messages wait for an ack")
	assert.Equal(t, uploadWaitingForData, w.currentState())

	live := env.sched.live()
	require.Len(t, live, 1)
	assert.Equal(t, env.deps.Config.MaxLatency, live[0].delay)
}

func TestUpload_WakeupChecksAgain(t *testing.T) {
	env := newUploadEnv(t)
	env.files.record = models.SessionRecord{SentIDs: env.sendable(t)}
	env.api.EXPECT().AddFile(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	w := env.worker()
	w.Start()
	env.settle()
	env.checker.succeed()
	env.settle()
	env.caller.drain(t)
	env.settle()
	require.Equal(t, uploadWaitingForData, w.currentState())

	env.store.clock.advance(env.deps.Config.MaxLatency)
	env.sched.fireAll()
	env.settle()

	assert.Equal(t, uploadConnectivityCheck, w.currentState(), "unacked messages are due again")
	assert.Equal(t, 2, env.checker.checks)
}

func TestUpload_NothingToSendWaitsForEvent(t *testing.T) {
	env := newUploadEnv(t)
	env.ackEverything(t)

	w := env.worker()
	w.Start()
	env.settle()

	assert.Equal(t, uploadWaitingForData, w.currentState())
	assert.Empty(t, env.sched.live())

	env.bus.dispatch(events.MessageShared{Visibility: map[models.ContactID]bool{env.contact + 1: true}})
	assert.Equal(t, uploadWaitingForData, w.currentState(), "other contacts' messages are ignored")

	env.bus.dispatch(events.MessageShared{Visibility: map[models.ContactID]bool{env.contact: true}})
	assert.Equal(t, uploadCheckingForData, w.currentState())

	live := env.sched.live()
	require.Len(t, live, 1)
	assert.Equal(t, env.deps.Config.UploadCheckDelay, live[0].delay)
}

func TestUpload_DataEvents(t *testing.T) {
	tests := []struct {
		name  string
		event func(c models.ContactID) events.Event
	}{
		{"message to ack", func(c models.ContactID) events.Event { return events.MessageToAck{Contact: c} }},
		{"message shared", func(c models.ContactID) events.Event {
			return events.MessageShared{Visibility: map[models.ContactID]bool{c: true}}
		}},
		{"group shared", func(c models.ContactID) events.Event {
			return events.GroupVisibilityUpdated{Shared: true, Contacts: []models.ContactID{c}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newUploadEnv(t)
			env.ackEverything(t)

			w := env.worker()
			w.Start()
			env.settle()
			require.Equal(t, uploadWaitingForData, w.currentState())

			env.bus.dispatch(tt.event(env.contact))
			assert.Equal(t, uploadCheckingForData, w.currentState())
		})
	}
}

func TestUpload_GroupHiddenIsIgnored(t *testing.T) {
	env := newUploadEnv(t)
	env.ackEverything(t)

	w := env.worker()
	w.Start()
	env.settle()

	env.bus.dispatch(events.GroupVisibilityUpdated{Shared: false, Contacts: []models.ContactID{env.contact}})
	assert.Equal(t, uploadWaitingForData, w.currentState())
}

func TestUpload_AcksAreSentEvenWhenMessagesAreNotDue(t *testing.T) {
	env := newUploadEnv(t)
	ids := env.sendable(t)
	require.NoError(t, env.store.s.Transaction(false, func(tx *state.Txn) error {
		if err := tx.SetMessagesSent(env.contact, ids, env.deps.Config.MaxLatency); err != nil {
			return err
		}
		return tx.AddAckToSend(env.contact, "received")
	}))
	env.store.loop.runAll()

	w := env.worker()
	w.Start()
	env.settle()

	assert.Equal(t, uploadConnectivityCheck, w.currentState())
}

func TestUpload_AckedIDsAreCleared(t *testing.T) {
	env := newUploadEnv(t)
	env.ackEverything(t)
	require.NoError(t, env.store.s.Transaction(false, func(tx *state.Txn) error {
		return tx.AddAckToSend(env.contact, "received")
	}))
	env.store.loop.runAll()
	env.files.record = models.SessionRecord{AckedIDs: []models.MessageID{"received"}}
	env.api.EXPECT().AddFile(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	w := env.worker()
	w.Start()
	env.settle()
	env.checker.succeed()
	env.settle()
	env.caller.drain(t)
	env.settle()

	assert.Equal(t, uploadWaitingForData, w.currentState())
	assert.Empty(t, env.sched.live(), "nothing left, not even a wakeup")
}

func TestUpload_WriteFailureRetriesAfterDelay(t *testing.T) {
	env := newUploadEnv(t)
	env.files.writeErr = errors.New("disk full")

	w := env.worker()
	w.Start()
	env.settle()
	env.checker.succeed()
	env.settle()

	assert.Equal(t, uploadCheckingForData, w.currentState())
	live := env.sched.live()
	require.Len(t, live, 1)
	assert.Equal(t, env.deps.Config.UploadRetryDelay, live[0].delay)

	env.files.writeErr = nil
	env.sched.fireAll()
	env.settle()
	assert.Equal(t, uploadConnectivityCheck, w.currentState())
}

// --- Direct connections ---

func TestUpload_ConnectedContactPauses(t *testing.T) {
	env := newUploadEnv(t)
	env.conns.set(env.contact, true)

	w := env.worker()
	w.Start()
	env.settle()

	assert.Equal(t, uploadConnectedToContact, w.currentState())
	assert.Equal(t, 0, env.checker.checks)

	env.bus.dispatch(events.MessageToAck{Contact: env.contact})
	assert.Equal(t, uploadConnectedToContact, w.currentState())

	env.conns.set(env.contact, false)
	env.bus.dispatch(events.ContactDisconnected{Contact: env.contact})
	env.settle()

	assert.Equal(t, uploadConnectivityCheck, w.currentState())
}

func TestUpload_ConnectCancelsWakeup(t *testing.T) {
	env := newUploadEnv(t)
	env.files.record = models.SessionRecord{SentIDs: env.sendable(t)}
	env.api.EXPECT().AddFile(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	w := env.worker()
	w.Start()
	env.settle()
	env.checker.succeed()
	env.settle()
	env.caller.drain(t)
	env.settle()
	require.Len(t, env.sched.live(), 1)

	env.bus.dispatch(events.ContactConnected{Contact: env.contact + 1})
	assert.Equal(t, uploadWaitingForData, w.currentState())

	env.bus.dispatch(events.ContactConnected{Contact: env.contact})
	assert.Equal(t, uploadConnectedToContact, w.currentState())
	assert.Empty(t, env.sched.live())
}

func TestUpload_ConnectDuringConnectivityCheck(t *testing.T) {
	env := newUploadEnv(t)

	w := env.worker()
	w.Start()
	env.settle()
	require.Equal(t, 1, env.checker.waiting())

	env.bus.dispatch(events.ContactConnected{Contact: env.contact})
	assert.Equal(t, uploadConnectedToContact, w.currentState())
	assert.Equal(t, 0, env.checker.waiting())
}

func TestUpload_ConnectDuringUploadFinishesUpload(t *testing.T) {
	env := newUploadEnv(t)
	env.files.record = models.SessionRecord{SentIDs: env.sendable(t)}

	w := env.worker()
	w.Start()
	env.settle()
	env.checker.succeed()
	env.settle()

	env.bus.dispatch(events.ContactConnected{Contact: env.contact})
	assert.Equal(t, uploadWritingUploading, w.currentState())
	assert.Equal(t, 1, env.caller.pending())
}

// --- Destroy ---

func TestUpload_DestroyDuringUploadRemovesFile(t *testing.T) {
	env := newUploadEnv(t)

	w := env.worker()
	w.Start()
	env.settle()
	env.checker.succeed()
	env.settle()
	require.Len(t, env.files.uploads, 1)

	w.Destroy()
	w.Destroy()

	assert.Equal(t, uploadDestroyed, w.currentState())
	assert.Equal(t, 0, env.caller.pending())
	assert.Equal(t, 0, env.bus.count())

	_, err := os.Stat(env.files.uploads[0])
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestUpload_DestroyWhileWaitingCancelsWakeup(t *testing.T) {
	env := newUploadEnv(t)
	env.files.record = models.SessionRecord{SentIDs: env.sendable(t)}
	env.api.EXPECT().AddFile(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	w := env.worker()
	w.Start()
	env.settle()
	env.checker.succeed()
	env.settle()
	env.caller.drain(t)
	env.settle()
	require.Len(t, env.sched.live(), 1)

	w.Destroy()
	assert.Empty(t, env.sched.live())
}

func TestUpload_DestroyBeforeCheckCompletes(t *testing.T) {
	env := newUploadEnv(t)

	w := env.worker()
	w.Start()
	w.Destroy()
	env.settle()

	assert.Equal(t, uploadDestroyed, w.currentState())
	assert.Equal(t, 0, env.checker.checks)
}
