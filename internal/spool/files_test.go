package spool

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alexjbarnes/mailbox-sync/internal/events"
	"github.com/alexjbarnes/mailbox-sync/internal/models"
	"github.com/alexjbarnes/mailbox-sync/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type queue struct {
	mu    sync.Mutex
	tasks []func()
}

func (q *queue) Execute(task func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.tasks = append(q.tasks, task)
}

func (q *queue) runAll() {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		task()
	}
}

// party is one side of an exchange: a store, a file manager and an inbox.
type party struct {
	s     *state.State
	loop  *queue
	io    *queue
	bus   *events.Bus
	files *FileManager
	dir   string
	inbox string
}

func newParty(t *testing.T) *party {
	t.Helper()
	return newPartyAt(t, t.TempDir())
}

func newPartyAt(t *testing.T, dir string) *party {
	t.Helper()

	loop := &queue{}
	bus := events.NewBus(loop)

	s, err := state.LoadAt(filepath.Join(dir, "state.db"), loop, bus)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	p := &party{s: s, loop: loop, io: &queue{}, bus: bus, dir: dir, inbox: filepath.Join(dir, "inbox")}

	p.files, err = NewFileManager(testLogger(), p.io, s, bus, dir, p.inbox)
	require.NoError(t, err)

	return p
}

// activate delivers the first EndpointActive and runs orphan recovery.
func (p *party) activate() {
	p.bus.Dispatch(events.EndpointActive{})
	p.io.runAll()
	p.loop.runAll()
}

func (p *party) addContact(t *testing.T) models.ContactID {
	t.Helper()

	c, err := p.s.AddContact("peer")
	require.NoError(t, err)
	p.loop.runAll()

	return c
}

// route makes files downloaded from folder belong to c.
func (p *party) route(t *testing.T, c models.ContactID, folder models.FolderID) {
	t.Helper()

	_, err := p.s.ReceiveRemoteUpdate(c, 0, models.MailboxUpdate{
		ClientSupports: models.ClientSupports,
		Properties:     &models.MailboxProperties{OnionAddress: "peer.onion", InboxID: folder},
	})
	require.NoError(t, err)
	p.loop.runAll()
}

func (p *party) view(t *testing.T, fn func(tx *state.Txn)) {
	t.Helper()

	require.NoError(t, p.s.Transaction(true, func(tx *state.Txn) error {
		fn(tx)
		return nil
	}))
}

func (p *party) markDelivered(t *testing.T, c models.ContactID, r models.SessionRecord) {
	t.Helper()

	require.NoError(t, p.s.Transaction(false, func(tx *state.Txn) error {
		if err := tx.SetAckSent(c, r.AckedIDs); err != nil {
			return err
		}

		return tx.SetMessagesSent(c, r.SentIDs, time.Hour)
	}))
	p.loop.runAll()
}

func folderID() models.FolderID {
	return models.FolderID(models.NewRandomID())
}

// copyToDownload places an uploaded file where the peer would download it.
func copyToDownload(t *testing.T, p *party, folder models.FolderID, src string) string {
	t.Helper()

	dst, err := p.files.CreateTempFileForDownload(context.Background(), folder)
	require.NoError(t, err)

	data, err := os.ReadFile(src)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dst, data, 0o600))

	return dst
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	return names
}

// --- Startup recovery ---

func TestFileManager_WaitsForRecovery(t *testing.T) {
	p := newParty(t)
	folder := folderID()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.files.CreateTempFileForDownload(ctx, folder)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	p.bus.Dispatch(events.EndpointInactive{})
	p.io.runAll()

	_, err = p.files.CreateTempFileForDownload(ctx, folder)
	require.Error(t, err, "only EndpointActive starts recovery")

	p.activate()

	path, err := p.files.CreateTempFileForDownload(context.Background(), folder)
	require.NoError(t, err)

	got, ok := folderFromName(filepath.Base(path))
	assert.True(t, ok)
	assert.Equal(t, folder, got)
	assert.Equal(t, filepath.Join(p.dir, downloadDirName), filepath.Dir(path))
}

func TestFileManager_RecoveryRunsOnce(t *testing.T) {
	p := newParty(t)

	p.bus.Dispatch(events.EndpointActive{})
	p.files.EventOccurred(events.EndpointActive{})

	assert.Len(t, p.io.tasks, 1)
	p.io.runAll()
}

func TestFileManager_RejectsInvalidFolder(t *testing.T) {
	p := newParty(t)
	p.activate()

	_, err := p.files.CreateTempFileForDownload(context.Background(), "../escape")
	assert.Error(t, err)
}

func TestFileManager_CloseUnblocksCreation(t *testing.T) {
	p := newParty(t)

	errc := make(chan error, 1)
	go func() {
		_, err := p.files.CreateTempFileForDownload(context.Background(), folderID())
		errc <- err
	}()

	p.files.Close()
	p.files.Close()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("creation still blocked after Close")
	}

	p.activate()

	_, _, err := p.files.CreateAndWriteTempFileForUpload(context.Background(), 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFileManager_RecoversOrphans(t *testing.T) {
	alice := newParty(t)
	alice.activate()
	bob := alice.addContact(t)

	_, err := alice.s.AddOutgoing(bob, []byte("left behind"))
	require.NoError(t, err)
	alice.loop.runAll()

	upload, _, err := alice.files.CreateAndWriteTempFileForUpload(context.Background(), bob)
	require.NoError(t, err)

	// The receiving side was stopped after downloading but before reading.
	dir := t.TempDir()
	folder := folderID()
	downloads := filepath.Join(dir, downloadDirName)
	uploads := filepath.Join(dir, uploadDirName)
	require.NoError(t, os.MkdirAll(downloads, 0o700))
	require.NoError(t, os.MkdirAll(uploads, 0o700))

	data, err := os.ReadFile(upload)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(downloads, tempPrefix+string(folder)+"-1"+tempSuffix), data, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(downloads, "junk"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(uploads, tempPrefix+"2"+tempSuffix), []byte("stale"), 0o600))

	receiver := newPartyAt(t, dir)
	alice1 := receiver.addContact(t)
	receiver.route(t, alice1, folder)

	receiver.activate()

	assert.Empty(t, listDir(t, downloads))
	assert.Empty(t, listDir(t, uploads))

	inbox := listDir(t, filepath.Join(receiver.inbox, alice1.String()))
	require.Len(t, inbox, 1)

	body, err := os.ReadFile(filepath.Join(receiver.inbox, alice1.String(), inbox[0]))
	require.NoError(t, err)
	assert.Equal(t, "left behind", string(body))
}

// --- Exchange ---

func TestFileManager_Exchange(t *testing.T) {
	alice := newParty(t)
	bob := newParty(t)
	alice.activate()
	bob.activate()

	bobAtAlice := alice.addContact(t)
	aliceAtBob := bob.addContact(t)

	aliceToBob := folderID()
	bobToAlice := folderID()
	bob.route(t, aliceAtBob, aliceToBob)
	alice.route(t, bobAtAlice, bobToAlice)

	msg, err := alice.s.AddOutgoing(bobAtAlice, []byte("hello bob"))
	require.NoError(t, err)
	alice.loop.runAll()

	// Alice writes her update and her message.
	path, record, err := alice.files.CreateAndWriteTempFileForUpload(context.Background(), bobAtAlice)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(alice.dir, uploadDirName), filepath.Dir(path))
	assert.Empty(t, record.AckedIDs)
	require.Len(t, record.SentIDs, 2)
	assert.Contains(t, record.SentIDs, msg)

	alice.markDelivered(t, bobAtAlice, record)
	download := copyToDownload(t, bob, aliceToBob, path)
	require.NoError(t, os.Remove(path))

	// Bob reads it: the message lands in his inbox, the update is
	// applied and both are queued for acking.
	bob.files.HandleDownloadedFile(aliceToBob, download)
	bob.loop.runAll()

	assert.NoFileExists(t, download)

	body, err := os.ReadFile(filepath.Join(bob.inbox, aliceAtBob.String(), string(msg)))
	require.NoError(t, err)
	assert.Equal(t, "hello bob", string(body))

	bob.view(t, func(tx *state.Txn) {
		assert.ElementsMatch(t, record.SentIDs, tx.AcksToSend(aliceAtBob, 10))

		remote, err := tx.RemoteUpdate(aliceAtBob)
		require.NoError(t, err)
		require.NotNil(t, remote)
		assert.False(t, remote.HasMailbox(), "alice's own update replaced the routing one")
	})

	// Bob acks, which clears Alice's queue.
	path, record, err = bob.files.CreateAndWriteTempFileForUpload(context.Background(), aliceAtBob)
	require.NoError(t, err)
	assert.Len(t, record.AckedIDs, 2)

	download = copyToDownload(t, alice, bobToAlice, path)
	alice.files.HandleDownloadedFile(bobToAlice, download)
	alice.loop.runAll()

	alice.view(t, func(tx *state.Txn) {
		next, err := tx.NextSendTime(bobAtAlice)
		require.NoError(t, err)
		assert.Equal(t, state.NeverSend, next)
	})
}

func TestFileManager_UploadSkipsMessagesNotDue(t *testing.T) {
	alice := newParty(t)
	alice.activate()
	bob := alice.addContact(t)

	_, first, err := alice.files.CreateAndWriteTempFileForUpload(context.Background(), bob)
	require.NoError(t, err)
	require.Len(t, first.SentIDs, 1)

	alice.markDelivered(t, bob, first)

	path, again, err := alice.files.CreateAndWriteTempFileForUpload(context.Background(), bob)
	require.NoError(t, err)
	assert.Empty(t, again.SentIDs)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	b, err := DecodeBatch(f)
	require.NoError(t, err)
	assert.True(t, b.Empty())
}

// --- Malformed and unknown downloads ---

func TestFileManager_DiscardsMalformedDownload(t *testing.T) {
	p := newParty(t)
	p.activate()

	path, err := p.files.CreateTempFileForDownload(context.Background(), folderID())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))

	p.files.HandleDownloadedFile(folderID(), path)

	assert.NoFileExists(t, path)
}

func TestFileManager_KeepsMalformedDownloadWhenClosing(t *testing.T) {
	p := newParty(t)
	p.activate()

	folder := folderID()
	path, err := p.files.CreateTempFileForDownload(context.Background(), folder)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("truncated"), 0o600))

	p.files.Close()
	p.files.HandleDownloadedFile(folder, path)

	assert.FileExists(t, path)
}

func TestFileManager_UnknownFolder(t *testing.T) {
	alice := newParty(t)
	alice.activate()
	bob := alice.addContact(t)

	path, _, err := alice.files.CreateAndWriteTempFileForUpload(context.Background(), bob)
	require.NoError(t, err)

	receiver := newParty(t)
	receiver.activate()
	c := receiver.addContact(t)

	folder := folderID()
	download := copyToDownload(t, receiver, folder, path)
	receiver.files.HandleDownloadedFile(folder, download)
	receiver.loop.runAll()

	assert.NoFileExists(t, download)
	receiver.view(t, func(tx *state.Txn) {
		assert.Empty(t, tx.AcksToSend(c, 10))
	})
}

func TestFolderFromName(t *testing.T) {
	folder := models.NewRandomID()

	tests := []struct {
		name string
		ok   bool
	}{
		{tempPrefix + folder + "-123" + tempSuffix, true},
		{tempPrefix + folder + tempSuffix, false},
		{tempPrefix + folder[:10] + "-1" + tempSuffix, false},
		{folder + "-1" + tempSuffix, false},
		{tempPrefix + strings.ToUpper(folder) + "-1" + tempSuffix, false},
		{"junk", false},
	}

	for _, tt := range tests {
		got, ok := folderFromName(tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)

		if tt.ok {
			assert.Equal(t, models.FolderID(folder), got)
		}
	}
}
