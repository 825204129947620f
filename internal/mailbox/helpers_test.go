package mailbox

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/alexjbarnes/mailbox-sync/internal/events"
	"github.com/alexjbarnes/mailbox-sync/internal/executor"
	"github.com/alexjbarnes/mailbox-sync/internal/models"
	"github.com/alexjbarnes/mailbox-sync/internal/state"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Executors ---

// queue is a manually drained executor. Tasks may queue further tasks.
type queue struct {
	mu    sync.Mutex
	tasks []func()
}

func (q *queue) Execute(task func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.tasks = append(q.tasks, task)
}

func (q *queue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.tasks)
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

type scheduled struct {
	task      func()
	exec      executor.Executor
	delay     time.Duration
	cancelled bool
	fired     bool
}

// fakeScheduler records scheduled tasks. Nothing runs until fire.
type fakeScheduler struct {
	mu    sync.Mutex
	tasks []*scheduled
}

func (s *fakeScheduler) Schedule(task func(), exec executor.Executor, delay time.Duration) executor.Cancellable {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &scheduled{task: task, exec: exec, delay: delay}
	s.tasks = append(s.tasks, st)

	return executor.CancelFunc(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		st.cancelled = true
	})
}

// live returns the tasks that are neither cancelled nor fired.
func (s *fakeScheduler) live() []*scheduled {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*scheduled
	for _, st := range s.tasks {
		if !st.cancelled && !st.fired {
			out = append(out, st)
		}
	}

	return out
}

// fireAll submits every live task to its executor.
func (s *fakeScheduler) fireAll() {
	for _, st := range s.live() {
		s.mu.Lock()
		st.fired = true
		s.mu.Unlock()

		st.exec.Execute(st.task)
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// --- APICaller ---

type pendingCall struct {
	call      APICall
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled bool
}

// stubCaller queues calls instead of running them so tests control when
// each attempt happens.
type stubCaller struct {
	mu    sync.Mutex
	calls []*pendingCall
}

func (s *stubCaller) RetryWithBackoff(call APICall) executor.Cancellable {
	ctx, cancel := context.WithCancel(context.Background())
	pc := &pendingCall{call: call, ctx: ctx, cancel: cancel}

	s.mu.Lock()
	s.calls = append(s.calls, pc)
	s.mu.Unlock()

	return executor.CancelFunc(func() {
		s.mu.Lock()
		pc.cancelled = true
		s.mu.Unlock()
		cancel()
	})
}

func (s *stubCaller) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, pc := range s.calls {
		if !pc.cancelled {
			n++
		}
	}

	return n
}

// step runs the oldest live call once. A call asking to be retried stays
// queued. It reports whether anything ran.
func (s *stubCaller) step() bool {
	s.mu.Lock()
	var pc *pendingCall
	for len(s.calls) > 0 {
		head := s.calls[0]
		if !head.cancelled {
			pc = head
			break
		}
		s.calls = s.calls[1:]
	}
	s.mu.Unlock()

	if pc == nil {
		return false
	}

	retry := pc.call.Call(pc.ctx)

	if !retry {
		s.mu.Lock()
		s.calls = slices.DeleteFunc(s.calls, func(x *pendingCall) bool { return x == pc })
		s.mu.Unlock()
	}

	return true
}

// drain steps until no live call remains. Fails the test if calls keep
// asking to be retried.
func (s *stubCaller) drain(t *testing.T) {
	t.Helper()

	for i := 0; s.step(); i++ {
		require.Less(t, i, 1000, "calls did not settle")
	}
}

// --- Collaborators ---

type countingObserver struct {
	mu    sync.Mutex
	count int
}

func (o *countingObserver) OnConnectivityCheckSucceeded() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.count++
}

func (o *countingObserver) OnReachable() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.count++
}

func (o *countingObserver) calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.count
}

// stubChecker holds observers until succeed is called.
type stubChecker struct {
	mu        sync.Mutex
	checks    int
	observers []ConnectivityObserver
	destroyed bool
}

func (c *stubChecker) CheckConnectivity(_ models.MailboxProperties, o ConnectivityObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.checks++
	c.observers = append(c.observers, o)
}

func (c *stubChecker) RemoveObserver(o ConnectivityObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.observers = slices.DeleteFunc(c.observers, func(x ConnectivityObserver) bool { return x == o })
}

func (c *stubChecker) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.destroyed = true
}

func (c *stubChecker) waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.observers)
}

func (c *stubChecker) succeed() {
	c.mu.Lock()
	observers := c.observers
	c.observers = nil
	c.mu.Unlock()

	for _, o := range observers {
		o.OnConnectivityCheckSucceeded()
	}
}

// stubMonitor holds one-shot observers until reach is called.
type stubMonitor struct {
	mu        sync.Mutex
	observers []ReachabilityObserver
	started   bool
	destroyed bool
}

func (m *stubMonitor) AddOneShotObserver(o ReachabilityObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.observers = append(m.observers, o)
}

func (m *stubMonitor) RemoveObserver(o ReachabilityObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.observers = slices.DeleteFunc(m.observers, func(x ReachabilityObserver) bool { return x == o })
}

func (m *stubMonitor) Start()   { m.started = true }
func (m *stubMonitor) Destroy() { m.destroyed = true }

func (m *stubMonitor) waiting() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.observers)
}

func (m *stubMonitor) reach() {
	m.mu.Lock()
	observers := m.observers
	m.observers = nil
	m.mu.Unlock()

	for _, o := range observers {
		o.OnReachable()
	}
}

// stubBus delivers events synchronously.
type stubBus struct {
	mu        sync.Mutex
	listeners []events.Listener
}

func (b *stubBus) AddListener(l events.Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !slices.Contains(b.listeners, l) {
		b.listeners = append(b.listeners, l)
	}
}

func (b *stubBus) RemoveListener(l events.Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.listeners = slices.DeleteFunc(b.listeners, func(x events.Listener) bool { return x == l })
}

func (b *stubBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.listeners)
}

func (b *stubBus) dispatch(e events.Event) {
	b.mu.Lock()
	listeners := slices.Clone(b.listeners)
	b.mu.Unlock()

	for _, l := range listeners {
		l.EventOccurred(e)
	}
}

type stubConnections struct {
	mu        sync.Mutex
	connected map[models.ContactID]bool
}

func (s *stubConnections) IsConnected(c models.ContactID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.connected[c]
}

func (s *stubConnections) set(c models.ContactID, connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected == nil {
		s.connected = make(map[models.ContactID]bool)
	}
	s.connected[c] = connected
}

type endpointFlag struct {
	mu     sync.Mutex
	active bool
}

func (e *endpointFlag) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.active
}

func (e *endpointFlag) set(active bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.active = active
}

// stubFiles creates real files in a temp dir.
type stubFiles struct {
	t   *testing.T
	dir string

	mu         sync.Mutex
	created    int
	handled    []models.FolderFile
	handledRaw []string
	record     models.SessionRecord
	writeErr   error
	uploads    []string
}

func newStubFiles(t *testing.T) *stubFiles {
	return &stubFiles{t: t, dir: t.TempDir()}
}

func (f *stubFiles) newFile(prefix string) string {
	f.created++
	path := filepath.Join(f.dir, prefix+"-"+models.NewRandomID()[:8])
	require.NoError(f.t, os.WriteFile(path, nil, 0o600))

	return path
}

func (f *stubFiles) CreateTempFileForDownload(_ context.Context, _ models.FolderID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.newFile("download"), nil
}

func (f *stubFiles) HandleDownloadedFile(folder models.FolderID, path string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.handled = append(f.handled, models.FolderFile{Folder: folder, File: models.FileID(filepath.Base(path))})
	f.handledRaw = append(f.handledRaw, path)
}

func (f *stubFiles) CreateAndWriteTempFileForUpload(_ context.Context, _ models.ContactID) (string, models.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writeErr != nil {
		return "", models.SessionRecord{}, f.writeErr
	}

	path := f.newFile("upload")
	f.uploads = append(f.uploads, path)

	return path, f.record, nil
}

func (f *stubFiles) handledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.handled)
}

// --- Properties ---

func v1() []models.Version { return []models.Version{{Major: 1, Minor: 0}} }

func v2() []models.Version { return []models.Version{{Major: 2, Minor: 0}} }

func ownProps() models.MailboxProperties {
	return models.MailboxProperties{
		Owner:          true,
		OnionAddress:   "ownmailbox.onion",
		AuthToken:      models.NewRandomID(),
		ServerSupports: v1(),
	}
}

func contactProps() models.MailboxProperties {
	return models.MailboxProperties{
		OnionAddress:   "contactmailbox.onion",
		AuthToken:      models.NewRandomID(),
		ServerSupports: v1(),
		InboxID:        models.FolderID(models.NewRandomID()),
		OutboxID:       models.FolderID(models.NewRandomID()),
	}
}

// --- Store ---

type storeEnv struct {
	s     *state.State
	loop  *queue
	bus   *events.Bus
	clock *fakeClock
}

func testStore(t *testing.T) *storeEnv {
	t.Helper()

	loop := &queue{}
	bus := events.NewBus(loop)

	s, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"), loop, bus)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := newFakeClock()
	s.SetClock(clock)

	return &storeEnv{s: s, loop: loop, bus: bus, clock: clock}
}
