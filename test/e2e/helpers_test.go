package e2e_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alexjbarnes/mailbox-sync/internal/auth"
	"github.com/alexjbarnes/mailbox-sync/internal/config"
	"github.com/alexjbarnes/mailbox-sync/internal/daemon"
	"github.com/alexjbarnes/mailbox-sync/internal/events"
	"github.com/alexjbarnes/mailbox-sync/internal/models"
	"github.com/alexjbarnes/mailbox-sync/internal/spool"
	"github.com/alexjbarnes/mailbox-sync/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// relayOnion is the address parties pair with. Every dial lands on the
// fake relay regardless of address, the way Tor routes every onion
// through one proxy.
var relayOnion = strings.Repeat("b", 56) + ".onion"

// fakeRelay is an in-memory mailbox server speaking the relay HTTP API.
type fakeRelay struct {
	srv        *httptest.Server
	setupToken string

	mu         sync.Mutex
	ownerToken string
	contacts   map[models.ContactID]models.MailboxContact
	files      map[models.FolderID]map[models.FileID][]byte
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()

	r := &fakeRelay{
		setupToken: models.NewRandomID(),
		contacts:   make(map[models.ContactID]models.MailboxContact),
		files:      make(map[models.FolderID]map[models.FileID][]byte),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /setup", r.setup)
	mux.HandleFunc("GET /status", r.owner(r.status))
	mux.HandleFunc("POST /contacts", r.owner(r.addContact))
	mux.HandleFunc("GET /contacts", r.owner(r.listContacts))
	mux.HandleFunc("DELETE /contacts/{id}", r.owner(r.deleteContact))
	mux.HandleFunc("GET /folders", r.owner(r.listFolders))
	mux.HandleFunc("POST /files/{folder}", r.folder(r.addFile))
	mux.HandleFunc("GET /files/{folder}", r.folder(r.listFiles))
	mux.HandleFunc("GET /files/{folder}/{file}", r.folder(r.getFile))
	mux.HandleFunc("DELETE /files/{folder}/{file}", r.folder(r.deleteFile))

	r.srv = httptest.NewServer(mux)
	t.Cleanup(r.srv.Close)

	return r
}

// dial connects to the relay whatever address is asked for.
func (r *fakeRelay) dial(ctx context.Context, network, _ string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, r.srv.Listener.Addr().String())
}

func bearer(req *http.Request) string {
	return strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
}

var serverSupports = []models.Version{{Major: 1, Minor: 0}}

func (r *fakeRelay) setup(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ownerToken != "" || bearer(req) != r.setupToken {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	r.ownerToken = models.NewRandomID()
	writeJSON(w, map[string]any{"token": r.ownerToken, "serverSupports": serverSupports})
}

// owner guards endpoints only the mailbox owner may call. The handler
// runs with the lock held.
func (r *fakeRelay) owner(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		defer r.mu.Unlock()

		if r.ownerToken == "" || bearer(req) != r.ownerToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		h(w, req)
	}
}

// folder guards file endpoints: the owner may use every folder, a contact
// only its own inbox and outbox. The handler runs with the lock held.
func (r *fakeRelay) folder(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		defer r.mu.Unlock()

		token := bearer(req)
		folder := models.FolderID(req.PathValue("folder"))

		allowed := r.ownerToken != "" && token == r.ownerToken
		for _, c := range r.contacts {
			if c.Token == token && (c.InboxID == folder || c.OutboxID == folder) {
				allowed = true
			}
		}

		if !allowed {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		h(w, req)
	}
}

func (r *fakeRelay) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"serverSupports": serverSupports})
}

func (r *fakeRelay) addContact(w http.ResponseWriter, req *http.Request) {
	var c models.MailboxContact
	if err := json.NewDecoder(req.Body).Decode(&c); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if _, ok := r.contacts[c.ID]; ok {
		w.WriteHeader(http.StatusConflict)
		return
	}

	r.contacts[c.ID] = c
	w.WriteHeader(http.StatusCreated)
}

func (r *fakeRelay) listContacts(w http.ResponseWriter, _ *http.Request) {
	ids := []models.ContactID{}
	for id := range r.contacts {
		ids = append(ids, id)
	}

	writeJSON(w, map[string]any{"contacts": ids})
}

func (r *fakeRelay) deleteContact(w http.ResponseWriter, req *http.Request) {
	id, err := strconv.Atoi(req.PathValue("id"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if _, ok := r.contacts[models.ContactID(id)]; !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	delete(r.contacts, models.ContactID(id))
}

// listFolders returns contact outboxes holding files.
func (r *fakeRelay) listFolders(w http.ResponseWriter, _ *http.Request) {
	folders := []map[string]string{}

	for _, c := range r.contacts {
		if len(r.files[c.OutboxID]) > 0 {
			folders = append(folders, map[string]string{"id": string(c.OutboxID)})
		}
	}

	writeJSON(w, map[string]any{"folders": folders})
}

func (r *fakeRelay) addFile(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	folder := models.FolderID(req.PathValue("folder"))
	if r.files[folder] == nil {
		r.files[folder] = make(map[models.FileID][]byte)
	}

	r.files[folder][models.FileID(models.NewRandomID())] = body
}

func (r *fakeRelay) listFiles(w http.ResponseWriter, req *http.Request) {
	files := []map[string]any{}
	for name := range r.files[models.FolderID(req.PathValue("folder"))] {
		files = append(files, map[string]any{"name": name, "time": time.Now().UnixMilli()})
	}

	writeJSON(w, map[string]any{"files": files})
}

func (r *fakeRelay) getFile(w http.ResponseWriter, req *http.Request) {
	body, ok := r.files[models.FolderID(req.PathValue("folder"))][models.FileID(req.PathValue("file"))]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Write(body)
}

func (r *fakeRelay) deleteFile(w http.ResponseWriter, req *http.Request) {
	folder := models.FolderID(req.PathValue("folder"))
	file := models.FileID(req.PathValue("file"))

	if _, ok := r.files[folder][file]; !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	delete(r.files[folder], file)
}

// fileCount reports how many files wait in folder.
func (r *fakeRelay) fileCount(folder models.FolderID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.files[folder])
}

// batches decodes every file waiting in folder. It is safe to call from
// an Eventually condition.
func (r *fakeRelay) batches(t *testing.T, folder models.FolderID) []spool.Batch {
	t.Helper()

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []spool.Batch

	for _, body := range r.files[folder] {
		b, err := spool.DecodeBatch(bytes.NewReader(body))
		if assert.NoError(t, err) {
			out = append(out, b)
		}
	}

	return out
}

// contact returns what the owner registered for c.
func (r *fakeRelay) contact(c models.ContactID) (models.MailboxContact, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mc, ok := r.contacts[c]

	return mc, ok
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// party is one mailbox-sync installation whose daemon can be started and
// stopped repeatedly over the same state directory.
type party struct {
	t     *testing.T
	relay *fakeRelay
	cfg   *config.Config
	key   string

	url    string
	stopFn func()
}

func newParty(t *testing.T, relay *fakeRelay) *party {
	t.Helper()

	key := auth.APIKeyPrefix + auth.RandomHex(32)
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	require.NoError(t, err)

	dir := t.TempDir()

	cfg := &config.Config{
		Environment:           "test",
		StateDir:              filepath.Join(dir, "state"),
		SpoolDir:              filepath.Join(dir, "outgoing"),
		InboxDir:              filepath.Join(dir, "inbox"),
		TorSocksAddr:          "127.0.0.1:9050",
		TorCheckInterval:      time.Hour,
		RetryMinInterval:      50 * time.Millisecond,
		RetryMaxInterval:      200 * time.Millisecond,
		ReachabilityPeriod:    time.Hour,
		ConnectivityFreshness: 10 * time.Second,
		UploadCheckDelay:      10 * time.Millisecond,
		UploadRetryDelay:      100 * time.Millisecond,
		MaxLatency:            time.Hour,
		IOWorkers:             4,
		ControlAPIKeys:        "e2e:" + string(hash),
	}

	p := &party{t: t, relay: relay, cfg: cfg, key: key}
	t.Cleanup(p.stop)

	return p
}

// start runs a fresh daemon over the party's state.
func (p *party) start() {
	p.t.Helper()

	d, err := daemon.New(p.cfg, slog.New(slog.DiscardHandler), daemon.Options{
		Dial:  p.relay.dial,
		Probe: func(context.Context) error { return nil },
	})
	require.NoError(p.t, err)

	ts := httptest.NewServer(d.Handler())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- d.Run(ctx) }()

	p.url = ts.URL
	p.stopFn = func() {
		cancel()

		select {
		case err := <-done:
			require.NoError(p.t, err)
		case <-time.After(15 * time.Second):
			p.t.Fatal("daemon did not stop")
		}

		ts.Close()
	}
}

func (p *party) stop() {
	if p.stopFn != nil {
		stop := p.stopFn
		p.stopFn = nil
		stop()
	}
}

// call sends an authenticated control API request, decoding a JSON
// response into out when non-nil, and returns the status code.
func (p *party) call(method, path string, body, out any) int {
	p.t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(p.t, err)

		r = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, p.url+path, r)
	require.NoError(p.t, err)
	req.Header.Set("Authorization", "Bearer "+p.key)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(p.t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(p.t, json.NewDecoder(resp.Body).Decode(out))
	}

	return resp.StatusCode
}

// discard drops commit actions of offline transactions.
type discard struct{}

func (discard) Execute(func()) {}

// inspect reads the party's store while its daemon is stopped.
func (p *party) inspect(fn func(tx *state.Txn) error) {
	p.t.Helper()

	s, err := state.LoadAt(p.cfg.DatabasePath(), discard{}, events.NewBus(discard{}))
	require.NoError(p.t, err)
	defer s.Close()

	require.NoError(p.t, s.Transaction(true, fn))
}

// send drops a message into the outgoing spool for c.
func (p *party) send(c models.ContactID, name, body string) {
	p.t.Helper()

	dir := filepath.Join(p.cfg.SpoolDir, c.String())
	require.NoError(p.t, os.MkdirAll(dir, 0o700))

	hidden := filepath.Join(dir, "."+name)
	require.NoError(p.t, os.WriteFile(hidden, []byte(body), 0o600))
	require.NoError(p.t, os.Rename(hidden, filepath.Join(dir, name)))
}

// delivered returns the bodies written to the inbox for c.
func (p *party) delivered(c models.ContactID) []string {
	entries, err := os.ReadDir(filepath.Join(p.cfg.InboxDir, c.String()))
	if err != nil {
		return nil
	}

	var bodies []string

	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}

		b, err := os.ReadFile(filepath.Join(p.cfg.InboxDir, c.String(), e.Name()))
		if err == nil {
			bodies = append(bodies, string(b))
		}
	}

	return bodies
}
