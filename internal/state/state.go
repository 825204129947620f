package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alexjbarnes/mailbox-sync/internal/events"
	"github.com/alexjbarnes/mailbox-sync/internal/executor"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.mailbox-sync/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	metaBucket          = []byte("meta")
	contactsBucket      = []byte("contacts")
	localUpdatesBucket  = []byte("local_updates")
	remoteUpdatesBucket = []byte("remote_updates")
	outgoingBucket      = []byte("outgoing")
	acksBucket          = []byte("acks")

	nextContactKey = []byte("next_contact_id")
	ownPropsKey    = []byte("own_properties")
	ownStatusKey   = []byte("own_status")
)

// State wraps a bbolt database holding contacts, mailbox updates, our own
// mailbox settings and the outgoing message queue.
//
// All access goes through Transaction. Commit actions and events attached
// to a transaction are handed to the event loop in attach order after the
// transaction commits, and before any later transaction can commit, so the
// event loop observes commits in the order they happened.
type State struct {
	db   *bolt.DB
	loop executor.Executor
	bus  *events.Bus

	mu    sync.Mutex
	clock executor.Clock
}

// LoadAt opens a state database at the given path, creating it if it does
// not exist. Commit actions run on loop; events are dispatched through bus.
func LoadAt(path string, loop executor.Executor, bus *events.Bus) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{metaBucket, contactsBucket, localUpdatesBucket, remoteUpdatesBucket, outgoingBucket, acksBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db, loop: loop, bus: bus, clock: executor.SystemClock{}}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// SetClock replaces the clock used for send times and connection status.
func (s *State) SetClock(c executor.Clock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clock = c
}

// Txn is an open transaction. It must not be used after the function
// passed to Transaction returns.
type Txn struct {
	tx       *bolt.Tx
	state    *State
	now      time.Time
	readOnly bool
	actions  []func()
}

// Attach registers fn to run on the event loop once the transaction has
// committed. Nothing runs if the transaction fails.
func (t *Txn) Attach(fn func()) {
	t.actions = append(t.actions, fn)
}

// AttachEvent queues e for dispatch on the event loop after commit.
func (t *Txn) AttachEvent(e events.Event) {
	bus := t.state.bus
	t.actions = append(t.actions, func() { bus.Dispatch(e) })
}

// Now returns the time the transaction started.
func (t *Txn) Now() time.Time {
	return t.now
}

// Transaction runs fn inside a bbolt transaction. Read-only transactions
// reject writes.
func (s *State) Transaction(readOnly bool, fn func(*Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn := &Txn{state: s, now: s.clock.Now(), readOnly: readOnly}

	run := func(tx *bolt.Tx) error {
		txn.tx = tx
		return fn(txn)
	}

	var err error
	if readOnly {
		err = s.db.View(run)
	} else {
		err = s.db.Update(run)
	}

	if err != nil {
		return err
	}

	for _, action := range txn.actions {
		s.loop.Execute(action)
	}

	return nil
}

func getJSON(b *bolt.Bucket, key []byte, v any) (bool, error) {
	data := b.Get(key)
	if data == nil {
		return false, nil
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, err)
	}

	return true, nil
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}

	return b.Put(key, data)
}

func (t *Txn) bucket(name []byte) *bolt.Bucket {
	return t.tx.Bucket(name)
}

func nowMillis(t time.Time) int64 {
	return t.UnixMilli()
}
