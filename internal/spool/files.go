package spool

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	mberrors "github.com/alexjbarnes/mailbox-sync/internal/errors"
	"github.com/alexjbarnes/mailbox-sync/internal/events"
	"github.com/alexjbarnes/mailbox-sync/internal/executor"
	"github.com/alexjbarnes/mailbox-sync/internal/models"
	"github.com/alexjbarnes/mailbox-sync/internal/state"
)

const (
	downloadDirName = "downloads"
	uploadDirName   = "uploads"

	dirPerm = fs.FileMode(0o700)

	tempPrefix = "mailbox-"
	tempSuffix = ".tmp"
)

// ErrClosed is returned by file creation after Close.
var ErrClosed = errors.New("file manager closed")

// Database is the transactional store.
type Database interface {
	Transaction(readOnly bool, fn func(*state.Txn) error) error
}

// EventBus is the subset of the bus the manager subscribes through.
type EventBus interface {
	AddListener(l events.Listener)
	RemoveListener(l events.Listener)
}

// FileManager owns the download and upload directories under the state
// directory. Files left behind by the previous run are recovered on the
// first EndpointActive event: orphaned uploads are deleted and orphaned
// downloads are handled again. No new file is created before that.
type FileManager struct {
	logger   *slog.Logger
	io       executor.Executor
	db       Database
	bus      EventBus
	downDir  string
	upDir    string
	inboxDir string

	recoverOnce sync.Once
	recovered   chan struct{}

	closeOnce sync.Once
	closing   atomic.Bool
	done      chan struct{}
}

// NewFileManager creates the directories under dir and subscribes to bus.
// Received messages are written under inboxDir/<contact>/<message>; an
// empty inboxDir keeps only the acks.
func NewFileManager(logger *slog.Logger, io executor.Executor, db Database, bus EventBus, dir, inboxDir string) (*FileManager, error) {
	m := &FileManager{
		logger:    logger.With(slog.String("component", "files")),
		io:        io,
		db:        db,
		bus:       bus,
		downDir:   filepath.Join(dir, downloadDirName),
		upDir:     filepath.Join(dir, uploadDirName),
		inboxDir:  inboxDir,
		recovered: make(chan struct{}),
		done:      make(chan struct{}),
	}

	for _, d := range []string{m.downDir, m.upDir} {
		if err := os.MkdirAll(d, dirPerm); err != nil {
			return nil, fmt.Errorf("creating %s: %w", d, err)
		}
	}

	bus.AddListener(m)

	return m, nil
}

// EventOccurred starts orphan recovery on the first EndpointActive.
func (m *FileManager) EventOccurred(e events.Event) {
	if _, ok := e.(events.EndpointActive); !ok {
		return
	}

	m.recoverOnce.Do(func() {
		m.bus.RemoveListener(m)
		m.io.Execute(m.handleOrphanedFiles)
	})
}

// Close makes pending and future file creation fail. Downloads that fail
// to decode from now on stay on disk for the next run.
func (m *FileManager) Close() {
	m.closeOnce.Do(func() {
		m.closing.Store(true)
		m.bus.RemoveListener(m)
		close(m.done)
	})
}

func (m *FileManager) handleOrphanedFiles() {
	uploads, err := os.ReadDir(m.upDir)
	if err != nil {
		m.logger.Warn("listing orphaned uploads", slog.String("error", err.Error()))
	}

	for _, e := range uploads {
		m.remove(filepath.Join(m.upDir, e.Name()))
	}

	downloads, err := os.ReadDir(m.downDir)
	if err != nil {
		m.logger.Warn("listing orphaned downloads", slog.String("error", err.Error()))
	}

	// New downloads may be created once the orphans have been listed.
	close(m.recovered)

	if len(uploads)+len(downloads) > 0 {
		m.logger.Info("recovering orphaned files", slog.Int("uploads", len(uploads)), slog.Int("downloads", len(downloads)))
	}

	for _, e := range downloads {
		path := filepath.Join(m.downDir, e.Name())

		folder, ok := folderFromName(e.Name())
		if !ok {
			m.logger.Warn("deleting unrecognised download", slog.String("file", e.Name()))
			m.remove(path)

			continue
		}

		m.HandleDownloadedFile(folder, path)
	}
}

func (m *FileManager) await(ctx context.Context) error {
	select {
	case <-m.recovered:
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	if m.closing.Load() {
		return ErrClosed
	}

	return nil
}

// folderFromName recovers the folder a download came from. Downloads are
// named after their folder so that an orphan can still be attributed to a
// contact after a restart.
func folderFromName(name string) (models.FolderID, bool) {
	if !strings.HasPrefix(name, tempPrefix) || !strings.HasSuffix(name, tempSuffix) {
		return "", false
	}

	folder, _, ok := strings.Cut(strings.TrimPrefix(name, tempPrefix), "-")
	if !ok || !models.IsValidID(folder) {
		return "", false
	}

	return models.FolderID(folder), true
}

// CreateTempFileForDownload returns a new empty file for a download from
// folder, waiting until orphan recovery has listed the old ones.
func (m *FileManager) CreateTempFileForDownload(ctx context.Context, folder models.FolderID) (string, error) {
	if !models.IsValidID(string(folder)) {
		return "", fmt.Errorf("invalid folder id %q: %w", folder, mberrors.ErrInvariant)
	}

	if err := m.await(ctx); err != nil {
		return "", err
	}

	f, err := os.CreateTemp(m.downDir, tempPrefix+string(folder)+"-*"+tempSuffix)
	if err != nil {
		return "", fmt.Errorf("creating download file: %w", err)
	}

	if err := f.Close(); err != nil {
		m.remove(f.Name())
		return "", fmt.Errorf("closing download file: %w", err)
	}

	return f.Name(), nil
}

// CreateAndWriteTempFileForUpload writes the acks and due messages queued
// for c into a new batch file. The caller owns the file and records the
// delivery described by the returned record once the upload succeeds.
func (m *FileManager) CreateAndWriteTempFileForUpload(ctx context.Context, c models.ContactID) (string, models.SessionRecord, error) {
	if err := m.await(ctx); err != nil {
		return "", models.SessionRecord{}, err
	}

	var b Batch

	err := m.db.Transaction(true, func(tx *state.Txn) error {
		b.Acks = tx.AcksToSend(c, maxAcksPerBatch)

		msgs, err := tx.SendableMessages(c, maxMessagesPerBatch)
		if err != nil {
			return err
		}

		for _, msg := range msgs {
			b.Messages = append(b.Messages, Record{
				ID:            msg.ID,
				Kind:          msg.Kind,
				Body:          msg.Body,
				UpdateVersion: msg.UpdateVersion,
			})
		}

		return nil
	})
	if err != nil {
		return "", models.SessionRecord{}, fmt.Errorf("reading batch for contact %d: %w", c, err)
	}

	f, err := os.CreateTemp(m.upDir, tempPrefix+"*"+tempSuffix)
	if err != nil {
		return "", models.SessionRecord{}, fmt.Errorf("creating upload file: %w", err)
	}

	w := bufio.NewWriter(f)
	err = EncodeBatch(w, b)

	if err == nil {
		err = w.Flush()
	}

	if err == nil {
		err = f.Sync()
	}

	if cerr := f.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		m.remove(f.Name())
		return "", models.SessionRecord{}, fmt.Errorf("writing upload file: %w", err)
	}

	record := models.SessionRecord{AckedIDs: b.Acks}
	for _, r := range b.Messages {
		record.SentIDs = append(record.SentIDs, r.ID)
	}

	m.logger.Debug("wrote upload file",
		slog.Int("contact_id", int(c)),
		slog.Int("acks", len(record.AckedIDs)),
		slog.Int("messages", len(record.SentIDs)),
	)

	return f.Name(), record, nil
}

// HandleDownloadedFile reads a downloaded batch into the store and deletes
// the file. A file that cannot be read is kept for the next run when the
// manager is shutting down, and deleted otherwise.
func (m *FileManager) HandleDownloadedFile(folder models.FolderID, path string) {
	logger := m.logger.With(slog.String("folder_id", string(folder)))

	if err := m.handle(folder, path); err != nil {
		if m.closing.Load() {
			logger.Info("leaving downloaded file for next run", slog.String("error", err.Error()))
			return
		}

		logger.Warn("discarding downloaded file", slog.String("error", err.Error()))
	}

	m.remove(path)
}

func (m *FileManager) handle(folder models.FolderID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening downloaded file: %w", err)
	}

	b, err := DecodeBatch(bufio.NewReader(f))
	f.Close()

	if err != nil {
		return err
	}

	var (
		c     models.ContactID
		known bool
	)

	err = m.db.Transaction(true, func(tx *state.Txn) error {
		var err error
		c, known, err = tx.ContactForFolder(folder)

		return err
	})
	if err != nil {
		return fmt.Errorf("finding contact: %w", err)
	}

	if !known {
		m.logger.Info("downloaded file from unknown folder", slog.String("folder_id", string(folder)))
		return nil
	}

	logger := m.logger.With(slog.Int("contact_id", int(c)))

	for _, r := range b.Messages {
		if r.Kind == state.KindData {
			if err := m.deliver(c, r); err != nil {
				return err
			}
		}
	}

	err = m.db.Transaction(false, func(tx *state.Txn) error {
		if len(b.Acks) > 0 {
			if err := tx.MarkAcked(c, b.Acks); err != nil {
				return err
			}
		}

		for _, r := range b.Messages {
			if r.Kind == state.KindUpdate {
				u, err := decodeUpdate(r)
				if err != nil {
					logger.Warn("ignoring malformed mailbox update", slog.String("error", err.Error()))
				} else if _, err := tx.ReceiveRemoteUpdate(c, r.UpdateVersion, u); err != nil {
					return err
				}
			}

			if err := tx.AddAckToSend(c, r.ID); err != nil {
				return err
			}
		}

		return nil
	})
	if errors.Is(err, mberrors.ErrNoSuchContact) {
		logger.Info("contact removed while reading downloaded file")
		return nil
	}

	if err != nil {
		return fmt.Errorf("storing downloaded batch: %w", err)
	}

	logger.Debug("read downloaded file", slog.Int("acks", len(b.Acks)), slog.Int("messages", len(b.Messages)))

	return nil
}

func decodeUpdate(r Record) (models.MailboxUpdate, error) {
	var u models.MailboxUpdate

	if r.UpdateVersion == 0 {
		return u, errors.New("update without version")
	}

	if err := json.Unmarshal(r.Body, &u); err != nil {
		return u, fmt.Errorf("decoding update: %w", err)
	}

	return u, nil
}

// deliver writes a received message to the inbox. Redelivery of the same
// message overwrites the earlier copy.
func (m *FileManager) deliver(c models.ContactID, r Record) error {
	if m.inboxDir == "" {
		return nil
	}

	dir := filepath.Join(m.inboxDir, c.String())
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("creating inbox: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".incoming-*")
	if err != nil {
		return fmt.Errorf("creating inbox file: %w", err)
	}

	_, err = tmp.Write(r.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}

	if err == nil {
		err = os.Rename(tmp.Name(), filepath.Join(dir, string(r.ID)))
	}

	if err != nil {
		m.remove(tmp.Name())
		return fmt.Errorf("writing inbox file: %w", err)
	}

	return nil
}

func (m *FileManager) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("removing file", slog.String("path", path), slog.String("error", err.Error()))
	}
}
