package spool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	mberrors "github.com/alexjbarnes/mailbox-sync/internal/errors"
	"github.com/alexjbarnes/mailbox-sync/internal/models"
	"github.com/fsnotify/fsnotify"
)

// Outbox queues outgoing messages for a contact.
type Outbox interface {
	AddOutgoing(c models.ContactID, body []byte) (models.MessageID, error)
}

// Watcher imports files dropped into <root>/<contact-id>/ as outgoing
// messages for that contact and removes them once queued.
//
// Writers must create the file under a name starting with "." and rename
// it into place when complete; hidden files are never imported.
type Watcher struct {
	logger *slog.Logger
	outbox Outbox
	root   string
}

// NewWatcher creates a watcher for root.
func NewWatcher(logger *slog.Logger, outbox Outbox, root string) *Watcher {
	return &Watcher{
		logger: logger.With(slog.String("component", "spool")),
		outbox: outbox,
		root:   filepath.Clean(root),
	}
}

// Watch imports everything already in the spool, then keeps importing new
// files until ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	if err := os.MkdirAll(w.root, dirPerm); err != nil {
		return fmt.Errorf("creating spool directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.root); err != nil {
		return fmt.Errorf("watching spool: %w", err)
	}

	entries, err := os.ReadDir(w.root)
	if err != nil {
		return fmt.Errorf("listing spool: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() {
			w.addContactDir(watcher, filepath.Join(w.root, e.Name()))
		}
	}

	w.logger.Info("watching spool", slog.String("root", w.root))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed")
			}

			w.handleEvent(watcher, event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed")
			}

			w.logger.Warn("spool watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) || hidden(event.Name) {
		return
	}

	info, err := os.Lstat(event.Name)
	if err != nil {
		return
	}

	parent := filepath.Dir(event.Name)

	switch {
	case info.IsDir() && parent == w.root:
		w.addContactDir(watcher, event.Name)
	case info.Mode().IsRegular() && filepath.Dir(parent) == w.root:
		w.importFile(event.Name)
	}
}

// addContactDir starts watching a contact directory and imports the files
// already in it, which covers files created before the watch was added.
func (w *Watcher) addContactDir(watcher *fsnotify.Watcher, dir string) {
	if _, ok := w.contactFor(dir); !ok {
		w.logger.Warn("ignoring spool directory", slog.String("dir", dir))
		return
	}

	if err := watcher.Add(dir); err != nil {
		w.logger.Warn("watching spool directory", slog.String("dir", dir), slog.String("error", err.Error()))
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		w.logger.Warn("listing spool directory", slog.String("dir", dir), slog.String("error", err.Error()))
		return
	}

	for _, e := range entries {
		if e.Type().IsRegular() && !hidden(e.Name()) {
			w.importFile(filepath.Join(dir, e.Name()))
		}
	}
}

func (w *Watcher) contactFor(dir string) (models.ContactID, bool) {
	c, err := models.ParseContactID(filepath.Base(dir))
	return c, err == nil
}

func (w *Watcher) importFile(path string) {
	c, ok := w.contactFor(filepath.Dir(path))
	if !ok {
		return
	}

	logger := w.logger.With(slog.Int("contact_id", int(c)), slog.String("file", filepath.Base(path)))

	body, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}

	if err != nil {
		logger.Warn("reading spool file", slog.String("error", err.Error()))
		return
	}

	id, err := w.outbox.AddOutgoing(c, body)
	if errors.Is(err, mberrors.ErrNoSuchContact) {
		logger.Warn("spool file for unknown contact left in place")
		return
	}

	if err != nil {
		logger.Warn("queueing spool file", slog.String("error", err.Error()))
		return
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("removing spool file", slog.String("error", err.Error()))
	}

	logger.Info("queued outgoing message", slog.String("message_id", string(id)), slog.Int("size", len(body)))
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
