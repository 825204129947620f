package mailbox

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	mberrors "github.com/alexjbarnes/mailbox-sync/internal/errors"
	"github.com/alexjbarnes/mailbox-sync/internal/events"
	"github.com/alexjbarnes/mailbox-sync/internal/executor"
	"github.com/alexjbarnes/mailbox-sync/internal/metrics"
	"github.com/alexjbarnes/mailbox-sync/internal/models"
	"github.com/alexjbarnes/mailbox-sync/internal/state"
)

type uploadState int

const (
	uploadCreated uploadState = iota
	uploadConnectedToContact
	uploadCheckingForData
	uploadWaitingForData
	uploadConnectivityCheck
	uploadWritingUploading
	uploadDestroyed
)

func (s uploadState) String() string {
	switch s {
	case uploadCreated:
		return "created"
	case uploadConnectedToContact:
		return "connected_to_contact"
	case uploadCheckingForData:
		return "checking_for_data"
	case uploadWaitingForData:
		return "waiting_for_data"
	case uploadConnectivityCheck:
		return "connectivity_check"
	case uploadWritingUploading:
		return "writing_uploading"
	case uploadDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// UploadWorker sends queued acks and messages for one contact to one
// mailbox folder.
//
// While data is sendable it checks connectivity, writes a batch, uploads
// it and checks again. Data due later schedules a wakeup; no data waits
// for an event. Nothing is checked while the contact is directly
// connected, though an upload already under way is finished.
type UploadWorker struct {
	deps    Deps
	logger  *slog.Logger
	checker ConnectivityChecker
	props   models.MailboxProperties
	folder  models.FolderID
	contact models.ContactID

	mu         sync.Mutex
	state      uploadState
	wakeupTask executor.Cancellable
	checkTask  executor.Cancellable
	apiCall    executor.Cancellable
	file       string
}

// NewUploadWorker creates a worker uploading to folder on the mailbox
// described by props.
func NewUploadWorker(deps Deps, checker ConnectivityChecker, props models.MailboxProperties, folder models.FolderID, c models.ContactID) *UploadWorker {
	return &UploadWorker{
		deps: deps,
		logger: deps.Logger.With(
			slog.String("component", "upload-worker"),
			slog.String("contact_id", c.String()),
			slog.String("folder_id", string(folder)),
		),
		checker: checker,
		props:   props,
		folder:  folder,
		contact: c,
	}
}

func (w *UploadWorker) Start() {
	w.mu.Lock()
	if w.state != uploadCreated {
		w.mu.Unlock()
		return
	}
	w.state = uploadCheckingForData
	w.mu.Unlock()

	w.logger.Info("started")
	metrics.WorkerStarted("upload")

	w.deps.Bus.AddListener(w)

	if w.isDestroyed() {
		w.deps.Bus.RemoveListener(w)
		return
	}

	w.deps.IO.Execute(w.checkForDataToSend)
}

func (w *UploadWorker) Destroy() {
	w.mu.Lock()
	if w.state == uploadDestroyed {
		w.mu.Unlock()
		return
	}
	started := w.state != uploadCreated
	w.state = uploadDestroyed
	wakeupTask, checkTask, apiCall := w.wakeupTask, w.checkTask, w.apiCall
	w.wakeupTask, w.checkTask, w.apiCall = nil, nil, nil
	file := w.file
	w.file = ""
	w.mu.Unlock()

	w.logger.Info("destroyed")

	if started {
		metrics.WorkerDestroyed("upload")
	}

	for _, task := range []executor.Cancellable{wakeupTask, checkTask, apiCall} {
		if task != nil {
			task.Cancel()
		}
	}

	if file != "" {
		w.removeFile(file)
	}

	w.checker.RemoveObserver(w)
	w.deps.Bus.RemoveListener(w)
}

func (w *UploadWorker) isDestroyed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.state == uploadDestroyed
}

func (w *UploadWorker) currentState() uploadState {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.state
}

// checkForDataToSend runs on the I/O pool.
func (w *UploadWorker) checkForDataToSend() {
	w.mu.Lock()
	w.checkTask = nil

	if w.state != uploadCheckingForData {
		w.mu.Unlock()
		return
	}

	// Checked under the lock so a connect event cannot slip in between.
	if w.deps.Connections.IsConnected(w.contact) {
		w.logger.Info("contact is connected directly, pausing")
		w.state = uploadConnectedToContact
		w.mu.Unlock()

		return
	}
	w.mu.Unlock()

	w.logger.Debug("checking for data to send")

	err := w.deps.DB.Transaction(true, func(tx *state.Txn) error {
		next := int64(0)

		if !tx.ContainsAcksToSend(w.contact) {
			var err error
			if next, err = tx.NextSendTime(w.contact); err != nil {
				return err
			}
		}

		// Handled on the event loop so it is ordered with incoming events.
		tx.Attach(func() { w.handleNextSendTime(next) })

		return nil
	})
	if err != nil {
		w.logger.Warn("checking for data to send", slog.String("error", err.Error()))
	}
}

// handleNextSendTime runs on the event loop.
func (w *UploadWorker) handleNextSendTime(next int64) {
	if next == state.NeverSend {
		w.waitForData()
		return
	}

	delay := time.Duration(next-w.deps.Clock.Now().UnixMilli()) * time.Millisecond
	if delay > 0 {
		w.scheduleWakeup(delay)
		return
	}

	w.checkConnectivity()
}

func (w *UploadWorker) waitForData() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != uploadCheckingForData {
		return
	}

	w.logger.Info("waiting for data to send")
	w.state = uploadWaitingForData
}

func (w *UploadWorker) scheduleWakeup(delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != uploadCheckingForData {
		return
	}

	w.logger.Info("scheduling wakeup", slog.Duration("delay", delay))
	w.state = uploadWaitingForData
	w.wakeupTask = w.deps.Scheduler.Schedule(w.wakeUp, w.deps.IO, delay)
}

func (w *UploadWorker) wakeUp() {
	w.mu.Lock()
	w.wakeupTask = nil

	if w.state != uploadWaitingForData {
		w.mu.Unlock()
		return
	}

	w.logger.Debug("woke up")
	w.state = uploadCheckingForData
	w.mu.Unlock()

	w.checkForDataToSend()
}

func (w *UploadWorker) checkConnectivity() {
	w.mu.Lock()
	if w.state != uploadCheckingForData {
		w.mu.Unlock()
		return
	}
	w.state = uploadConnectivityCheck
	w.mu.Unlock()

	w.logger.Debug("checking connectivity")
	w.checker.CheckConnectivity(w.props, w)

	if w.isDestroyed() {
		w.checker.RemoveObserver(w)
	}
}

func (w *UploadWorker) OnConnectivityCheckSucceeded() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != uploadConnectivityCheck {
		return
	}

	w.state = uploadWritingUploading
	w.deps.IO.Execute(w.writeAndUploadFile)
}

// writeAndUploadFile runs on the I/O pool.
func (w *UploadWorker) writeAndUploadFile() {
	if w.currentState() != uploadWritingUploading {
		return
	}

	path, record, err := w.deps.Files.CreateAndWriteTempFileForUpload(context.Background(), w.contact)
	if err != nil {
		w.logger.Warn("writing upload file, will retry", slog.String("error", err.Error()), slog.Duration("delay", w.deps.Config.UploadRetryDelay))

		w.mu.Lock()
		defer w.mu.Unlock()

		if w.state != uploadWritingUploading {
			return
		}

		w.state = uploadCheckingForData
		w.checkTask = w.deps.Scheduler.Schedule(w.checkForDataToSend, w.deps.IO, w.deps.Config.UploadRetryDelay)

		return
	}

	w.mu.Lock()
	if w.state != uploadWritingUploading {
		w.mu.Unlock()
		w.removeFile(path)

		return
	}

	w.file = path
	w.apiCall = w.deps.Caller.RetryWithBackoff(SimpleCall(w.logger, "add_file", func(ctx context.Context) error {
		return w.upload(ctx, path, record)
	}))
	w.mu.Unlock()
}

func (w *UploadWorker) upload(ctx context.Context, path string, record models.SessionRecord) error {
	if w.currentState() != uploadWritingUploading {
		return nil
	}

	w.logger.Info("uploading file", slog.Int("acks", len(record.AckedIDs)), slog.Int("messages", len(record.SentIDs)))

	if err := w.deps.API.AddFile(ctx, w.props, w.folder, path); err != nil {
		return err
	}

	metrics.FileUploaded()
	w.markSentOrAcked(record)
	w.removeFile(path)

	w.mu.Lock()
	if w.state != uploadWritingUploading {
		w.mu.Unlock()
		return nil
	}
	w.state = uploadCheckingForData
	w.apiCall = nil
	w.file = ""
	w.mu.Unlock()

	w.checkForDataToSend()

	return nil
}

func (w *UploadWorker) markSentOrAcked(record models.SessionRecord) {
	err := w.deps.DB.Transaction(false, func(tx *state.Txn) error {
		if len(record.AckedIDs) > 0 {
			if err := tx.SetAckSent(w.contact, record.AckedIDs); err != nil {
				return err
			}
		}

		if len(record.SentIDs) > 0 {
			return tx.SetMessagesSent(w.contact, record.SentIDs, w.deps.Config.MaxLatency)
		}

		return nil
	})
	if err != nil && !errors.Is(err, mberrors.ErrNoSuchContact) {
		w.logger.Warn("recording upload", slog.String("error", err.Error()))
	}
}

func (w *UploadWorker) removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.logger.Warn("removing upload file", slog.String("error", err.Error()))
	}
}

func (w *UploadWorker) EventOccurred(e events.Event) {
	switch e := e.(type) {
	case events.MessageToAck:
		if e.Contact == w.contact {
			w.logger.Debug("message to ack")
			w.onDataToSend()
		}
	case events.MessageShared:
		if e.Visibility[w.contact] {
			w.logger.Debug("message shared")
			w.onDataToSend()
		}
	case events.GroupVisibilityUpdated:
		if e.Shared && slices.Contains(e.Contacts, w.contact) {
			w.logger.Debug("group shared")
			w.onDataToSend()
		}
	case events.ContactConnected:
		if e.Contact == w.contact {
			w.logger.Info("contact connected")
			w.onContactConnected()
		}
	case events.ContactDisconnected:
		if e.Contact == w.contact {
			w.logger.Info("contact disconnected")
			w.onContactDisconnected()
		}
	}
}

func (w *UploadWorker) onDataToSend() {
	w.mu.Lock()
	if w.state != uploadWaitingForData {
		w.mu.Unlock()
		return
	}

	w.state = uploadCheckingForData
	wakeupTask := w.wakeupTask
	w.wakeupTask = nil
	// Delayed so that a burst of new data goes out in one file.
	w.checkTask = w.deps.Scheduler.Schedule(w.checkForDataToSend, w.deps.IO, w.deps.Config.UploadCheckDelay)
	w.mu.Unlock()

	if wakeupTask != nil {
		wakeupTask.Cancel()
	}
}

func (w *UploadWorker) onContactConnected() {
	var wakeupTask, checkTask executor.Cancellable

	w.mu.Lock()
	checking := w.state == uploadConnectivityCheck
	switch w.state {
	case uploadCheckingForData, uploadWaitingForData, uploadConnectivityCheck:
		w.state = uploadConnectedToContact
		wakeupTask, checkTask = w.wakeupTask, w.checkTask
		w.wakeupTask, w.checkTask = nil, nil
	}
	w.mu.Unlock()

	if checking {
		w.checker.RemoveObserver(w)
	}

	if wakeupTask != nil {
		wakeupTask.Cancel()
	}

	if checkTask != nil {
		checkTask.Cancel()
	}
}

func (w *UploadWorker) onContactDisconnected() {
	w.mu.Lock()
	if w.state != uploadConnectedToContact {
		w.mu.Unlock()
		return
	}
	w.state = uploadCheckingForData
	w.mu.Unlock()

	w.deps.IO.Execute(w.checkForDataToSend)
}
