package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"slices"
	"sync"

	mberrors "github.com/alexjbarnes/mailbox-sync/internal/errors"
	"github.com/alexjbarnes/mailbox-sync/internal/executor"
	"github.com/alexjbarnes/mailbox-sync/internal/metrics"
	"github.com/alexjbarnes/mailbox-sync/internal/models"
	"github.com/alexjbarnes/mailbox-sync/internal/relay"
)

// MaxRoundRobinFiles caps how many files one own-mailbox pass downloads
// before the folders are listed again, so a file arriving in a quiet
// folder is picked up even while another folder has a long backlog.
const MaxRoundRobinFiles = 1000

type downloadState int

const (
	downloadCreated downloadState = iota
	downloadConnectivityCheck
	downloadCycle1
	downloadWaitingForTor
	downloadCycle2
	downloadFinished
	downloadDestroyed
)

func (s downloadState) String() string {
	switch s {
	case downloadCreated:
		return "created"
	case downloadConnectivityCheck:
		return "connectivity_check"
	case downloadCycle1:
		return "download_cycle_1"
	case downloadWaitingForTor:
		return "waiting_for_tor"
	case downloadCycle2:
		return "download_cycle_2"
	case downloadFinished:
		return "finished"
	case downloadDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// downloadSource lists what one pass of a download cycle should fetch.
// An empty batch ends the cycle.
type downloadSource interface {
	listBatch(ctx context.Context) ([]models.FolderFile, error)
}

// DownloadWorker drains files from a mailbox in two cycles: one as soon as
// the mailbox is reachable, and one more once our own endpoint is
// reachable, to collect files from contacts that gave up on connecting
// to us directly before that.
type DownloadWorker struct {
	logger  *slog.Logger
	checker ConnectivityChecker
	monitor ReachabilityMonitor
	caller  APICaller
	api     relay.API
	files   FileManager
	props   models.MailboxProperties
	source  downloadSource

	mu      sync.Mutex
	state   downloadState
	apiCall executor.Cancellable
}

// NewContactDownloadWorker downloads from our inbox folder on a contact's
// mailbox.
func NewContactDownloadWorker(logger *slog.Logger, checker ConnectivityChecker, monitor ReachabilityMonitor, caller APICaller, api relay.API, files FileManager, props models.MailboxProperties, folder models.FolderID) *DownloadWorker {
	if props.Owner {
		panic(fmt.Sprintf("contact download worker with owner properties: %v", mberrors.ErrInvariant))
	}

	logger = logger.With(slog.String("component", "download-worker"), slog.String("folder_id", string(folder)))

	return newDownloadWorker(logger, checker, monitor, caller, api, files, props, folderSource{api: api, props: props, folder: folder})
}

// NewOwnDownloadWorker downloads from every contact's folder on our own
// mailbox, taking files round robin across folders.
func NewOwnDownloadWorker(logger *slog.Logger, checker ConnectivityChecker, monitor ReachabilityMonitor, caller APICaller, api relay.API, files FileManager, props models.MailboxProperties) *DownloadWorker {
	if !props.Owner {
		panic(fmt.Sprintf("own download worker with non-owner properties: %v", mberrors.ErrInvariant))
	}

	logger = logger.With(slog.String("component", "own-download-worker"))
	src := &allFoldersSource{logger: logger, api: api, props: props, shuffle: rand.Shuffle}

	return newDownloadWorker(logger, checker, monitor, caller, api, files, props, src)
}

func newDownloadWorker(logger *slog.Logger, checker ConnectivityChecker, monitor ReachabilityMonitor, caller APICaller, api relay.API, files FileManager, props models.MailboxProperties, src downloadSource) *DownloadWorker {
	return &DownloadWorker{
		logger:  logger,
		checker: checker,
		monitor: monitor,
		caller:  caller,
		api:     api,
		files:   files,
		props:   props,
		source:  src,
	}
}

func (w *DownloadWorker) Start() {
	w.mu.Lock()
	if w.state != downloadCreated {
		w.mu.Unlock()
		return
	}
	w.state = downloadConnectivityCheck
	w.mu.Unlock()

	w.logger.Info("started")
	metrics.WorkerStarted("download")

	w.checker.CheckConnectivity(w.props, w)

	if w.isDestroyed() {
		w.checker.RemoveObserver(w)
	}
}

func (w *DownloadWorker) Destroy() {
	w.mu.Lock()
	if w.state == downloadDestroyed {
		w.mu.Unlock()
		return
	}
	started := w.state != downloadCreated
	w.state = downloadDestroyed
	apiCall := w.apiCall
	w.apiCall = nil
	w.mu.Unlock()

	w.logger.Info("destroyed")

	if started {
		metrics.WorkerDestroyed("download")
	}

	if apiCall != nil {
		apiCall.Cancel()
	}

	w.checker.RemoveObserver(w)
	w.monitor.RemoveObserver(w)
}

func (w *DownloadWorker) isDestroyed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.state == downloadDestroyed
}

func (w *DownloadWorker) currentState() downloadState {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.state
}

func (w *DownloadWorker) OnConnectivityCheckSucceeded() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != downloadConnectivityCheck {
		return
	}

	w.logger.Info("connectivity check succeeded, starting first download cycle")
	w.state = downloadCycle1
	w.apiCall = w.caller.RetryWithBackoff(SimpleCall(w.logger, "list", w.list))
}

func (w *DownloadWorker) OnReachable() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != downloadWaitingForTor {
		return
	}

	w.logger.Info("endpoint reachable, starting second download cycle")
	w.state = downloadCycle2
	w.apiCall = w.caller.RetryWithBackoff(SimpleCall(w.logger, "list", w.list))
}

func (w *DownloadWorker) list(ctx context.Context) error {
	if w.isDestroyed() {
		return nil
	}

	queue, err := w.source.listBatch(ctx)
	if err != nil {
		return err
	}

	if len(queue) == 0 {
		w.cycleFinished()
		return nil
	}

	w.logger.Info("downloading files", slog.Int("count", len(queue)))
	w.downloadNext(queue)

	return nil
}

func (w *DownloadWorker) cycleFinished() {
	addObserver := false

	w.mu.Lock()
	switch w.state {
	case downloadCycle1:
		w.logger.Info("first download cycle finished")
		w.state = downloadWaitingForTor
		w.apiCall = nil
		addObserver = true
	case downloadCycle2:
		w.logger.Info("second download cycle finished")
		w.state = downloadFinished
		w.apiCall = nil
	}
	w.mu.Unlock()

	if !addObserver {
		return
	}

	w.monitor.AddOneShotObserver(w)

	if w.isDestroyed() {
		w.monitor.RemoveObserver(w)
	}
}

// schedule starts the next step of the cycle unless the worker is gone.
func (w *DownloadWorker) schedule(op string, fn func(ctx context.Context) error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == downloadDestroyed {
		return
	}

	w.apiCall = w.caller.RetryWithBackoff(SimpleCall(w.logger, op, fn))
}

func (w *DownloadWorker) downloadNext(queue []models.FolderFile) {
	file, rest := queue[0], queue[1:]

	w.schedule("get_file", func(ctx context.Context) error {
		return w.download(ctx, file, rest)
	})
}

// advance moves on to the next queued file, or lists again once the
// queue is empty since files may have arrived during the cycle.
func (w *DownloadWorker) advance(rest []models.FolderFile) {
	if len(rest) > 0 {
		w.downloadNext(rest)
		return
	}

	w.schedule("list", w.list)
}

func (w *DownloadWorker) download(ctx context.Context, file models.FolderFile, rest []models.FolderFile) error {
	if w.isDestroyed() {
		return nil
	}

	path, err := w.files.CreateTempFileForDownload(ctx, file.Folder)
	if err != nil {
		return fmt.Errorf("creating download file: %w", err)
	}

	w.logger.Debug("downloading file", slog.String("file_id", string(file.File)), slog.String("folder_id", string(file.Folder)))

	if err := w.api.GetFile(ctx, w.props, file.Folder, file.File, path); err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			w.logger.Warn("removing download file", slog.String("error", rmErr.Error()))
		}

		if mberrors.Classify(err) == mberrors.KindTolerable {
			w.logger.Info("file is gone, skipping", slog.String("file_id", string(file.File)))
			w.advance(rest)

			return nil
		}

		return err
	}

	metrics.FileDownloaded()
	w.files.HandleDownloadedFile(file.Folder, path)

	w.schedule("delete_file", func(ctx context.Context) error {
		return w.delete(ctx, file, rest)
	})

	return nil
}

func (w *DownloadWorker) delete(ctx context.Context, file models.FolderFile, rest []models.FolderFile) error {
	if w.isDestroyed() {
		return nil
	}

	if err := w.api.DeleteFile(ctx, w.props, file.Folder, file.File); err != nil {
		if mberrors.Classify(err) != mberrors.KindTolerable {
			return err
		}

		w.logger.Info("file already deleted", slog.String("file_id", string(file.File)))
	}

	w.advance(rest)

	return nil
}

// folderSource lists a single folder.
type folderSource struct {
	api    relay.API
	props  models.MailboxProperties
	folder models.FolderID
}

func (s folderSource) listBatch(ctx context.Context) ([]models.FolderFile, error) {
	files, err := s.api.ListFiles(ctx, s.props, s.folder)
	if err != nil {
		return nil, err
	}

	queue := make([]models.FolderFile, 0, len(files))
	for _, f := range files {
		queue = append(queue, models.FolderFile{Folder: s.folder, File: f.Name})
	}

	return queue, nil
}

// allFoldersSource lists every folder with files on our own mailbox and
// interleaves them. The queue is only built once every folder has been
// listed.
type allFoldersSource struct {
	logger  *slog.Logger
	api     relay.API
	props   models.MailboxProperties
	shuffle func(n int, swap func(i, j int))
}

func (s *allFoldersSource) listBatch(ctx context.Context) ([]models.FolderFile, error) {
	folders, err := s.api.ListFolders(ctx, s.props)
	if err != nil {
		return nil, err
	}

	available := make(map[models.FolderID][]models.MailboxFile, len(folders))

	for _, folder := range folders {
		files, err := s.api.ListFiles(ctx, s.props, folder)
		if err != nil {
			return nil, err
		}

		if len(files) > 0 {
			available[folder] = files
		}
	}

	s.logger.Debug("listed folders", slog.Int("folders", len(folders)), slog.Int("with_files", len(available)))

	return roundRobinQueue(available, s.shuffle, MaxRoundRobinFiles), nil
}

// roundRobinQueue takes one file from each folder in turn, in an order
// shuffled once per call, until every folder is empty or limit files have
// been queued. available is consumed.
func roundRobinQueue(available map[models.FolderID][]models.MailboxFile, shuffle func(n int, swap func(i, j int)), limit int) []models.FolderFile {
	order := make([]models.FolderID, 0, len(available))
	for folder := range available {
		order = append(order, folder)
	}

	slices.Sort(order)
	shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	var queue []models.FolderFile

	for len(queue) < limit && len(order) > 0 {
		next := order[:0]

		for _, folder := range order {
			if len(queue) >= limit {
				break
			}

			files := available[folder]
			queue = append(queue, models.FolderFile{Folder: folder, File: files[0].Name})

			if len(files) > 1 {
				available[folder] = files[1:]
				next = append(next, folder)
			} else {
				delete(available, folder)
			}
		}

		order = next
	}

	return queue
}
