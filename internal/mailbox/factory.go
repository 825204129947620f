package mailbox

import (
	"log/slog"

	"github.com/alexjbarnes/mailbox-sync/internal/executor"
	"github.com/alexjbarnes/mailbox-sync/internal/models"
	"github.com/alexjbarnes/mailbox-sync/internal/relay"
)

// Deps bundles the long-lived collaborators shared by every worker and
// client.
type Deps struct {
	Logger      *slog.Logger
	IO          executor.Executor
	Scheduler   executor.Scheduler
	Clock       executor.Clock
	DB          Database
	Bus         EventBus
	Connections ConnectionRegistry
	Caller      APICaller
	API         relay.API
	Files       FileManager
	Config      Config
}

type workerFactory struct {
	deps Deps
}

// NewWorkerFactory returns the WorkerFactory used in production.
func NewWorkerFactory(deps Deps) WorkerFactory {
	return &workerFactory{deps: deps}
}

func (f *workerFactory) CreateUploadWorker(checker ConnectivityChecker, props models.MailboxProperties, folder models.FolderID, c models.ContactID) Worker {
	return NewUploadWorker(f.deps, checker, props, folder, c)
}

func (f *workerFactory) CreateDownloadWorkerForContactMailbox(checker ConnectivityChecker, monitor ReachabilityMonitor, props models.MailboxProperties, folder models.FolderID) Worker {
	d := f.deps
	return NewContactDownloadWorker(d.Logger, checker, monitor, d.Caller, d.API, d.Files, props, folder)
}

func (f *workerFactory) CreateDownloadWorkerForOwnMailbox(checker ConnectivityChecker, monitor ReachabilityMonitor, props models.MailboxProperties) Worker {
	d := f.deps
	return NewOwnDownloadWorker(d.Logger, checker, monitor, d.Caller, d.API, d.Files, props)
}

func (f *workerFactory) CreateContactListWorkerForOwnMailbox(checker ConnectivityChecker, props models.MailboxProperties) Worker {
	d := f.deps
	return NewContactListWorker(d.Logger, d.IO, d.DB, d.Bus, checker, d.Caller, d.API, props)
}

type clientFactory struct {
	deps    Deps
	workers WorkerFactory
}

// NewClientFactory returns the ClientFactory used in production. Every
// client gets a connectivity checker of its own.
func NewClientFactory(deps Deps, workers WorkerFactory) ClientFactory {
	return &clientFactory{deps: deps, workers: workers}
}

func (f *clientFactory) CreateContactMailboxClient(monitor ReachabilityMonitor) Client {
	d := f.deps
	checker := NewContactConnectivityChecker(d.Logger, d.Clock, d.Caller, d.API, d.Config.ConnectivityFreshness)

	return NewContactMailboxClient(d.Logger, f.workers, checker, monitor)
}

func (f *clientFactory) CreateOwnMailboxClient(monitor ReachabilityMonitor, props models.MailboxProperties) Client {
	d := f.deps
	checker := NewOwnConnectivityChecker(d.Logger, d.Clock, d.Caller, d.API, d.DB, d.Config.ConnectivityFreshness)

	return NewOwnMailboxClient(d.Logger, f.workers, checker, monitor, props)
}
