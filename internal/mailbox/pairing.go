package mailbox

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"

	mberrors "github.com/alexjbarnes/mailbox-sync/internal/errors"
	"github.com/alexjbarnes/mailbox-sync/internal/models"
	"github.com/alexjbarnes/mailbox-sync/internal/relay"
	"github.com/alexjbarnes/mailbox-sync/internal/state"
)

// PairingState is the progress of one pairing attempt.
type PairingState int

const (
	PairingQrReceived PairingState = iota
	PairingInProgress
	PairingPaired
	PairingInvalidCode
	PairingAlreadyPaired
	PairingConnectionError
	PairingUnexpectedError
)

func (s PairingState) String() string {
	switch s {
	case PairingQrReceived:
		return "qr_received"
	case PairingInProgress:
		return "pairing"
	case PairingPaired:
		return "paired"
	case PairingInvalidCode:
		return "invalid_code"
	case PairingAlreadyPaired:
		return "already_paired"
	case PairingConnectionError:
		return "connection_error"
	case PairingUnexpectedError:
		return "unexpected_error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions follow s.
func (s PairingState) Terminal() bool {
	return s >= PairingPaired
}

// PairingObserver receives every pairing state transition.
type PairingObserver interface {
	OnPairingStateChanged(s PairingState)
}

// onionLength is the length of a v3 onion address without its suffix.
const onionLength = 56

// PairingTask pairs our own mailbox from its address and setup token.
type PairingTask struct {
	logger *slog.Logger
	api    relay.API
	db     Database
	onion  string
	token  string

	mu        sync.Mutex
	state     PairingState
	observers []PairingObserver
}

// NewPairingTask creates a task. Nothing happens until Run.
func NewPairingTask(logger *slog.Logger, api relay.API, db Database, onion, token string) *PairingTask {
	return &PairingTask{
		logger: logger.With(slog.String("component", "pairing")),
		api:    api,
		db:     db,
		onion:  onion,
		token:  token,
		state:  PairingQrReceived,
	}
}

// State returns the current state.
func (p *PairingTask) State() PairingState {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

// AddObserver registers o and immediately tells it the current state.
func (p *PairingTask) AddObserver(o PairingObserver) {
	p.mu.Lock()
	p.observers = append(p.observers, o)
	s := p.state
	p.mu.Unlock()

	o.OnPairingStateChanged(s)
}

func (p *PairingTask) RemoveObserver(o PairingObserver) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.observers = slices.DeleteFunc(p.observers, func(x PairingObserver) bool { return x == o })
}

func (p *PairingTask) setState(s PairingState) {
	p.mu.Lock()
	p.state = s
	observers := slices.Clone(p.observers)
	p.mu.Unlock()

	p.logger.Info("pairing state changed", slog.String("state", s.String()))

	for _, o := range observers {
		o.OnPairingStateChanged(s)
	}
}

// Run performs the attempt and returns the terminal state.
func (p *PairingTask) Run(ctx context.Context) PairingState {
	onion, ok := parseOnion(p.onion)
	if !ok || !models.IsValidID(p.token) {
		p.setState(PairingInvalidCode)
		return PairingInvalidCode
	}

	p.setState(PairingInProgress)

	s := p.pair(ctx, onion)
	p.setState(s)

	return s
}

func (p *PairingTask) pair(ctx context.Context, onion string) PairingState {
	setup := models.MailboxProperties{
		Owner:        true,
		OnionAddress: onion,
		AuthToken:    p.token,
	}

	props, err := p.api.Setup(ctx, setup)
	if err != nil {
		p.logger.Warn("mailbox setup failed", slog.String("error", err.Error()))
		return pairingStateFor(err)
	}

	err = p.db.Transaction(false, func(tx *state.Txn) error {
		if err := tx.PairMailbox(props); err != nil {
			return err
		}

		return tx.RecordSuccessfulConnection(props.ServerSupports)
	})
	if err != nil {
		p.logger.Error("storing paired mailbox", slog.String("error", err.Error()))
		return pairingStateFor(err)
	}

	return PairingPaired
}

func pairingStateFor(err error) PairingState {
	switch {
	case errors.Is(err, mberrors.ErrAlreadyPaired):
		return PairingAlreadyPaired
	case errors.Is(err, mberrors.ErrTransport):
		return PairingConnectionError
	default:
		return PairingUnexpectedError
	}
}

// parseOnion accepts a v3 onion address with or without its .onion suffix
// and returns it with the suffix.
func parseOnion(s string) (string, bool) {
	host := strings.TrimSuffix(strings.ToLower(s), ".onion")
	if len(host) != onionLength {
		return "", false
	}

	for i := 0; i < len(host); i++ {
		c := host[i]
		if (c < 'a' || c > 'z') && (c < '2' || c > '7') {
			return "", false
		}
	}

	return host + ".onion", true
}
