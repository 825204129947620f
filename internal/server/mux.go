// Package server provides the HTTP surface of mailbox-sync: prometheus
// metrics, a status document and the authenticated control API.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/mailbox-sync/internal/auth"
	"github.com/alexjbarnes/mailbox-sync/internal/mailbox"
	"github.com/alexjbarnes/mailbox-sync/internal/models"
	"github.com/alexjbarnes/mailbox-sync/internal/state"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Store is the part of the state store the HTTP handlers use.
type Store interface {
	AddContact(name string) (models.ContactID, error)
	RemoveContact(c models.ContactID) error
	Contacts() ([]state.Contact, error)
	ReceiveRemoteUpdate(c models.ContactID, version uint64, u models.MailboxUpdate) (bool, error)
	OwnMailbox() (*models.MailboxProperties, models.MailboxStatus, error)
	UnpairMailbox() error
}

// Connections records direct connections reported by the transport layer.
type Connections interface {
	Register(c models.ContactID)
	Unregister(c models.ContactID) bool
	Connected() []models.ContactID
}

// PairingRunner runs one pairing attempt to completion.
type PairingRunner interface {
	AddObserver(o mailbox.PairingObserver)
	Run(ctx context.Context) mailbox.PairingState
}

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Logger      *slog.Logger
	Gatherer    prometheus.Gatherer
	Store       Store
	Connections Connections
	// NewPairing creates a pairing attempt for an address and setup token.
	NewPairing func(onion, token string) PairingRunner
	// Keys protects the control API. Without keys only /metrics and
	// /status are served.
	Keys *auth.KeyStore
}

// NewMux builds the HTTP mux. /metrics and /status are public; every
// control endpoint requires a bearer API key.
func NewMux(cfg MuxConfig) *http.ServeMux {
	h := &handlers{
		logger:      cfg.Logger.With(slog.String("component", "http")),
		store:       cfg.Store,
		connections: cfg.Connections,
		newPairing:  cfg.NewPairing,
		pairing:     &pairingTracker{},
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /status", h.status)

	if cfg.Keys == nil || cfg.Keys.Empty() {
		h.logger.Info("no api keys configured, control api disabled")
		return mux
	}

	protect := auth.Middleware(cfg.Keys, h.logger)

	mux.Handle("GET /contacts", protect(http.HandlerFunc(h.listContacts)))
	mux.Handle("POST /contacts", protect(http.HandlerFunc(h.addContact)))
	mux.Handle("DELETE /contacts/{id}", protect(http.HandlerFunc(h.removeContact)))
	mux.Handle("PUT /contacts/{id}/update", protect(http.HandlerFunc(h.receiveUpdate)))
	mux.Handle("PUT /connections/{id}", protect(http.HandlerFunc(h.connect)))
	mux.Handle("DELETE /connections/{id}", protect(http.HandlerFunc(h.disconnect)))
	mux.Handle("POST /mailbox/pair", protect(http.HandlerFunc(h.pair)))
	mux.Handle("DELETE /mailbox", protect(http.HandlerFunc(h.unpair)))

	return mux
}
