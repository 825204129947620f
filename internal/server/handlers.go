package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	mberrors "github.com/alexjbarnes/mailbox-sync/internal/errors"
	"github.com/alexjbarnes/mailbox-sync/internal/mailbox"
	"github.com/alexjbarnes/mailbox-sync/internal/models"
)

// maxBodyBytes bounds control API request bodies.
const maxBodyBytes = 64 << 10

type handlers struct {
	logger      *slog.Logger
	store       Store
	connections Connections
	newPairing  func(onion, token string) PairingRunner
	pairing     *pairingTracker
}

// pairingTracker remembers the latest pairing state and allows one
// attempt at a time.
type pairingTracker struct {
	mu      sync.Mutex
	running bool
	state   *mailbox.PairingState
}

func (p *pairingTracker) OnPairingStateChanged(s mailbox.PairingState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = &s
}

func (p *pairingTracker) begin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return false
	}

	p.running = true

	return true
}

func (p *pairingTracker) end() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.running = false
}

func (p *pairingTracker) current() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == nil {
		return ""
	}

	return p.state.String()
}

type ownMailboxStatus struct {
	Paired         bool             `json:"paired"`
	Onion          string           `json:"onion,omitempty"`
	ServerSupports []models.Version `json:"server_supports,omitempty"`
	LastAttempt    int64            `json:"last_attempt,omitempty"`
	LastSuccess    int64            `json:"last_success,omitempty"`
	AttemptsSince  int              `json:"attempts_since_success"`
}

type statusResponse struct {
	OwnMailbox ownMailboxStatus   `json:"own_mailbox"`
	Pairing    string             `json:"pairing,omitempty"`
	Connected  []models.ContactID `json:"connected"`
}

func (h *handlers) status(w http.ResponseWriter, _ *http.Request) {
	props, st, err := h.store.OwnMailbox()
	if err != nil {
		h.internalError(w, "reading own mailbox", err)
		return
	}

	resp := statusResponse{
		OwnMailbox: ownMailboxStatus{
			Paired:        props != nil,
			LastAttempt:   st.LastAttempt,
			LastSuccess:   st.LastSuccess,
			AttemptsSince: st.AttemptsSince,
		},
		Pairing:   h.pairing.current(),
		Connected: h.connections.Connected(),
	}

	if props != nil {
		resp.OwnMailbox.Onion = props.OnionAddress
		resp.OwnMailbox.ServerSupports = props.ServerSupports
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) listContacts(w http.ResponseWriter, _ *http.Request) {
	contacts, err := h.store.Contacts()
	if err != nil {
		h.internalError(w, "listing contacts", err)
		return
	}

	if contacts == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}

	writeJSON(w, http.StatusOK, contacts)
}

type addContactRequest struct {
	Name string `json:"name"`
}

func (h *handlers) addContact(w http.ResponseWriter, r *http.Request) {
	var req addContactRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.Name) == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	id, err := h.store.AddContact(req.Name)
	if err != nil {
		h.internalError(w, "adding contact", err)
		return
	}

	h.logger.Info("contact added", slog.Int("contact_id", int(id)))
	writeJSON(w, http.StatusCreated, map[string]models.ContactID{"id": id})
}

func (h *handlers) removeContact(w http.ResponseWriter, r *http.Request) {
	c, ok := contactParam(w, r)
	if !ok {
		return
	}

	err := h.store.RemoveContact(c)
	if errors.Is(err, mberrors.ErrNoSuchContact) {
		http.Error(w, "no such contact", http.StatusNotFound)
		return
	}

	if err != nil {
		h.internalError(w, "removing contact", err)
		return
	}

	h.logger.Info("contact removed", slog.Int("contact_id", int(c)))
	w.WriteHeader(http.StatusNoContent)
}

type updateRequest struct {
	Version uint64               `json:"version"`
	Update  models.MailboxUpdate `json:"update"`
}

// receiveUpdate accepts a mailbox update that arrived from a contact over
// a direct connection.
func (h *handlers) receiveUpdate(w http.ResponseWriter, r *http.Request) {
	c, ok := contactParam(w, r)
	if !ok {
		return
	}

	var req updateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if len(req.Update.ClientSupports) == 0 {
		http.Error(w, "update.client_supports is required", http.StatusBadRequest)
		return
	}

	applied, err := h.store.ReceiveRemoteUpdate(c, req.Version, req.Update)
	if errors.Is(err, mberrors.ErrNoSuchContact) {
		http.Error(w, "no such contact", http.StatusNotFound)
		return
	}

	if err != nil {
		h.internalError(w, "storing update", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"applied": applied})
}

func (h *handlers) connect(w http.ResponseWriter, r *http.Request) {
	c, ok := contactParam(w, r)
	if !ok {
		return
	}

	h.connections.Register(c)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) disconnect(w http.ResponseWriter, r *http.Request) {
	c, ok := contactParam(w, r)
	if !ok {
		return
	}

	if !h.connections.Unregister(c) {
		http.Error(w, "not connected", http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type pairRequest struct {
	Onion string `json:"onion"`
	Token string `json:"token"`
}

// pair runs a pairing attempt for the duration of the request.
func (h *handlers) pair(w http.ResponseWriter, r *http.Request) {
	if h.newPairing == nil {
		http.Error(w, "pairing unavailable", http.StatusNotImplemented)
		return
	}

	var req pairRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if !h.pairing.begin() {
		http.Error(w, "pairing already in progress", http.StatusConflict)
		return
	}
	defer h.pairing.end()

	task := h.newPairing(req.Onion, req.Token)
	task.AddObserver(h.pairing)

	s := task.Run(r.Context())

	status := http.StatusOK
	switch s {
	case mailbox.PairingInvalidCode:
		status = http.StatusBadRequest
	case mailbox.PairingAlreadyPaired:
		status = http.StatusConflict
	case mailbox.PairingConnectionError:
		status = http.StatusBadGateway
	case mailbox.PairingUnexpectedError:
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, map[string]string{"state": s.String()})
}

func (h *handlers) unpair(w http.ResponseWriter, _ *http.Request) {
	err := h.store.UnpairMailbox()
	if errors.Is(err, mberrors.ErrNotPaired) {
		http.Error(w, "no mailbox is paired", http.StatusNotFound)
		return
	}

	if err != nil {
		h.internalError(w, "unpairing mailbox", err)
		return
	}

	h.logger.Info("own mailbox unpaired")
	w.WriteHeader(http.StatusNoContent)
}

func contactParam(w http.ResponseWriter, r *http.Request) (models.ContactID, bool) {
	c, err := models.ParseContactID(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return 0, false
	}

	return c, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}

	return true
}

func (h *handlers) internalError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, slog.String("error", err.Error()))
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
