package state

import (
	"fmt"
	"slices"

	mberrors "github.com/alexjbarnes/mailbox-sync/internal/errors"
	"github.com/alexjbarnes/mailbox-sync/internal/events"
	"github.com/alexjbarnes/mailbox-sync/internal/models"
)

// OwnProperties returns our own mailbox's owner properties, or nil when no
// mailbox is paired.
func (t *Txn) OwnProperties() (*models.MailboxProperties, error) {
	var p models.MailboxProperties

	ok, err := getJSON(t.bucket(metaBucket), ownPropsKey, &p)
	if err != nil || !ok {
		return nil, err
	}

	return &p, nil
}

// OwnStatus returns the last recorded connection status of our mailbox.
func (t *Txn) OwnStatus() (models.MailboxStatus, error) {
	var st models.MailboxStatus
	_, err := getJSON(t.bucket(metaBucket), ownStatusKey, &st)

	return st, err
}

// PairMailbox stores our own mailbox and sends every contact an update
// with fresh credentials for it.
func (t *Txn) PairMailbox(props models.MailboxProperties) error {
	if !props.Owner {
		return fmt.Errorf("pairing with non-owner properties: %w", mberrors.ErrInvariant)
	}

	existing, err := t.OwnProperties()
	if err != nil {
		return err
	}

	if existing != nil {
		return mberrors.ErrAlreadyPaired
	}

	if err := putJSON(t.bucket(metaBucket), ownPropsKey, props); err != nil {
		return err
	}

	status := models.MailboxStatus{
		LastAttempt:    nowMillis(t.now),
		LastSuccess:    nowMillis(t.now),
		ServerSupports: props.ServerSupports,
	}
	if err := putJSON(t.bucket(metaBucket), ownStatusKey, status); err != nil {
		return err
	}

	ids, err := t.ContactIDs()
	if err != nil {
		return err
	}

	local := make(map[models.ContactID]models.MailboxUpdate, len(ids))

	for _, c := range ids {
		u := models.MailboxUpdate{
			ClientSupports: models.ClientSupports,
			Properties:     newContactProperties(props),
		}
		if err := t.setLocalUpdate(c, u); err != nil {
			return err
		}

		local[c] = u
	}

	t.AttachEvent(events.MailboxPaired{Properties: props, LocalUpdates: local})

	return nil
}

// UnpairMailbox forgets our own mailbox and tells every contact we no
// longer have one.
func (t *Txn) UnpairMailbox() error {
	existing, err := t.OwnProperties()
	if err != nil {
		return err
	}

	if existing == nil {
		return mberrors.ErrNotPaired
	}

	if err := t.bucket(metaBucket).Delete(ownPropsKey); err != nil {
		return err
	}

	if err := t.bucket(metaBucket).Delete(ownStatusKey); err != nil {
		return err
	}

	ids, err := t.ContactIDs()
	if err != nil {
		return err
	}

	local := make(map[models.ContactID]models.MailboxUpdate, len(ids))

	for _, c := range ids {
		u := models.MailboxUpdate{ClientSupports: models.ClientSupports}
		if err := t.setLocalUpdate(c, u); err != nil {
			return err
		}

		local[c] = u
	}

	t.AttachEvent(events.MailboxUnpaired{LocalUpdates: local})

	return nil
}

// RecordSuccessfulConnection notes a successful connection to our own
// mailbox. If the mailbox's supported versions have changed, our stored
// properties and every contact's credentials are updated to match.
func (t *Txn) RecordSuccessfulConnection(serverSupports []models.Version) error {
	own, err := t.OwnProperties()
	if err != nil {
		return err
	}

	if own == nil {
		return mberrors.ErrNotPaired
	}

	status := models.MailboxStatus{
		LastAttempt:    nowMillis(t.now),
		LastSuccess:    nowMillis(t.now),
		ServerSupports: serverSupports,
	}
	if err := putJSON(t.bucket(metaBucket), ownStatusKey, status); err != nil {
		return err
	}

	if !slices.Equal(own.ServerSupports, serverSupports) {
		updated := own.WithServerSupports(serverSupports)
		if err := putJSON(t.bucket(metaBucket), ownPropsKey, updated); err != nil {
			return err
		}

		if err := t.refreshLocalServerSupports(serverSupports); err != nil {
			return err
		}
	}

	t.AttachEvent(events.OwnMailboxConnectionStatus{Status: status})

	return nil
}

func (t *Txn) refreshLocalServerSupports(serverSupports []models.Version) error {
	ids, err := t.ContactIDs()
	if err != nil {
		return err
	}

	for _, c := range ids {
		u, err := t.LocalUpdate(c)
		if err != nil {
			return err
		}

		if u.Properties == nil {
			continue
		}

		p := u.Properties.WithServerSupports(serverSupports)
		u.Properties = &p

		if err := t.setLocalUpdate(c, u); err != nil {
			return err
		}
	}

	return nil
}

// RecordFailedConnection notes a failed connection attempt.
func (t *Txn) RecordFailedConnection() error {
	own, err := t.OwnProperties()
	if err != nil {
		return err
	}

	if own == nil {
		return mberrors.ErrNotPaired
	}

	status, err := t.OwnStatus()
	if err != nil {
		return err
	}

	status.LastAttempt = nowMillis(t.now)
	status.AttemptsSince++

	if err := putJSON(t.bucket(metaBucket), ownStatusKey, status); err != nil {
		return err
	}

	t.AttachEvent(events.OwnMailboxConnectionStatus{Status: status})

	return nil
}

// PairMailbox runs Txn.PairMailbox in its own transaction.
func (s *State) PairMailbox(props models.MailboxProperties) error {
	return s.Transaction(false, func(t *Txn) error {
		return t.PairMailbox(props)
	})
}

// UnpairMailbox runs Txn.UnpairMailbox in its own transaction.
func (s *State) UnpairMailbox() error {
	return s.Transaction(false, func(t *Txn) error {
		return t.UnpairMailbox()
	})
}

// OwnMailbox returns our own properties (nil if unpaired) and status.
func (s *State) OwnMailbox() (*models.MailboxProperties, models.MailboxStatus, error) {
	var (
		props  *models.MailboxProperties
		status models.MailboxStatus
	)

	err := s.Transaction(true, func(t *Txn) error {
		var err error
		if props, err = t.OwnProperties(); err != nil {
			return err
		}

		status, err = t.OwnStatus()

		return err
	})

	return props, status, err
}
