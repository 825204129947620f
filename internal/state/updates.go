package state

import (
	"encoding/json"
	"fmt"

	"github.com/alexjbarnes/mailbox-sync/internal/events"
	"github.com/alexjbarnes/mailbox-sync/internal/models"
)

// versionedUpdate is the stored form of a local or remote update. Only the
// latest update in each direction is kept per contact.
type versionedUpdate struct {
	Version uint64               `json:"version"`
	Update  models.MailboxUpdate `json:"update"`
}

// LocalUpdate returns the latest update sent to c.
func (t *Txn) LocalUpdate(c models.ContactID) (models.MailboxUpdate, error) {
	if err := t.requireContact(c); err != nil {
		return models.MailboxUpdate{}, err
	}

	var vu versionedUpdate

	ok, err := getJSON(t.bucket(localUpdatesBucket), contactKey(c), &vu)
	if err != nil {
		return models.MailboxUpdate{}, err
	}

	if !ok {
		return models.MailboxUpdate{ClientSupports: models.ClientSupports}, nil
	}

	return vu.Update, nil
}

// RemoteUpdate returns the latest update received from c, or nil.
func (t *Txn) RemoteUpdate(c models.ContactID) (*models.MailboxUpdate, error) {
	if err := t.requireContact(c); err != nil {
		return nil, err
	}

	var vu versionedUpdate

	ok, err := getJSON(t.bucket(remoteUpdatesBucket), contactKey(c), &vu)
	if err != nil || !ok {
		return nil, err
	}

	return &vu.Update, nil
}

// AllUpdates returns the update pair of every contact.
func (t *Txn) AllUpdates() (map[models.ContactID]models.Updates, error) {
	ids, err := t.ContactIDs()
	if err != nil {
		return nil, err
	}

	all := make(map[models.ContactID]models.Updates, len(ids))

	for _, c := range ids {
		local, err := t.LocalUpdate(c)
		if err != nil {
			return nil, err
		}

		remote, err := t.RemoteUpdate(c)
		if err != nil {
			return nil, err
		}

		all[c] = models.Updates{Local: local, Remote: remote}
	}

	return all, nil
}

// setLocalUpdate replaces the update sent to c with a new version and
// queues it for delivery, dropping any older undelivered update.
func (t *Txn) setLocalUpdate(c models.ContactID, u models.MailboxUpdate) error {
	b := t.bucket(localUpdatesBucket)

	var vu versionedUpdate
	if _, err := getJSON(b, contactKey(c), &vu); err != nil {
		return err
	}

	vu.Version++
	vu.Update = u

	if err := putJSON(b, contactKey(c), vu); err != nil {
		return err
	}

	body, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encoding update: %w", err)
	}

	if err := t.dropMessages(c, KindUpdate); err != nil {
		return err
	}

	_, err = t.queueMessage(c, KindUpdate, body, vu.Version)

	return err
}

// ReceiveRemoteUpdate stores an update received from c. Updates not newer
// than the stored one are discarded and reported as not applied.
func (t *Txn) ReceiveRemoteUpdate(c models.ContactID, version uint64, u models.MailboxUpdate) (bool, error) {
	if err := t.requireContact(c); err != nil {
		return false, err
	}

	b := t.bucket(remoteUpdatesBucket)

	var old versionedUpdate

	ok, err := getJSON(b, contactKey(c), &old)
	if err != nil {
		return false, err
	}

	if ok && version <= old.Version {
		return false, nil
	}

	// A contact's mailbox is never ours to administer.
	if u.Properties != nil && u.Properties.Owner {
		p := *u.Properties
		p.Owner = false
		u.Properties = &p
	}

	if err := putJSON(b, contactKey(c), versionedUpdate{Version: version, Update: u}); err != nil {
		return false, err
	}

	// The contact may now be reachable by a different route, so anything
	// in flight over the old one is sent again.
	if err := t.ResetUnackedMessages(c); err != nil {
		return false, err
	}

	t.AttachEvent(events.RemoteMailboxUpdate{Contact: c, Update: u})

	return true, nil
}

// ReceiveRemoteUpdate runs Txn.ReceiveRemoteUpdate in its own transaction.
func (s *State) ReceiveRemoteUpdate(c models.ContactID, version uint64, u models.MailboxUpdate) (bool, error) {
	var applied bool

	err := s.Transaction(false, func(t *Txn) error {
		var err error
		applied, err = t.ReceiveRemoteUpdate(c, version, u)

		return err
	})

	return applied, err
}

// ContactForFolder finds the contact a downloaded file came from. Files
// on our own mailbox arrive in the outbox we gave the contact; files on a
// contact's mailbox arrive in the inbox the contact gave us.
func (t *Txn) ContactForFolder(folder models.FolderID) (models.ContactID, bool, error) {
	all, err := t.AllUpdates()
	if err != nil {
		return 0, false, err
	}

	for c, u := range all {
		if p := u.Local.Properties; p != nil && p.OutboxID == folder {
			return c, true, nil
		}

		if u.Remote != nil {
			if p := u.Remote.Properties; p != nil && p.InboxID == folder {
				return c, true, nil
			}
		}
	}

	return 0, false, nil
}
