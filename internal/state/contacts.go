package state

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	mberrors "github.com/alexjbarnes/mailbox-sync/internal/errors"
	"github.com/alexjbarnes/mailbox-sync/internal/events"
	"github.com/alexjbarnes/mailbox-sync/internal/models"
	"golang.org/x/text/unicode/norm"
)

// Contact is a stored contact.
type Contact struct {
	ID    models.ContactID `json:"id"`
	Name  string           `json:"name"`
	Added int64            `json:"added"`
}

func contactKey(c models.ContactID) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(c))

	return k[:]
}

// Contacts returns every contact ordered by id.
func (t *Txn) Contacts() ([]Contact, error) {
	var contacts []Contact

	err := t.bucket(contactsBucket).ForEach(func(k, v []byte) error {
		var c Contact
		if err := json.Unmarshal(v, &c); err != nil {
			return fmt.Errorf("decoding contact: %w", err)
		}

		contacts = append(contacts, c)

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(contacts, func(i, j int) bool { return contacts[i].ID < contacts[j].ID })

	return contacts, nil
}

// ContactIDs returns the id of every contact in ascending order.
func (t *Txn) ContactIDs() ([]models.ContactID, error) {
	contacts, err := t.Contacts()
	if err != nil {
		return nil, err
	}

	ids := make([]models.ContactID, 0, len(contacts))
	for _, c := range contacts {
		ids = append(ids, c.ID)
	}

	return ids, nil
}

// ContainsContact reports whether c exists.
func (t *Txn) ContainsContact(c models.ContactID) bool {
	return t.bucket(contactsBucket).Get(contactKey(c)) != nil
}

func (t *Txn) requireContact(c models.ContactID) error {
	if !t.ContainsContact(c) {
		return fmt.Errorf("contact %d: %w", c, mberrors.ErrNoSuchContact)
	}

	return nil
}

// AddContact stores a new contact and sends it our first mailbox update,
// carrying fresh mailbox credentials when our own mailbox is paired.
func (t *Txn) AddContact(name string) (models.ContactID, error) {
	meta := t.bucket(metaBucket)

	var next models.ContactID = 1
	if _, err := getJSON(meta, nextContactKey, &next); err != nil {
		return 0, err
	}

	if err := putJSON(meta, nextContactKey, next+1); err != nil {
		return 0, err
	}

	// Names arrive from the control API in whatever form the client
	// typed them; store the composed form so equal names compare equal.
	c := Contact{ID: next, Name: norm.NFC.String(strings.TrimSpace(name)), Added: nowMillis(t.now)}
	if err := putJSON(t.bucket(contactsBucket), contactKey(c.ID), c); err != nil {
		return 0, err
	}

	own, err := t.OwnProperties()
	if err != nil {
		return 0, err
	}

	update := models.MailboxUpdate{ClientSupports: models.ClientSupports}
	if own != nil {
		update.Properties = newContactProperties(*own)
	}

	if err := t.setLocalUpdate(c.ID, update); err != nil {
		return 0, err
	}

	t.AttachEvent(events.ContactAdded{Contact: c.ID})
	t.AttachEvent(events.MailboxUpdateSentToNewContact{Contact: c.ID, Update: update})

	return c.ID, nil
}

// RemoveContact deletes a contact with its updates and queued messages.
func (t *Txn) RemoveContact(c models.ContactID) error {
	if err := t.requireContact(c); err != nil {
		return err
	}

	if err := t.bucket(contactsBucket).Delete(contactKey(c)); err != nil {
		return err
	}

	if err := t.bucket(localUpdatesBucket).Delete(contactKey(c)); err != nil {
		return err
	}

	if err := t.bucket(remoteUpdatesBucket).Delete(contactKey(c)); err != nil {
		return err
	}

	if err := deletePrefix(t.bucket(outgoingBucket), contactKey(c)); err != nil {
		return err
	}

	if err := deletePrefix(t.bucket(acksBucket), contactKey(c)); err != nil {
		return err
	}

	t.AttachEvent(events.ContactRemoved{Contact: c})

	return nil
}

// newContactProperties derives the credentials a contact uses to reach
// our own mailbox.
func newContactProperties(own models.MailboxProperties) *models.MailboxProperties {
	return &models.MailboxProperties{
		Owner:          false,
		OnionAddress:   own.OnionAddress,
		AuthToken:      models.NewRandomID(),
		ServerSupports: own.ServerSupports,
		InboxID:        models.FolderID(models.NewRandomID()),
		OutboxID:       models.FolderID(models.NewRandomID()),
	}
}

// AddContact is a convenience wrapper running Txn.AddContact in its own
// transaction.
func (s *State) AddContact(name string) (models.ContactID, error) {
	var id models.ContactID

	err := s.Transaction(false, func(t *Txn) error {
		var err error
		id, err = t.AddContact(name)

		return err
	})

	return id, err
}

// RemoveContact runs Txn.RemoveContact in its own transaction.
func (s *State) RemoveContact(c models.ContactID) error {
	return s.Transaction(false, func(t *Txn) error {
		return t.RemoveContact(c)
	})
}

// Contacts returns every contact.
func (s *State) Contacts() ([]Contact, error) {
	var contacts []Contact

	err := s.Transaction(true, func(t *Txn) error {
		var err error
		contacts, err = t.Contacts()

		return err
	})

	return contacts, err
}
