package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/alexjbarnes/mailbox-sync/internal/events"
	"github.com/alexjbarnes/mailbox-sync/internal/models"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// NeverSend is returned by NextSendTime when nothing is queued.
const NeverSend int64 = math.MaxInt64

// MessageKind distinguishes application data from protocol records.
type MessageKind uint8

const (
	// KindData is an application message.
	KindData MessageKind = iota + 1
	// KindUpdate carries one of our mailbox updates.
	KindUpdate
)

// OutgoingMessage is a message queued for a contact until it is acked.
type OutgoingMessage struct {
	ID            models.MessageID `json:"id"`
	Contact       models.ContactID `json:"contact"`
	Kind          MessageKind      `json:"kind"`
	Body          []byte           `json:"body"`
	UpdateVersion uint64           `json:"update_version,omitempty"`
	// SendAt is when the message may next be sent, in unix milliseconds.
	// Zero means now.
	SendAt int64 `json:"send_at"`
	Sends  int   `json:"sends"`
}

func messageKey(c models.ContactID, id models.MessageID) []byte {
	return append(contactKey(c), []byte(id)...)
}

func deletePrefix(b *bolt.Bucket, prefix []byte) error {
	var keys [][]byte

	cur := b.Cursor()
	for k, _ := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cur.Next() {
		keys = append(keys, bytes.Clone(k))
	}

	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}

	return nil
}

func (t *Txn) forEachMessage(c models.ContactID, fn func(OutgoingMessage) error) error {
	prefix := contactKey(c)

	cur := t.bucket(outgoingBucket).Cursor()
	for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
		var m OutgoingMessage
		if err := json.Unmarshal(v, &m); err != nil {
			return fmt.Errorf("decoding message: %w", err)
		}

		if err := fn(m); err != nil {
			return err
		}
	}

	return nil
}

func (t *Txn) queueMessage(c models.ContactID, kind MessageKind, body []byte, updateVersion uint64) (models.MessageID, error) {
	m := OutgoingMessage{
		ID:            models.MessageID(uuid.NewString()),
		Contact:       c,
		Kind:          kind,
		Body:          body,
		UpdateVersion: updateVersion,
	}

	if err := putJSON(t.bucket(outgoingBucket), messageKey(c, m.ID), m); err != nil {
		return "", err
	}

	return m.ID, nil
}

func (t *Txn) dropMessages(c models.ContactID, kind MessageKind) error {
	var ids []models.MessageID

	err := t.forEachMessage(c, func(m OutgoingMessage) error {
		if m.Kind == kind {
			ids = append(ids, m.ID)
		}

		return nil
	})
	if err != nil {
		return err
	}

	for _, id := range ids {
		if err := t.bucket(outgoingBucket).Delete(messageKey(c, id)); err != nil {
			return err
		}
	}

	return nil
}

// AddOutgoing queues an application message for c and announces it.
func (t *Txn) AddOutgoing(c models.ContactID, body []byte) (models.MessageID, error) {
	if err := t.requireContact(c); err != nil {
		return "", err
	}

	id, err := t.queueMessage(c, KindData, body, 0)
	if err != nil {
		return "", err
	}

	t.AttachEvent(events.MessageShared{Message: id, Visibility: map[models.ContactID]bool{c: true}})

	return id, nil
}

// AddAckToSend records that a message received from c must be acked.
func (t *Txn) AddAckToSend(c models.ContactID, id models.MessageID) error {
	if err := t.requireContact(c); err != nil {
		return err
	}

	if err := t.bucket(acksBucket).Put(messageKey(c, id), []byte{1}); err != nil {
		return err
	}

	t.AttachEvent(events.MessageToAck{Contact: c})

	return nil
}

// ContainsAcksToSend reports whether any acks are waiting for c.
func (t *Txn) ContainsAcksToSend(c models.ContactID) bool {
	prefix := contactKey(c)
	k, _ := t.bucket(acksBucket).Cursor().Seek(prefix)

	return k != nil && bytes.HasPrefix(k, prefix)
}

// AcksToSend returns up to limit message ids waiting to be acked to c.
func (t *Txn) AcksToSend(c models.ContactID, limit int) []models.MessageID {
	prefix := contactKey(c)

	var ids []models.MessageID

	cur := t.bucket(acksBucket).Cursor()
	for k, _ := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix) && len(ids) < limit; k, _ = cur.Next() {
		ids = append(ids, models.MessageID(k[len(prefix):]))
	}

	return ids
}

// NextSendTime returns the earliest time, in unix milliseconds, at which a
// message for c becomes sendable, or NeverSend if none is queued.
func (t *Txn) NextSendTime(c models.ContactID) (int64, error) {
	next := NeverSend

	err := t.forEachMessage(c, func(m OutgoingMessage) error {
		next = min(next, m.SendAt)
		return nil
	})

	return next, err
}

// SendableMessages returns up to limit messages for c with SendAt due.
func (t *Txn) SendableMessages(c models.ContactID, limit int) ([]OutgoingMessage, error) {
	now := nowMillis(t.now)

	var msgs []OutgoingMessage

	err := t.forEachMessage(c, func(m OutgoingMessage) error {
		if len(msgs) < limit && m.SendAt <= now {
			msgs = append(msgs, m)
		}

		return nil
	})

	return msgs, err
}

// SetAckSent removes acks that have been delivered.
func (t *Txn) SetAckSent(c models.ContactID, ids []models.MessageID) error {
	for _, id := range ids {
		if err := t.bucket(acksBucket).Delete(messageKey(c, id)); err != nil {
			return err
		}
	}

	return nil
}

// SetMessagesSent defers retransmission of sent messages by maxLatency.
func (t *Txn) SetMessagesSent(c models.ContactID, ids []models.MessageID, maxLatency time.Duration) error {
	b := t.bucket(outgoingBucket)

	for _, id := range ids {
		var m OutgoingMessage

		ok, err := getJSON(b, messageKey(c, id), &m)
		if err != nil {
			return err
		}

		if !ok {
			continue
		}

		m.Sends++
		m.SendAt = nowMillis(t.now.Add(maxLatency))

		if err := putJSON(b, messageKey(c, id), m); err != nil {
			return err
		}
	}

	return nil
}

// MarkAcked removes messages the contact has acknowledged.
func (t *Txn) MarkAcked(c models.ContactID, ids []models.MessageID) error {
	for _, id := range ids {
		if err := t.bucket(outgoingBucket).Delete(messageKey(c, id)); err != nil {
			return err
		}
	}

	return nil
}

// ResetUnackedMessages makes every queued message for c sendable now.
func (t *Txn) ResetUnackedMessages(c models.ContactID) error {
	var reset []OutgoingMessage

	err := t.forEachMessage(c, func(m OutgoingMessage) error {
		if m.SendAt != 0 {
			m.SendAt = 0
			reset = append(reset, m)
		}

		return nil
	})
	if err != nil {
		return err
	}

	for _, m := range reset {
		if err := putJSON(t.bucket(outgoingBucket), messageKey(c, m.ID), m); err != nil {
			return err
		}
	}

	return nil
}

// AddOutgoing runs Txn.AddOutgoing in its own transaction.
func (s *State) AddOutgoing(c models.ContactID, body []byte) (models.MessageID, error) {
	var id models.MessageID

	err := s.Transaction(false, func(t *Txn) error {
		var err error
		id, err = t.AddOutgoing(c, body)

		return err
	})

	return id, err
}
