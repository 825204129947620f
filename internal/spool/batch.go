// Package spool turns queued messages into batch files for upload, reads
// downloaded batch files back into the store, and imports outgoing
// messages dropped into a spool directory.
package spool

import (
	"errors"
	"fmt"
	"io"

	"github.com/alexjbarnes/mailbox-sync/internal/models"
	"github.com/alexjbarnes/mailbox-sync/internal/state"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// BatchFormat is the only batch layout this package reads and writes.
const BatchFormat = 1

const (
	// maxAcksPerBatch and maxMessagesPerBatch bound one batch file.
	maxAcksPerBatch     = 1000
	maxMessagesPerBatch = 100
)

// ErrMalformedBatch is returned for a batch file that cannot be decoded.
var ErrMalformedBatch = errors.New("malformed batch")

// Batch is the content of one file exchanged through a mailbox.
type Batch struct {
	Format   int                `cbor:"1,keyasint"`
	Acks     []models.MessageID `cbor:"2,keyasint,omitempty"`
	Messages []Record           `cbor:"3,keyasint,omitempty"`
}

// Record is one message inside a batch.
type Record struct {
	ID            models.MessageID  `cbor:"1,keyasint"`
	Kind          state.MessageKind `cbor:"2,keyasint"`
	Body          []byte            `cbor:"3,keyasint"`
	UpdateVersion uint64            `cbor:"4,keyasint,omitempty"`
}

// Empty reports whether the batch carries nothing.
func (b Batch) Empty() bool {
	return len(b.Acks) == 0 && len(b.Messages) == 0
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor enc mode: %v", err))
	}

	decMode, err = cbor.DecOptions{
		MaxArrayElements: maxAcksPerBatch + maxMessagesPerBatch,
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cbor dec mode: %v", err))
	}
}

// EncodeBatch writes b to w.
func EncodeBatch(w io.Writer, b Batch) error {
	b.Format = BatchFormat

	if err := encMode.NewEncoder(w).Encode(b); err != nil {
		return fmt.Errorf("encoding batch: %w", err)
	}

	return nil
}

// DecodeBatch reads and validates one batch from r.
func DecodeBatch(r io.Reader) (Batch, error) {
	var b Batch

	if err := decMode.NewDecoder(r).Decode(&b); err != nil {
		return Batch{}, fmt.Errorf("%w: %w", ErrMalformedBatch, err)
	}

	if b.Format != BatchFormat {
		return Batch{}, fmt.Errorf("%w: unsupported format %d", ErrMalformedBatch, b.Format)
	}

	for _, id := range b.Acks {
		if !validMessageID(id) {
			return Batch{}, fmt.Errorf("%w: invalid ack id %q", ErrMalformedBatch, id)
		}
	}

	for _, m := range b.Messages {
		if !validMessageID(m.ID) {
			return Batch{}, fmt.Errorf("%w: invalid message id %q", ErrMalformedBatch, m.ID)
		}

		if m.Kind != state.KindData && m.Kind != state.KindUpdate {
			return Batch{}, fmt.Errorf("%w: unknown record kind %d", ErrMalformedBatch, m.Kind)
		}
	}

	return b, nil
}

// validMessageID accepts the uuid ids the store assigns. Ids become inbox
// file names, so anything else is rejected.
func validMessageID(id models.MessageID) bool {
	_, err := uuid.Parse(string(id))
	return err == nil && len(id) == 36
}
