// Package events defines the domain events exchanged between the store,
// the endpoint monitor and the mailbox clients, and the bus that delivers
// them.
package events

import "github.com/alexjbarnes/mailbox-sync/internal/models"

// Event is a domain event. Implementations are immutable values.
type Event interface {
	eventName() string
}

// Name returns a short name for logging.
func Name(e Event) string {
	return e.eventName()
}

// EndpointActive is raised when our own anonymity network endpoint comes up.
type EndpointActive struct{}

// EndpointInactive is raised when our own endpoint goes down.
type EndpointInactive struct{}

// MailboxPaired is raised after our own mailbox has been paired.
// LocalUpdates holds the update now sent to each contact.
type MailboxPaired struct {
	Properties   models.MailboxProperties
	LocalUpdates map[models.ContactID]models.MailboxUpdate
}

// MailboxUnpaired is raised after our own mailbox has been unpaired.
type MailboxUnpaired struct {
	LocalUpdates map[models.ContactID]models.MailboxUpdate
}

// ContactAdded is raised when a contact is added to the store.
type ContactAdded struct {
	Contact models.ContactID
}

// ContactRemoved is raised when a contact is removed from the store.
type ContactRemoved struct {
	Contact models.ContactID
}

// MailboxUpdateSentToNewContact carries the first local update for a
// newly added contact.
type MailboxUpdateSentToNewContact struct {
	Contact models.ContactID
	Update  models.MailboxUpdate
}

// RemoteMailboxUpdate is raised when a newer update arrives from a contact.
type RemoteMailboxUpdate struct {
	Contact models.ContactID
	Update  models.MailboxUpdate
}

// OwnMailboxConnectionStatus is raised after every connection attempt to
// our own mailbox.
type OwnMailboxConnectionStatus struct {
	Status models.MailboxStatus
}

// MessageToAck is raised when a received message needs acknowledging.
type MessageToAck struct {
	Contact models.ContactID
}

// MessageShared is raised when a message becomes visible to contacts.
// Visibility maps each contact to whether the message is shared with it.
type MessageShared struct {
	Message    models.MessageID
	Visibility map[models.ContactID]bool
}

// GroupVisibilityUpdated is raised when a group changes visibility for a
// set of contacts.
type GroupVisibilityUpdated struct {
	Shared   bool
	Contacts []models.ContactID
}

// ContactConnected is raised when a direct connection to a contact opens.
type ContactConnected struct {
	Contact models.ContactID
}

// ContactDisconnected is raised when the last direct connection closes.
type ContactDisconnected struct {
	Contact models.ContactID
}

func (EndpointActive) eventName() string                { return "endpoint_active" }
func (EndpointInactive) eventName() string              { return "endpoint_inactive" }
func (MailboxPaired) eventName() string                 { return "mailbox_paired" }
func (MailboxUnpaired) eventName() string               { return "mailbox_unpaired" }
func (ContactAdded) eventName() string                  { return "contact_added" }
func (ContactRemoved) eventName() string                { return "contact_removed" }
func (MailboxUpdateSentToNewContact) eventName() string { return "mailbox_update_sent_to_new_contact" }
func (RemoteMailboxUpdate) eventName() string           { return "remote_mailbox_update" }
func (OwnMailboxConnectionStatus) eventName() string    { return "own_mailbox_connection_status" }
func (MessageToAck) eventName() string                  { return "message_to_ack" }
func (MessageShared) eventName() string                 { return "message_shared" }
func (GroupVisibilityUpdated) eventName() string        { return "group_visibility_updated" }
func (ContactConnected) eventName() string              { return "contact_connected" }
func (ContactDisconnected) eventName() string           { return "contact_disconnected" }
