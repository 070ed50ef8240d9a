// Package events publishes user aggregate changes after they commit.
package events

import (
	"context"
	"encoding/json"
	"time"
)

// Type names the change that happened to a user aggregate
type Type string

const (
	UserCreated     Type = "user.created"
	UserReplaced    Type = "user.replaced"
	UserUpdated     Type = "user.updated"
	UserDeleted     Type = "user.deleted"
	UserRoleAdded   Type = "user.role_added"
	UserRoleRemoved Type = "user.role_removed"
)

// Event is the JSON message published for each committed change
type Event struct {
	Type   Type      `json:"type"`
	UserID uint      `json:"userid"`
	RoleID uint      `json:"roleid,omitempty"`
	At     time.Time `json:"at"`
}

// New stamps an event with the current time
func New(t Type, userID uint) Event {
	return Event{Type: t, UserID: userID, At: time.Now().UTC()}
}

// WithRole sets the role the event refers to
func (e Event) WithRole(roleID uint) Event {
	e.RoleID = roleID
	return e
}

// Encode serializes the event
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers events to interested parties
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Subscriber yields raw event payloads until ctx is done or the returned cancel func is called
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan []byte, func(), error)
}

// NopPublisher drops every event. Used when redis is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
