// Package store contains the document-store contracts the fan-out pipeline
// reads containers and user profiles through, and the narrow write surface it
// uses for sender-name denormalization and dead-token cleanup.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned for point reads of documents that do not exist.
var ErrNotFound = errors.New("document not found")

// WebPushSubscription is a browser push subscription stored on a user
// profile by the web build of the app.
type WebPushSubscription struct {
	Endpoint string `json:"endpoint" firestore:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh" firestore:"p256dh"`
		Auth   string `json:"auth" firestore:"auth"`
	} `json:"keys" firestore:"keys"`
}

// User is the subset of a user profile the pipeline reads. PushToken is empty
// when the user has no registered mobile device; WebSubscription is nil when
// no browser is registered.
type User struct {
	ID              string
	DisplayName     string
	PushToken       string
	WebSubscription *WebPushSubscription
}

// ContainerReader reads container documents (clubs, chats, interest groups,
// open forums) as raw field maps. The recipient-resolution rule of each route
// decides which fields matter.
type ContainerReader interface {
	// GetContainer returns ErrNotFound when the container document is absent.
	GetContainer(ctx context.Context, collection, id string) (map[string]any, error)
}

// UserReader performs point reads of user profiles.
type UserReader interface {
	// GetUser returns ErrNotFound when the profile document is absent.
	GetUser(ctx context.Context, id string) (*User, error)
}

// MessageUpdater writes the resolved sender display name back onto a message
// document. This is a best-effort cache fill; callers treat failure as
// non-fatal.
type MessageUpdater interface {
	SetSenderName(ctx context.Context, collection, containerID, messageID, name string) error
}

// TokenScrubber removes dead delivery targets from every matching profile.
// Matching is by value equality, not by user id: a token is normally stored
// on exactly one profile, but the store does not assume uniqueness.
type TokenScrubber interface {
	// ClearPushToken deletes the push token field on every user whose stored
	// token equals token, returning the affected user ids.
	ClearPushToken(ctx context.Context, token string) ([]string, error)

	// ClearWebSubscription deletes the web subscription on every user whose
	// stored endpoint equals endpoint, returning the affected user ids.
	ClearWebSubscription(ctx context.Context, endpoint string) ([]string, error)
}
