// Package firestore implements the pipeline's store contracts on Cloud
// Firestore: point reads of containers and user profiles, the sender-name
// write-back, and equality-query scans for dead-token cleanup.
package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-fanout-service/pkg/store"
)

const (
	userCollection    = "users"
	messageCollection = "messages"

	tokenField      = "fcmToken"
	usernameField   = "username"
	senderNameField = "senderName"
	webSubField     = "webPushSubscription"
)

// Store reads and writes the app's Firestore documents. All mutation is
// field-level; the store never replaces whole documents.
type Store struct {
	client *firestore.Client
}

func NewStore(client *firestore.Client) *Store {
	return &Store{client: client}
}

// GetContainer returns the raw fields of a container document, or
// store.ErrNotFound when it does not exist.
func (s *Store) GetContainer(ctx context.Context, collection, id string) (map[string]any, error) {
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("container read failed: %w", err)
	}
	return snap.Data(), nil
}

// userRecord is the internal DB representation of the profile fields we read.
type userRecord struct {
	Username            string                     `firestore:"username"`
	FCMToken            string                     `firestore:"fcmToken"`
	WebPushSubscription *store.WebPushSubscription `firestore:"webPushSubscription"`
}

func (s *Store) GetUser(ctx context.Context, id string) (*store.User, error) {
	snap, err := s.client.Collection(userCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("user read failed: %w", err)
	}

	var rec userRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("user document %s is malformed: %w", id, err)
	}

	return &store.User{
		ID:              id,
		DisplayName:     rec.Username,
		PushToken:       rec.FCMToken,
		WebSubscription: rec.WebPushSubscription,
	}, nil
}

// SetSenderName overwrites the denormalized sender name on a message
// document. Partial update only; no other message fields are touched.
func (s *Store) SetSenderName(ctx context.Context, collection, containerID, messageID, name string) error {
	ref := s.client.Collection(collection).Doc(containerID).Collection(messageCollection).Doc(messageID)
	_, err := ref.Update(ctx, []firestore.Update{{Path: senderNameField, Value: name}})
	if err != nil {
		return fmt.Errorf("sender name update failed: %w", err)
	}
	return nil
}

// ClearPushToken deletes the token field on every user document whose stored
// token equals token. Normally that is one document, but the query does not
// assume uniqueness.
func (s *Store) ClearPushToken(ctx context.Context, token string) ([]string, error) {
	return s.clearField(ctx, tokenField, token, tokenField)
}

// ClearWebSubscription deletes the stored web subscription on every user
// whose subscription endpoint equals endpoint.
func (s *Store) ClearWebSubscription(ctx context.Context, endpoint string) ([]string, error) {
	return s.clearField(ctx, webSubField+".endpoint", endpoint, webSubField)
}

func (s *Store) clearField(ctx context.Context, queryPath, value, deletePath string) ([]string, error) {
	iter := s.client.Collection(userCollection).Where(queryPath, "==", value).Documents(ctx)
	defer iter.Stop()

	var cleared []string
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return cleared, fmt.Errorf("user query failed: %w", err)
		}
		_, err = doc.Ref.Update(ctx, []firestore.Update{{Path: deletePath, Value: firestore.Delete}})
		if err != nil {
			return cleared, fmt.Errorf("field delete failed for user %s: %w", doc.Ref.ID, err)
		}
		cleared = append(cleared, doc.Ref.ID)
	}
	return cleared, nil
}
