package fanout

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
)

// Kind identifies one of the five trigger paths the service subscribes to.
type Kind string

const (
	KindTag   Kind = "tag"
	KindChat  Kind = "chat"
	KindClub  Kind = "club"
	KindGroup Kind = "group"
	KindForum Kind = "forum"
)

const (
	defaultTagTitle  = "New Tag"
	emptyMessageBody = "sent a message"
)

// Route binds one document path to its recipient-resolution rule and payload
// template. The five routes form a closed set; everything else about the
// pipeline is shared.
type Route struct {
	Kind          Kind
	Collection    string // container collection the created document lives under
	Subcollection string // collection of the created document itself
	ContainerKey  string // data-payload key for the container id
	HasSender     bool   // message routes exclude the sender and resolve a display name

	// Recipients extracts the recipient user ids from the container document.
	Recipients func(doc map[string]any) []string

	// Payload builds the notification content for the event. senderName is
	// empty on routes without a sender.
	Payload func(ev *Event, senderName string) dispatch.Payload
}

// Event is one Firestore document creation, already matched to its route.
type Event struct {
	Route       *Route
	ContainerID string
	DocumentID  string
	Fields      map[string]any
}

// SenderID returns the sender recorded on the created document, or "" for
// routes without one.
func (ev *Event) SenderID() string {
	if !ev.Route.HasSender {
		return ""
	}
	return stringField(ev.Fields, "senderId")
}

var routes = []*Route{
	{
		Kind:          KindTag,
		Collection:    "clubs",
		Subcollection: "tagNotifications",
		ContainerKey:  "communityId",
		Recipients:    memberMapKeys,
		Payload: func(ev *Event, _ string) dispatch.Payload {
			title := stringField(ev.Fields, "title")
			if title == "" {
				title = defaultTagTitle
			}
			return dispatch.Payload{
				Title: title,
				Body:  stringField(ev.Fields, "message"),
				Data: map[string]string{
					"communityId": ev.ContainerID,
					"tagId":       ev.DocumentID,
				},
			}
		},
	},
	{
		Kind:          KindChat,
		Collection:    "chats",
		Subcollection: "messages",
		ContainerKey:  "chatId",
		HasSender:     true,
		Recipients:    participantList,
		Payload:       messagePayload,
	},
	{
		Kind:          KindClub,
		Collection:    "clubs",
		Subcollection: "messages",
		ContainerKey:  "clubId",
		HasSender:     true,
		Recipients:    memberMapKeys,
		Payload:       messagePayload,
	},
	{
		Kind:          KindGroup,
		Collection:    "interestGroups",
		Subcollection: "messages",
		ContainerKey:  "interestGroupId",
		HasSender:     true,
		Recipients:    memberMapKeys,
		Payload:       messagePayload,
	},
	{
		Kind:          KindForum,
		Collection:    "openForums",
		Subcollection: "messages",
		ContainerKey:  "openForumId",
		HasSender:     true,
		Recipients:    participantOrMemberMapKeys,
		Payload:       messagePayload,
	},
}

// Routes returns the closed set of trigger routes.
func Routes() []*Route {
	return routes
}

// MatchDocumentPath resolves a created-document path such as
// "clubs/c1/messages/m1" against the route table and returns the decoded
// event. Paths that do not belong to any route are an error; the caller is
// expected to skip them.
func MatchDocumentPath(path string, fields map[string]any) (*Event, error) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) != 4 {
		return nil, fmt.Errorf("document path %q is not a container sub-document", path)
	}
	for _, r := range routes {
		if segments[0] == r.Collection && segments[2] == r.Subcollection {
			return &Event{
				Route:       r,
				ContainerID: segments[1],
				DocumentID:  segments[3],
				Fields:      fields,
			}, nil
		}
	}
	return nil, fmt.Errorf("no route for document path %q", path)
}

// messagePayload is the template shared by all four message routes: the
// sender's display name as the title and a bounded preview as the body.
func messagePayload(ev *Event, senderName string) dispatch.Payload {
	body := Preview(stringField(ev.Fields, "text"))
	return dispatch.Payload{
		Title: senderName,
		Body:  body,
		Data:  map[string]string{ev.Route.ContainerKey: ev.ContainerID},
	}
}

// memberMapKeys reads the "members" map and returns its keys sorted, so that
// downstream token order is deterministic.
func memberMapKeys(doc map[string]any) []string {
	return sortedMapKeys(doc, "members")
}

// participantList reads the "participants" array, preserving its stored
// order.
func participantList(doc map[string]any) []string {
	raw, _ := doc["participants"].([]any)
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if id, ok := v.(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// participantOrMemberMapKeys tries the "participants" map first and falls
// back to "members" only when no participants map is stored at all. A present
// but empty participants map yields an empty result.
func participantOrMemberMapKeys(doc map[string]any) []string {
	if _, ok := doc["participants"].(map[string]any); ok {
		return sortedMapKeys(doc, "participants")
	}
	return sortedMapKeys(doc, "members")
}

func sortedMapKeys(doc map[string]any, field string) []string {
	m, _ := doc[field].(map[string]any)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}
