package fanout_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-fanout-service/internal/fanout"
)

func TestMatchDocumentPath(t *testing.T) {
	testCases := []struct {
		name          string
		path          string
		expectKind    fanout.Kind
		expectNoMatch bool
	}{
		{name: "Tag notification", path: "clubs/c1/tagNotifications/t1", expectKind: fanout.KindTag},
		{name: "Direct chat message", path: "chats/ch1/messages/m1", expectKind: fanout.KindChat},
		{name: "Club chat message", path: "clubs/c1/messages/m1", expectKind: fanout.KindClub},
		{name: "Interest group message", path: "interestGroups/g1/messages/m1", expectKind: fanout.KindGroup},
		{name: "Open forum message", path: "openForums/f1/messages/m1", expectKind: fanout.KindForum},
		{name: "Unknown collection", path: "projects/p1/messages/m1", expectNoMatch: true},
		{name: "Unknown subcollection", path: "clubs/c1/likes/l1", expectNoMatch: true},
		{name: "Top-level document", path: "clubs/c1", expectNoMatch: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := fanout.MatchDocumentPath(tc.path, map[string]any{"x": "y"})
			if tc.expectNoMatch {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectKind, ev.Route.Kind)
		})
	}

	t.Run("Path parameters are extracted", func(t *testing.T) {
		ev, err := fanout.MatchDocumentPath("chats/chat-42/messages/msg-7", nil)
		require.NoError(t, err)
		assert.Equal(t, "chat-42", ev.ContainerID)
		assert.Equal(t, "msg-7", ev.DocumentID)
	})
}

func TestRecipientResolution(t *testing.T) {
	findRoute := func(t *testing.T, kind fanout.Kind) *fanout.Route {
		t.Helper()
		for _, r := range fanout.Routes() {
			if r.Kind == kind {
				return r
			}
		}
		t.Fatalf("no route for kind %s", kind)
		return nil
	}

	t.Run("Members map keys are sorted", func(t *testing.T) {
		route := findRoute(t, fanout.KindClub)
		doc := map[string]any{"members": map[string]any{
			"zara": map[string]any{"role": "admin"},
			"abel": true,
			"mike": true,
		}}
		assert.Equal(t, []string{"abel", "mike", "zara"}, route.Recipients(doc))
	})

	t.Run("Missing members field yields empty set", func(t *testing.T) {
		route := findRoute(t, fanout.KindTag)
		assert.Empty(t, route.Recipients(map[string]any{}))
	})

	t.Run("Chat participants keep stored order", func(t *testing.T) {
		route := findRoute(t, fanout.KindChat)
		doc := map[string]any{"participants": []any{"zara", "abel"}}
		assert.Equal(t, []string{"zara", "abel"}, route.Recipients(doc))
	})

	t.Run("Forum prefers participants map", func(t *testing.T) {
		route := findRoute(t, fanout.KindForum)
		doc := map[string]any{
			"participants": map[string]any{"p1": true},
			"members":      map[string]any{"m1": true},
		}
		assert.Equal(t, []string{"p1"}, route.Recipients(doc))
	})

	t.Run("Forum falls back to members when participants absent", func(t *testing.T) {
		route := findRoute(t, fanout.KindForum)
		doc := map[string]any{"members": map[string]any{"m1": true, "m2": true}}
		assert.Equal(t, []string{"m1", "m2"}, route.Recipients(doc))
	})

	t.Run("Forum with empty participants map notifies nobody", func(t *testing.T) {
		route := findRoute(t, fanout.KindForum)
		doc := map[string]any{
			"participants": map[string]any{},
			"members":      map[string]any{"m1": true},
		}
		assert.Empty(t, route.Recipients(doc))
	})
}

func TestPayloadTemplates(t *testing.T) {
	t.Run("Tag uses title and message fields", func(t *testing.T) {
		ev, err := fanout.MatchDocumentPath("clubs/community-1/tagNotifications/tag-1", map[string]any{
			"title":   "Sale",
			"message": "50% off",
		})
		require.NoError(t, err)

		p := ev.Route.Payload(ev, "")
		assert.Equal(t, "Sale", p.Title)
		assert.Equal(t, "50% off", p.Body)
		assert.Equal(t, map[string]string{"communityId": "community-1", "tagId": "tag-1"}, p.Data)
	})

	t.Run("Tag defaults apply when fields missing", func(t *testing.T) {
		ev, err := fanout.MatchDocumentPath("clubs/c1/tagNotifications/t1", map[string]any{"other": 1})
		require.NoError(t, err)

		p := ev.Route.Payload(ev, "")
		assert.Equal(t, "New Tag", p.Title)
		assert.Empty(t, p.Body)
	})

	t.Run("Message routes title with sender and preview body", func(t *testing.T) {
		ev, err := fanout.MatchDocumentPath("interestGroups/g1/messages/m1", map[string]any{
			"senderId": "u1",
			"text":     "see you at the meetup tonight",
		})
		require.NoError(t, err)

		p := ev.Route.Payload(ev, "Maya")
		assert.Equal(t, "Maya", p.Title)
		assert.Equal(t, "see you at the meetup tonight", p.Body)
		assert.Equal(t, map[string]string{"interestGroupId": "g1"}, p.Data)
	})

	t.Run("Each message route carries its own container key", func(t *testing.T) {
		expected := map[string]string{
			"chats/c/messages/m":          "chatId",
			"clubs/c/messages/m":          "clubId",
			"interestGroups/c/messages/m": "interestGroupId",
			"openForums/c/messages/m":     "openForumId",
		}
		for path, key := range expected {
			ev, err := fanout.MatchDocumentPath(path, nil)
			require.NoError(t, err)
			p := ev.Route.Payload(ev, "x")
			assert.Contains(t, p.Data, key, "path %s", path)
		}
	})
}
