package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeChatsNormalizesMessages(t *testing.T) {
	raw := []byte(`{"data": [
	  {"_id": "a", "participant": {"name": "Rina"}, "status": "Open", "messages": [
	    {"sender": "user", "text": "second", "timestamp": "2024-05-01T10:05:00Z"},
	    {"sender": "admin", "message": "first", "createdAt": "2024-05-01T10:00:00Z", "read": true},
	    {"from": "visitor", "content": "third", "timestamp": "2024-05-01T10:09:00Z", "isRead": true}
	  ]},
	  {"_id": "b", "status": "resolved", "messages": [], "updatedAt": "2024-05-02T08:00:00Z"}
	]}`)

	chats, err := decodeChats(raw)
	require.NoError(t, err)
	require.Len(t, chats, 2)

	// b has the newer activity so it comes first.
	assert.Equal(t, "b", chats[0].ID)
	assert.Equal(t, "Visitor", chats[0].Participant)
	assert.Equal(t, time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC), chats[0].LastMessageAt)

	a := chats[1]
	assert.Equal(t, "Rina", a.Participant)
	assert.Equal(t, StatusOpen, a.Status)
	require.Len(t, a.Messages, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{a.Messages[0].Text, a.Messages[1].Text, a.Messages[2].Text})
	assert.Equal(t, SenderStaff, a.Messages[0].Sender)
	assert.Equal(t, SenderVisitor, a.Messages[1].Sender)
	assert.Equal(t, a.Messages[2].Timestamp, a.LastMessageAt)
	assert.Equal(t, 1, a.Unread)
}

func TestDecodeChatsAcceptsBareArray(t *testing.T) {
	chats, err := decodeChats([]byte(`[{"id": "x"}]`))
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, StatusOpen, chats[0].Status)
	assert.Empty(t, chats[0].Messages)
}
