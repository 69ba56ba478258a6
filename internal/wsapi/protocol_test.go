package wsapi

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboundMessageUnmarshalsChatFrame(t *testing.T) {
	raw := `{"type":"chat","apiKey":"k1","model":"m1","stream":true,"requestId":"r1","messages":[{"role":"user","content":"hi"}]}`

	var in inboundMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &in))

	assert.Equal(t, typeChat, in.Type)
	assert.Equal(t, "k1", in.APIKey)
	assert.Equal(t, "m1", in.Model)
	assert.True(t, in.Stream)
	assert.Equal(t, "r1", in.RequestID)
	require.Len(t, in.Messages, 1)
	assert.Equal(t, "user", in.Messages[0].Role)
	assert.Equal(t, "hi", in.Messages[0].Content)
}

func TestOutboundMessagesMarshalWithExpectedType(t *testing.T) {
	cases := []struct {
		name string
		v    any
		want string
	}{
		{"authOK", authOKMessage{Type: typeAuthOK, Tier: "free", Role: "user"}, typeAuthOK},
		{"error", errorMessage{Type: typeError, Code: "bad_request", Message: "nope"}, typeError},
		{"chatStart", chatStartMessage{Type: typeChatStart, RequestID: "r1"}, typeChatStart},
		{"chatDelta", chatDeltaMessage{Type: typeChatDelta, RequestID: "r1", Delta: "hi "}, typeChatDelta},
		{"chatComplete", chatCompleteMessage{Type: typeChatComplete, RequestID: "r1"}, typeChatComplete},
		{"pong", pongMessage{Type: typePong}, typePong},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, err := json.Marshal(tc.v)
			require.NoError(t, err)

			var decoded map[string]any
			require.NoError(t, json.Unmarshal(body, &decoded))
			assert.Equal(t, tc.want, decoded["type"])
		})
	}
}
