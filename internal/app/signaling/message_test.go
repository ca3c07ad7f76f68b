package signaling

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/LiveSession/internal/domain"
)

func TestEncodeWireShape(t *testing.T) {
	data, err := Encode(UserState{UID: 7, HasAudio: true})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "user-state", got["type"])
	assert.EqualValues(t, 7, got["uid"])
	assert.Equal(t, true, got["hasAudio"])
	assert.Equal(t, false, got["hasVideo"])

	data, err = Encode(Chat{UID: 1, SenderName: "Alice", Text: "hi"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"chat","uid":1,"senderName":"Alice","message":"hi"}`, string(data))

	data, err = Encode(UserInfo{UID: 3, Name: "Bob"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"user-info","uid":3,"userName":"Bob"}`, string(data))
}

func TestDecode(t *testing.T) {
	m, err := Decode([]byte(`{"type":"user-info","uid":42,"userName":"Alice"}`))
	require.NoError(t, err)
	assert.Equal(t, UserInfo{UID: 42, Name: "Alice"}, m)

	m, err = Decode([]byte(`{"type":"user-state","uid":42,"hasVideo":true}`))
	require.NoError(t, err)
	assert.Equal(t, UserState{UID: 42, HasVideo: true}, m)

	m, err = Decode([]byte(`{"type":"chat","uid":9,"senderName":"Eve","message":"yo"}`))
	require.NoError(t, err)
	assert.Equal(t, Chat{UID: 9, SenderName: "Eve", Text: "yo"}, m)
}

func TestDecodeUnknownTypeIsNotAParseError(t *testing.T) {
	_, err := Decode([]byte(`{"type":"reaction","uid":1,"emoji":"+1"}`))
	require.ErrorIs(t, err, ErrUnknownType)
	assert.False(t, errors.Is(err, domain.ErrSignalingParse))
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":     `{"type":`,
		"missing uid":  `{"type":"user-info","userName":"x"}`,
		"negative uid": `{"type":"user-state","uid":-1}`,
		"no name":      `{"type":"user-info","uid":1}`,
		"no text":      `{"type":"chat","uid":1,"senderName":"x"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(payload))
			require.ErrorIs(t, err, domain.ErrSignalingParse)
			assert.Equal(t, domain.KindSignalingParseError, domain.KindOf(err))
		})
	}
}
