package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindNone},
		{fmt.Errorf("join: %w", ErrIdentityConflict), KindIdentityConflict},
		{fmt.Errorf("open mic: %w", ErrPermissionDenied), KindPermissionDenied},
		{fmt.Errorf("%w: %w", ErrTransportFailure, ErrDeviceUnavailable), KindDeviceUnavailable},
		{ErrConflictingSource, KindConflictingSource},
		{ErrSignalingParse, KindSignalingParseError},
		{ErrInvalidState, KindInvalidState},
		{ErrInvalidInput, KindInvalidInput},
		{errors.New("socket reset"), KindTransportFailure},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, KindOf(tc.err), "%v", tc.err)
	}
}

func TestIdentityValidate(t *testing.T) {
	ok := Identity{Channel: "c", Token: "t", UID: 1, DisplayName: "Ann"}
	require.NoError(t, ok.Validate())

	err := Identity{}.Validate()
	require.ErrorIs(t, err, ErrChannelEmpty)
	require.ErrorIs(t, err, ErrTokenEmpty)
	require.ErrorIs(t, err, ErrUIDZero)
	require.ErrorIs(t, err, ErrDisplayNameEmpty)

	long := ok
	long.DisplayName = strings.Repeat("x", 500)
	require.NoError(t, long.Validate())
}

func TestConnectionStateText(t *testing.T) {
	for s := StateIdle; s <= StateError; s++ {
		b, err := json.Marshal(s)
		require.NoError(t, err)
		var back ConnectionState
		require.NoError(t, json.Unmarshal(b, &back))
		require.Equal(t, s, back)
	}
	var s ConnectionState
	require.Error(t, json.Unmarshal([]byte(`"Dancing"`), &s))
}

func TestSourceKinds(t *testing.T) {
	require.Equal(t, KindAudio, SourceMicrophone.Kind())
	require.Equal(t, KindVideo, SourceCamera.Kind())
	require.Equal(t, KindVideo, SourceScreen.Kind())

	var m LocalMediaState
	require.False(t, m.SendsVideo())
	m.ScreenSharing = true
	require.True(t, m.SendsVideo())
}

func TestParticipantDefaults(t *testing.T) {
	p := NewRemoteParticipant(7)
	require.Equal(t, "User 7", p.DisplayName)
	require.True(t, p.IsOnline)
	require.False(t, p.IsLocal)

	p.SetMedia(KindVideo, true)
	require.True(t, p.HasVideo)
	require.False(t, p.HasAudio)
}
