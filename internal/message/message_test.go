package message

import (
	"errors"
	"testing"

	"github.com/petervdpas/tunetrivia/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeJoin(t *testing.T) {
	data, err := Encode(7, &Join{Name: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), data[len(data)-1])

	env, body, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, TypeJoin, env.Type)
	assert.Equal(t, uint64(7), env.Seq)

	join, ok := body.(*Join)
	require.True(t, ok)
	assert.Equal(t, "Ada", join.Name)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, _, err := Decode([]byte(`{"type":"kick","seq":1}`))
	assert.True(t, errors.Is(err, ErrUnknownType))
}

func TestDecodeRejectsInvalidPayloads(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{"type":`},
		{"empty join", `{"type":"join","seq":1,"payload":{"name":"  "}}`},
		{"missing join payload", `{"type":"join","seq":1}`},
		{"wrong payload shape", `{"type":"next-round","seq":1,"payload":{"round":"two"}}`},
		{"zero round", `{"type":"next-round","seq":1,"payload":{"round":0}}`},
		{"negative elapsed", `{"type":"answer-submitted","seq":1,"payload":{"round":1,"correct":true,"elapsedMs":-5}}`},
		{"two hosts", `{"type":"player-list","seq":1,"payload":{"players":[{"id":"a","isHost":true},{"id":"b","isHost":true}]}}`},
		{"duplicate ids", `{"type":"player-list","seq":1,"payload":{"players":[{"id":"a"},{"id":"a"}]}}`},
		{"reveal without track", `{"type":"show-answer","seq":1,"payload":{"round":1}}`},
		{"sync without you", `{"type":"sync-state","seq":1,"payload":{"snapshot":{}}}`},
		{"bad phase", `{"type":"game-state","seq":1,"payload":{"round":1,"phase":"paused"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode([]byte(tt.data))
			assert.True(t, errors.Is(err, ErrInvalidPayload), "got %v", err)
		})
	}
}

func TestStartGameRoundTrip(t *testing.T) {
	tracks := []model.Track{{ID: "t1", Name: "One"}, {ID: "t2", Name: "Two"}}
	in := &StartGame{
		Settings:  model.DefaultSettings(),
		Tracks:    tracks,
		Round:     1,
		Options:   tracks,
		StartedAt: 1700000000000,
	}
	data, err := Encode(1, in)
	require.NoError(t, err)

	_, body, err := Decode(data)
	require.NoError(t, err)
	out := body.(*StartGame)
	assert.Equal(t, in.Settings, out.Settings)
	assert.Equal(t, tracks, out.Tracks)
}

func TestWrapValidatesOutgoing(t *testing.T) {
	_, err := Wrap(1, &ShowAnswer{Round: 1})
	assert.Error(t, err)
	_, err = Wrap(1, nil)
	assert.Error(t, err)
}

func TestPrivileged(t *testing.T) {
	assert.False(t, Privileged(TypeJoin))
	assert.False(t, Privileged(TypeAnswerSubmitted))
	for _, typ := range []string{TypePlayerList, TypeStartGame, TypeNextRound, TypeShowAnswer, TypeAllAnswered, TypeSyncState, TypeGameState} {
		assert.True(t, Privileged(typ), typ)
	}
}
