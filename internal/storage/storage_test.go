package storage

import (
	"testing"
	"time"

	"github.com/petervdpas/tunetrivia/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestProfileAndToken(t *testing.T) {
	db := openTemp(t)

	p, err := db.Profile()
	require.NoError(t, err)
	assert.Empty(t, p.DisplayName)

	require.NoError(t, db.SaveProfile(Profile{DisplayName: "Ada"}))
	require.NoError(t, db.SaveProfile(Profile{DisplayName: "Grace"}))
	p, err = db.Profile()
	require.NoError(t, err)
	assert.Equal(t, "Grace", p.DisplayName)

	require.NoError(t, db.SetToken("tok"))
	tok, err := db.Token()
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)

	require.NoError(t, db.SetToken(""))
	tok, err = db.Token()
	require.NoError(t, err)
	assert.Empty(t, tok)
}

func TestProfileSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, db.SaveProfile(Profile{DisplayName: "Ada"}))
	require.NoError(t, db.Close())

	db, err = Open(dir)
	require.NoError(t, err)
	defer db.Close()
	p, err := db.Profile()
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.DisplayName)
}

func TestMatches(t *testing.T) {
	db := openTemp(t)
	finished := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

	for i, code := range []string{"AB3K9", "CD4EF"} {
		_, err := db.RecordMatch(MatchRow{
			RoomCode:   code,
			Mode:       string(model.ModeABCD),
			RoomType:   string(model.RoomParty),
			Rounds:     10 + i,
			Players:    []model.Player{{ID: "p1", Name: "Ada", Score: 900 + i}},
			FinishedAt: finished,
		})
		require.NoError(t, err)
	}

	got, err := db.ListMatches(10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "CD4EF", got[0].RoomCode)
	assert.Equal(t, 11, got[0].Rounds)
	assert.Equal(t, 901, got[0].Players[0].Score)
	assert.True(t, finished.Equal(got[0].FinishedAt))

	got, err = db.ListMatches(1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
