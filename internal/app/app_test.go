package app

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/tunetrivia/internal/config"
	"github.com/petervdpas/tunetrivia/internal/game"
	"github.com/petervdpas/tunetrivia/internal/model"
	"github.com/petervdpas/tunetrivia/internal/storage"
)

func TestNormalizeLocalViewer(t *testing.T) {
	cases := []struct{ in, addr, url string }{
		{":8790", "127.0.0.1:8790", "http://127.0.0.1:8790"},
		{"0.0.0.0:9000", "127.0.0.1:9000", "http://127.0.0.1:9000"},
		{" 127.0.0.1:8790 ", "127.0.0.1:8790", "http://127.0.0.1:8790"},
		{"localhost:1", "localhost:1", "http://localhost:1"},
	}
	for _, tc := range cases {
		addr, url := NormalizeLocalViewer(tc.in)
		assert.Equal(t, tc.addr, addr, tc.in)
		assert.Equal(t, tc.url, url, tc.in)
	}
}

func TestPromptKeepsDefaultsOnEmptyInput(t *testing.T) {
	def := config.Default()
	var out bytes.Buffer
	got := PromptInteractive(strings.NewReader(""), &out, "/peers/ana", "/peers/ana/"+config.FileName, def)
	assert.Equal(t, def, got)
	assert.Contains(t, out.String(), "/peers/ana")
}

func TestPromptLocalNetwork(t *testing.T) {
	input := strings.Join([]string{
		"Ana",            // display name
		"",               // viewer addr
		"songs.yaml",     // library
		"maybe",          // invalid bool, asked again
		"n",              // p2p
		"five",           // invalid int, asked again
		"5",              // rounds
		"",               // round seconds
	}, "\n") + "\n"

	var out bytes.Buffer
	got := PromptInteractive(strings.NewReader(input), &out, "d", "c", config.Default())

	assert.Equal(t, "Ana", got.Profile.DisplayName)
	assert.Equal(t, "songs.yaml", got.Catalog.LibraryPath)
	assert.Equal(t, config.NetworkLocal, got.Network)
	assert.Equal(t, 5, got.Game.RoundsCount)
	assert.Equal(t, config.Default().Game.RoundSec, got.Game.RoundSec)
	assert.Contains(t, out.String(), "Please enter y or n.")
	assert.Contains(t, out.String(), "Please enter a number.")
}

func TestPromptInvalidFallsBackToDefaults(t *testing.T) {
	input := "\n\n\ny\n70000\n\n\n\n\n"
	var out bytes.Buffer
	got := PromptInteractive(strings.NewReader(input), &out, "d", "c", config.Default())
	assert.Equal(t, config.Default(), got)
	assert.Contains(t, out.String(), "Invalid config")
}

func TestSeedProfile(t *testing.T) {
	db, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, seedProfile(db, ""))
	require.NoError(t, seedProfile(db, "Ana"))
	require.NoError(t, seedProfile(db, "Ben"))

	p, err := db.Profile()
	require.NoError(t, err)
	assert.Equal(t, "Ana", p.DisplayName)
}

func TestRecordMatch(t *testing.T) {
	db, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	recordMatch(db, game.Result{
		RoomCode:   "AB3K9",
		Mode:       model.ModeABCD,
		RoomType:   model.RoomParty,
		Rounds:     3,
		FinishedAt: time.Now(),
	})

	rows, err := db.ListMatches(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "AB3K9", rows[0].RoomCode)
	assert.Equal(t, 3, rows[0].Rounds)
}

func TestRunLocalUntilCancelled(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a full peer")
	}
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Network = config.NetworkLocal
	cfg.Viewer.HTTPAddr = ""
	cfg.Catalog.Watch = false

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Options{PeerDir: dir, CfgPath: dir + "/" + config.FileName, Cfg: cfg})
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
