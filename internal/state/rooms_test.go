package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertAndList(t *testing.T) {
	tbl := NewRoomTable()
	ch := tbl.Subscribe()
	defer tbl.Unsubscribe(ch)

	tbl.Upsert(SeenRoom{Code: "ZZ2AB", HostName: "b"})
	tbl.Upsert(SeenRoom{Code: "AB3K9", HostName: "a", Players: 2})

	rooms := tbl.List()
	require.Len(t, rooms, 2)
	assert.Equal(t, "AB3K9", rooms[0].Code)
	assert.True(t, rooms[0].Reachable)

	evt := <-ch
	assert.Equal(t, "update", evt.Type)
	assert.Equal(t, "ZZ2AB", evt.Code)
}

func TestPruneStale(t *testing.T) {
	tbl := NewRoomTable()
	now := time.Unix(1000, 0)
	tbl.now = func() time.Time { return now }

	tbl.Upsert(SeenRoom{Code: "AB3K9"})
	now = now.Add(time.Minute)
	tbl.Upsert(SeenRoom{Code: "CD4EF"})

	tbl.PruneStale(now.Add(-30*time.Second), now.Add(-time.Hour))
	r, ok := tbl.Get("AB3K9")
	require.True(t, ok)
	assert.False(t, r.Reachable)
	assert.Equal(t, now, r.OfflineSince)

	fresh, _ := tbl.Get("CD4EF")
	assert.True(t, fresh.Reachable)

	now = now.Add(time.Minute)
	tbl.PruneStale(now.Add(-time.Hour), now.Add(-30*time.Second))
	_, ok = tbl.Get("AB3K9")
	assert.False(t, ok)
	_, ok = tbl.Get("CD4EF")
	assert.True(t, ok)
}

func TestRemoveUnknownIsQuiet(t *testing.T) {
	tbl := NewRoomTable()
	ch := tbl.Subscribe()
	tbl.Remove("NOPE2")
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event %+v", evt)
	default:
	}
}
