package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/petervdpas/tunetrivia/internal/model"
)

// MatchRow represents a row from the _matches table.
type MatchRow struct {
	ID         int64          `json:"id"`
	RoomCode   string         `json:"roomCode,omitempty"`
	Mode       string         `json:"mode"`
	RoomType   string         `json:"roomType"`
	Rounds     int            `json:"rounds"`
	Players    []model.Player `json:"players"`
	FinishedAt time.Time      `json:"finishedAt"`
}

// RecordMatch inserts a finished match and returns its id.
func (d *DB) RecordMatch(m MatchRow) (int64, error) {
	players, err := json.Marshal(m.Players)
	if err != nil {
		return 0, fmt.Errorf("encode players: %w", err)
	}
	if m.FinishedAt.IsZero() {
		m.FinishedAt = time.Now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	res, err := d.db.Exec(
		`INSERT INTO _matches (room_code, mode, room_type, rounds, players, finished_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.RoomCode, m.Mode, m.RoomType, m.Rounds, string(players), m.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("record match: %w", err)
	}
	return res.LastInsertId()
}

// ListMatches returns up to limit matches, newest first.
func (d *DB) ListMatches(limit int) ([]MatchRow, error) {
	if limit <= 0 {
		limit = 50
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(
		`SELECT id, room_code, mode, room_type, rounds, players, finished_at FROM _matches ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MatchRow
	for rows.Next() {
		var m MatchRow
		var players, finished string
		if err := rows.Scan(&m.ID, &m.RoomCode, &m.Mode, &m.RoomType, &m.Rounds, &players, &finished); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(players), &m.Players); err != nil {
			return nil, fmt.Errorf("decode players of match %d: %w", m.ID, err)
		}
		if t, err := time.Parse(time.RFC3339Nano, finished); err == nil {
			m.FinishedAt = t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
