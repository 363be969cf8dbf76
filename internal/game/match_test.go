package game

import (
	"testing"

	"github.com/petervdpas/tunetrivia/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestMatchByID(t *testing.T) {
	track := model.Track{ID: "t1", Name: "Hey Jude"}
	for _, mode := range []model.GameMode{model.ModeABCD, model.ModeList} {
		assert.True(t, Match(mode, "t1", track))
		assert.False(t, Match(mode, "t2", track))
		assert.False(t, Match(mode, "Hey Jude", track))
	}
	assert.False(t, Match(model.ModeABCD, "", model.Track{}))
}

func TestMatchTyped(t *testing.T) {
	tests := []struct {
		guess string
		title string
		want  bool
	}{
		{"hey jude", "Hey Jude", true},
		{"  HEY JUDE ", "Hey Jude", true},
		{"heyjude", "Hey Jude", true},
		{"hey, jude!", "Hey Jude", true},
		{"bohemian", "Bohemian Rhapsody", true},
		{"rhap", "Bohemian Rhapsody", true},
		{"boh", "Bohemian Rhapsody", false},
		{"beyonce", "Beyoncé", true},
		{"lodz", "Łódź", true},
		{"let it be", "Let It Be - Remastered 2009", true},
		{"yesterday", "Yesterday (Live)", true},
		{"jude", "Hey Jude", true},
		{"hey joe", "Hey Jude", false},
		{"", "Hey Jude", false},
		{"!!!", "Hey Jude", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Match(model.ModeType, tt.guess, model.Track{ID: "x", Name: tt.title}), "%q vs %q", tt.guess, tt.title)
	}
}

func TestFilterTracks(t *testing.T) {
	tracks := []model.Track{
		{ID: "1", Name: "Hey Jude", Artist: "The Beatles"},
		{ID: "2", Name: "Jolene", Artist: "Dolly Parton"},
		{ID: "3", Name: "Help!", Artist: "The Beatles"},
	}
	assert.Len(t, FilterTracks(tracks, "beatles"), 2)
	assert.Len(t, FilterTracks(tracks, "JOL"), 1)
	assert.Len(t, FilterTracks(tracks, " "), 3)
	assert.Empty(t, FilterTracks(tracks, "queen"))
}
