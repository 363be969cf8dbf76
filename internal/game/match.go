package game

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/petervdpas/tunetrivia/internal/model"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MinSubstringLen is the shortest typed guess accepted as a partial title.
const MinSubstringLen = 4

// "Song (Live)", "Song - Remastered 2011", "Song [Edit]"
var titleDecoration = regexp.MustCompile(`\s*(\(.*?\)|\[.*?\]|\s-\s.*)$`)

// Match reports whether answer names track under mode. In abcd and list
// mode the answer is a track id.
func Match(mode model.GameMode, answer string, track model.Track) bool {
	switch mode {
	case model.ModeABCD, model.ModeList:
		return answer != "" && answer == track.ID
	case model.ModeType:
		return matchTitle(answer, track.Name)
	}
	return false
}

func matchTitle(guess, title string) bool {
	guess = strings.TrimSpace(guess)
	title = strings.TrimSpace(title)
	if guess == "" || title == "" {
		return false
	}
	if strings.EqualFold(guess, title) {
		return true
	}

	g := foldAlnum(guess)
	if g == "" {
		return false
	}
	full := foldAlnum(title)
	bare := foldAlnum(titleDecoration.ReplaceAllString(title, ""))
	if g == full || g == bare {
		return true
	}
	return utf8.RuneCountInString(g) >= MinSubstringLen && strings.Contains(full, g)
}

// foldAlnum case-folds s, strips diacritics and drops everything that is
// not a letter or digit.
func foldAlnum(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if out, _, err := transform.String(t, s); err == nil {
		s = out
	}
	s = cases.Fold().String(s)

	var sb strings.Builder
	for _, r := range s {
		switch {
		case r == 'ł':
			sb.WriteRune('l')
		case r == 'ß':
			sb.WriteString("ss")
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// FilterTracks returns the tracks whose name or artist contains query,
// ignoring case. It backs the list-mode picker.
func FilterTracks(tracks []model.Track, query string) []model.Track {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return append([]model.Track(nil), tracks...)
	}
	var out []model.Track
	for _, t := range tracks {
		if strings.Contains(strings.ToLower(t.Name), q) || strings.Contains(strings.ToLower(t.Artist), q) {
			out = append(out, t)
		}
	}
	return out
}
