package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/petervdpas/tunetrivia/internal/model"
)

// Library is a Catalog read from a YAML file:
//
//	playlists:
//	  - id: eighties
//	    name: 80s Hits
//	    tracks:
//	      - {id: t1, name: Take On Me, artist: a-ha, preview_url: ...}
type Library struct {
	path string

	mu        sync.RWMutex
	playlists []libraryPlaylist
}

type libraryFile struct {
	Playlists []libraryPlaylist `yaml:"playlists"`
}

type libraryPlaylist struct {
	ID       string        `yaml:"id"`
	Name     string        `yaml:"name"`
	ImageURL string        `yaml:"image_url"`
	Tracks   []model.Track `yaml:"tracks"`
}

// OpenLibrary loads the library at path.
func OpenLibrary(path string) (*Library, error) {
	l := &Library{path: path}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Reload re-reads the file. A missing file yields an empty library.
func (l *Library) Reload() error {
	b, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		l.mu.Lock()
		l.playlists = nil
		l.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("read library: %w", err)
	}

	var f libraryFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("parse library %s: %w", l.path, err)
	}
	for i, p := range f.Playlists {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("parse library %s: playlist %d has no id", l.path, i)
		}
	}

	l.mu.Lock()
	l.playlists = f.Playlists
	l.mu.Unlock()
	log.Infow("library loaded", "path", l.path, "playlists", len(f.Playlists))
	return nil
}

func (l *Library) Playlists(ctx context.Context, query string) ([]model.Playlist, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.Playlist, 0, len(l.playlists))
	for _, p := range l.playlists {
		if q != "" && !strings.Contains(strings.ToLower(p.Name), q) {
			continue
		}
		out = append(out, model.Playlist{ID: p.ID, Name: p.Name, ImageURL: p.ImageURL, TrackCount: len(p.Tracks)})
	}
	return out, nil
}

func (l *Library) PlaylistTracks(ctx context.Context, playlistID string) ([]model.Track, error) {
	return CollectTracks(ctx, l, playlistID)
}

func (l *Library) TracksPage(ctx context.Context, playlistID string, offset, limit int) ([]model.Track, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, p := range l.playlists {
		if p.ID != playlistID {
			continue
		}
		if offset >= len(p.Tracks) {
			return nil, false, nil
		}
		end := min(offset+limit, len(p.Tracks))
		page := append([]model.Track(nil), p.Tracks[offset:end]...)
		return page, end < len(p.Tracks), nil
	}
	return nil, false, fmt.Errorf("%w: %s", ErrPlaylistNotFound, playlistID)
}

// Watch reloads the library whenever its file changes, until ctx is done.
// The directory is watched so editors that replace the file are seen.
func (l *Library) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch library dir: %w", err)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(l.path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
					if err := l.Reload(); err != nil {
						log.Warnw("library reload failed", "err", err)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnw("library watcher error", "err", err)
			}
		}
	}()
	return nil
}

var _ Catalog = (*Library)(nil)
