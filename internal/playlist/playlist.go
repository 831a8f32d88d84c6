// Package playlist reads and writes Beat Saber .bplist collection files.
package playlist

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mmcdole/beatfetch/internal/domain"
)

const defaultAuthor = "beatfetch"

// Song is one playlist entry in the bplist schema.
type Song struct {
	Key      string `json:"key"`
	Hash     string `json:"hash"`
	SongName string `json:"songName"`
	Uploader string `json:"uploader"`
}

// Playlist is a named, ordered collection of levels, deduplicated by content
// hash. Fields other tools may have written are carried through untouched.
type Playlist struct {
	path   string
	name   string
	songs  []Song
	extra  map[string]json.RawMessage
	logger *slog.Logger
}

// Load opens the named playlist under dir, creating a fresh one in memory if
// the file does not exist yet. A name without an extension gets ".bplist".
func Load(dir, name string, logger *slog.Logger) (*Playlist, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !strings.Contains(name, ".") {
		name += ".bplist"
	}

	p := &Playlist{
		path:   filepath.Join(dir, name),
		name:   name,
		extra:  make(map[string]json.RawMessage),
		logger: logger,
	}

	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		logger.Info("creating new playlist", "name", name)
		p.extra["playlistTitle"] = mustJSON(name)
		p.extra["playlistAuthor"] = mustJSON(defaultAuthor)
		p.extra["image"] = json.RawMessage("null")
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading playlist: %w", err)
	}

	if err := json.Unmarshal(data, &p.extra); err != nil {
		return nil, fmt.Errorf("parsing playlist %s: %w", name, err)
	}
	if raw, ok := p.extra["songs"]; ok {
		if err := json.Unmarshal(raw, &p.songs); err != nil {
			return nil, fmt.Errorf("parsing playlist songs in %s: %w", name, err)
		}
		delete(p.extra, "songs")
	}

	logger.Info("loaded playlist", "name", name, "songs", len(p.songs))
	return p, nil
}

// Contains reports whether a level with this hash is already listed.
func (p *Playlist) Contains(hash string) bool {
	for _, s := range p.songs {
		if strings.EqualFold(s.Hash, hash) {
			return true
		}
	}
	return false
}

// Add appends a level unless its hash is already present. Returns whether an
// entry was added.
func (p *Playlist) Add(lvl domain.Level) bool {
	rec := lvl.Detail
	if p.Contains(rec.Hash) {
		return false
	}
	p.songs = append(p.songs, Song{
		Key:      rec.Key,
		Hash:     rec.Hash,
		SongName: fmt.Sprintf("%s - %s", rec.SongAuthorName, rec.SongName),
		Uploader: rec.UploaderName,
	})
	return true
}

// Hashes returns the content hashes of every listed level, in order.
func (p *Playlist) Hashes() []string {
	hashes := make([]string, 0, len(p.songs))
	for _, s := range p.songs {
		hashes = append(hashes, s.Hash)
	}
	return hashes
}

// Len reports the number of entries.
func (p *Playlist) Len() int {
	return len(p.songs)
}

// Save serializes the playlist back to disk, keeping any fields written by
// other tools.
func (p *Playlist) Save() error {
	out := make(map[string]json.RawMessage, len(p.extra)+1)
	for k, v := range p.extra {
		out[k] = v
	}
	songs, err := json.Marshal(p.songs)
	if err != nil {
		return fmt.Errorf("encoding playlist songs: %w", err)
	}
	if p.songs == nil {
		songs = json.RawMessage("[]")
	}
	out["songs"] = songs

	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encoding playlist: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("saving playlist: %w", err)
	}
	if err := os.WriteFile(p.path, data, 0644); err != nil {
		return fmt.Errorf("saving playlist: %w", err)
	}

	p.logger.Info("saved playlist", "name", p.name, "songs", len(p.songs))
	return nil
}

func mustJSON(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
