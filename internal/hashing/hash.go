// Package hashing computes content hashes for installed levels.
//
// A level's hash is the SHA-1 of its info.dat manifest bytes followed by the
// bytes of every beatmap file the manifest references, in manifest order.
// This matches the hash BeatSaver and the game itself compute, so it
// identifies content regardless of how the directory or archive is named.
package hashing

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/mmcdole/beatfetch/internal/domain"
)

// manifest is the subset of info.dat needed to enumerate beatmap files.
type manifest struct {
	DifficultyBeatmapSets []beatmapSet `json:"_difficultyBeatmapSets"`
}

type beatmapSet struct {
	DifficultyBeatmaps []beatmapRef `json:"_difficultyBeatmaps"`
}

type beatmapRef struct {
	BeatmapFilename string `json:"_beatmapFilename"`
}

// manifestNames lists the spellings seen in the wild. PC levels ship
// "info.dat", archives straight from BeatSaver "Info.dat".
var manifestNames = []string{"info.dat", "Info.dat"}

// FromDir hashes an extracted level directory.
// Returns domain.ErrMissingManifest if no info.dat is present.
func FromDir(dir string) (string, error) {
	var infoBytes []byte
	for _, name := range manifestNames {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err == nil {
			infoBytes = b
			break
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("reading manifest in %s: %w", dir, err)
		}
	}
	if infoBytes == nil {
		return "", fmt.Errorf("%s: %w", dir, domain.ErrMissingManifest)
	}

	return digest(infoBytes, func(name string) ([]byte, error) {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading beatmap %s in %s: %w", name, dir, err)
		}
		return b, nil
	})
}

// FromZip hashes a still-archived level.
// Returns domain.ErrMissingManifest if no info.dat is present, and
// domain.ErrCorruptArchive wrapped errors when the zip is unreadable.
func FromZip(path string) (string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %v", path, domain.ErrCorruptArchive, err)
	}
	defer r.Close()

	files := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		files[f.Name] = f
	}

	readEntry := func(name string) ([]byte, error) {
		f, ok := files[name]
		if !ok {
			return nil, fmt.Errorf("%s: archive entry %s missing", path, name)
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%s: opening %s: %w", path, name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}

	var infoBytes []byte
	for _, name := range manifestNames {
		if _, ok := files[name]; ok {
			infoBytes, err = readEntry(name)
			if err != nil {
				return "", err
			}
			break
		}
	}
	if infoBytes == nil {
		return "", fmt.Errorf("%s: %w", path, domain.ErrMissingManifest)
	}

	return digest(infoBytes, readEntry)
}

// digest seeds SHA-1 with the manifest bytes and appends each referenced
// beatmap file in set order, then beatmap order, exactly as encountered.
func digest(infoBytes []byte, read func(name string) ([]byte, error)) (string, error) {
	var info manifest
	if err := json.Unmarshal(infoBytes, &info); err != nil {
		return "", fmt.Errorf("parsing manifest: %w", err)
	}

	hasher := sha1.New()
	hasher.Write(infoBytes)

	for _, set := range info.DifficultyBeatmapSets {
		for _, beatmap := range set.DifficultyBeatmaps {
			b, err := read(beatmap.BeatmapFilename)
			if err != nil {
				return "", err
			}
			hasher.Write(b)
		}
	}

	return hexUpper(hasher), nil
}

func hexUpper(h hash.Hash) string {
	return strings.ToUpper(fmt.Sprintf("%x", h.Sum(nil)))
}
