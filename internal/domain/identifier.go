package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// IDKind discriminates the two identifier forms BeatSaver accepts.
type IDKind int

const (
	// HashID is a 40-character hex SHA-1 content hash
	HashID IDKind = iota
	// KeyID is an opaque BeatSaver level key, e.g. "26d2"
	KeyID
)

// LevelID is a tagged level identifier. The kind is decided exactly once, at
// the input boundary; downstream code switches on Kind instead of re-guessing
// from string shape.
type LevelID struct {
	Kind  IDKind
	Value string
}

// ParseLevelID classifies a bare identifier string. Anything that looks like a
// 40-character hex string is a content hash, everything else a level key.
func ParseLevelID(s string) LevelID {
	if isHexHash(s) {
		return LevelID{Kind: HashID, Value: s}
	}
	return LevelID{Kind: KeyID, Value: s}
}

// ParseURI resolves a user-supplied URI to a LevelID. Supported forms are
// bare hashes and keys, beatsaver.com beatmap URLs (https and the oneclick
// beatsaver:// scheme), and bsaber.com song URLs.
func ParseURI(raw string) (LevelID, error) {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return ParseLevelID(raw), nil
	}

	// beatsaver://<key> oneclick links carry the key as the host.
	if parsed.Scheme == "beatsaver" {
		return LevelID{Kind: KeyID, Value: parsed.Host}, nil
	}

	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	switch host {
	case "beatsaver.com":
		// https://beatsaver.com/beatmap/<key>
		if key := lastPathSegment(parsed.Path); key != "" {
			return LevelID{Kind: KeyID, Value: key}, nil
		}
	case "bsaber.com":
		// https://bsaber.com/songs/<key>/
		if key := lastPathSegment(parsed.Path); key != "" && strings.HasPrefix(parsed.Path, "/songs/") {
			return LevelID{Kind: KeyID, Value: key}, nil
		}
	}

	return LevelID{}, fmt.Errorf("unrecognized level URI: %s", raw)
}

// CacheKey returns the canonical form used for snapshot lookups. Hashes are
// cached lowercase; keys are never cached so they pass through unchanged.
func (id LevelID) CacheKey() string {
	if id.Kind == HashID {
		return strings.ToLower(id.Value)
	}
	return id.Value
}

func (id LevelID) String() string {
	return id.Value
}

func lastPathSegment(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

func isHexHash(s string) bool {
	if len(s) != 40 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
