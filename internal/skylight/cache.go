package skylight

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// cacheMeta holds HTTP validators for a single API URL.
type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// responseCache is a disk cache of API bodies keyed by a hash of the URL.
// Each entry lives in its own directory holding meta.json and body.json.
type responseCache struct {
	dir string
}

func newResponseCache(dir string) *responseCache {
	if dir == "" {
		return nil
	}
	return &responseCache{dir: dir}
}

func (c *responseCache) pathFor(url string) (string, error) {
	if url == "" {
		return "", errors.New("empty url")
	}
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:8])), nil
}

// load returns the cached validators and body for url. Missing or corrupt
// entries yield zero values.
func (c *responseCache) load(url string) (cacheMeta, []byte) {
	if c == nil {
		return cacheMeta{}, nil
	}
	p, err := c.pathFor(url)
	if err != nil {
		return cacheMeta{}, nil
	}

	var meta cacheMeta
	data, err := os.ReadFile(filepath.Join(p, "meta.json"))
	if err == nil {
		if json.Unmarshal(data, &meta) != nil || meta.URL != url {
			meta = cacheMeta{}
		}
	}
	body, err := os.ReadFile(filepath.Join(p, "body.json"))
	if err != nil {
		return cacheMeta{}, nil
	}
	return meta, body
}

func (c *responseCache) save(meta cacheMeta, body []byte) error {
	if c == nil {
		return nil
	}
	p, err := c.pathFor(meta.URL)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(p, 0o700); err != nil {
		return err
	}

	// Body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(p, "body.json"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(p, "meta.json"), data, 0o600)
}
