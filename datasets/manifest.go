package datasets

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"go.uber.org/zap"

	"github.com/decloud-network/validator/gateway"
	"github.com/decloud-network/validator/logging"
	"github.com/decloud-network/validator/util"
)

const maxManifestSize = 4 << 20

// Source tells where a dataset's content lives and how to verify it.
type Source struct {
	CID      string `json:"cid"`
	Size     uint64 `json:"size"`
	SHA256   string `json:"sha256,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Manifest maps dataset names to their content sources.
type Manifest struct {
	Version  uint32            `json:"version"`
	Datasets map[string]Source `json:"datasets"`
}

// cachedManifest is the xdr friendly on-disk form of a Manifest.
type cachedManifest struct {
	Version uint32
	Entries []cachedSource
}

type cachedSource struct {
	Name     string
	CID      string
	Size     uint64
	SHA256   string
	Filename string
}

// ParseManifest decodes and validates a JSON manifest. Entries for unknown
// datasets are dropped.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	for name, src := range m.Datasets {
		if _, ok := Lookup(name); !ok {
			delete(m.Datasets, name)
			continue
		}
		if _, err := cid.Decode(src.CID); err != nil {
			return fmt.Errorf("dataset %s: invalid cid %q: %w", name, src.CID, err)
		}
		if src.SHA256 != "" {
			digest, err := hex.DecodeString(src.SHA256)
			if err != nil || len(digest) != 32 {
				return fmt.Errorf("dataset %s: invalid sha256 digest %q", name, src.SHA256)
			}
		}
	}
	return nil
}

// Source returns the content source of a dataset.
func (m *Manifest) Source(name string) (Source, bool) {
	if m == nil {
		return Source{}, false
	}
	src, ok := m.Datasets[name]
	return src, ok
}

// expectedDigest returns the sha256 digest the content must hash to, taken
// from the manifest or, for raw sha2-256 CIDs, from the CID itself.
func (s Source) expectedDigest() ([]byte, error) {
	var fromManifest, fromCID []byte
	if s.SHA256 != "" {
		d, err := hex.DecodeString(s.SHA256)
		if err != nil {
			return nil, err
		}
		fromManifest = d
	}

	c, err := cid.Decode(s.CID)
	if err != nil {
		return nil, err
	}
	if prefix := c.Prefix(); prefix.Codec == cid.Raw && prefix.MhType == multihash.SHA2_256 {
		decoded, err := multihash.Decode(c.Hash())
		if err != nil {
			return nil, err
		}
		fromCID = decoded.Digest
	}

	switch {
	case fromManifest != nil && fromCID != nil && !bytes.Equal(fromManifest, fromCID):
		return nil, errors.New("manifest digest disagrees with cid")
	case fromManifest != nil:
		return fromManifest, nil
	default:
		return fromCID, nil
	}
}

func (m *Manifest) toCached() cachedManifest {
	out := cachedManifest{Version: m.Version}
	for name, src := range m.Datasets {
		out.Entries = append(out.Entries, cachedSource{
			Name:     name,
			CID:      src.CID,
			Size:     src.Size,
			SHA256:   src.SHA256,
			Filename: src.Filename,
		})
	}
	sort.Slice(out.Entries, func(i, j int) bool { return out.Entries[i].Name < out.Entries[j].Name })
	return out
}

func fromCached(c cachedManifest) *Manifest {
	m := &Manifest{Version: c.Version, Datasets: make(map[string]Source, len(c.Entries))}
	for _, e := range c.Entries {
		m.Datasets[e.Name] = Source{CID: e.CID, Size: e.Size, SHA256: e.SHA256, Filename: e.Filename}
	}
	return m
}

// loadManifest reads the manifest from a local file, or fetches it through
// the gateways and caches it. A failed fetch falls back to the cache.
func loadManifest(ctx context.Context, cfg Config, pool *gateway.Pool) (*Manifest, error) {
	logger := logging.FromContext(ctx)
	if cfg.ManifestPath != "" {
		data, err := os.ReadFile(cfg.ManifestPath)
		if err != nil {
			return nil, fmt.Errorf("reading manifest: %w", err)
		}
		return ParseManifest(data)
	}
	if cfg.ManifestCID == "" {
		logger.Warn("no dataset manifest configured, downloads are disabled")
		return &Manifest{Datasets: map[string]Source{}}, nil
	}

	var manifest *Manifest
	_, err := pool.Fetch(ctx, cfg.ManifestCID, func(_ gateway.Gateway, body io.Reader) error {
		data, err := io.ReadAll(io.LimitReader(body, maxManifestSize))
		if err != nil {
			return err
		}
		manifest, err = ParseManifest(data)
		return err
	})
	cachePath := cfg.manifestCachePath()
	if err == nil {
		cached := manifest.toCached()
		if err := util.Persist(cachePath, &cached); err != nil {
			logger.Warn("failed to cache manifest", zap.Error(err))
		}
		return manifest, nil
	}

	var cached cachedManifest
	if loadErr := util.Load(cachePath, &cached); loadErr != nil {
		return nil, fmt.Errorf("fetching manifest: %w", err)
	}
	logger.Warn("using cached manifest", zap.Error(err))
	return fromCached(cached), nil
}
