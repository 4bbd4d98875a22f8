package datasets

import (
	"path/filepath"
	"time"

	"github.com/decloud-network/validator/gateway"
)

//nolint:lll
type Config struct {
	DataDir        string        `long:"dataset-dir"     description:"Directory holding downloaded datasets"`
	Gateways       []string      `long:"gateway"         description:"Content gateway base URL, tried in the given order (can be repeated)"`
	AttemptTimeout time.Duration `long:"attempt-timeout" description:"Timeout of a single gateway attempt"`
	Workers        int           `long:"workers"         description:"Number of concurrent downloads in batch operations"`
	LargeThreshold uint64        `long:"large-threshold" description:"Datasets above this estimated size in bytes are skipped unless large ones are requested"`
	ManifestPath   string        `long:"manifest"        description:"Local JSON manifest mapping dataset names to content identifiers"`
	ManifestCID    string        `long:"manifest-cid"    description:"CID of the dataset manifest to fetch through the gateways"`
}

func DefaultConfig() Config {
	return Config{
		Gateways:       append([]string(nil), gateway.DefaultGateways...),
		AttemptTimeout: gateway.DefaultAttemptTimeout,
		Workers:        3,
		LargeThreshold: 1_000_000_000,
	}
}

func (c Config) dbPath() string {
	return filepath.Join(c.DataDir, ".db")
}

func (c Config) manifestCachePath() string {
	return filepath.Join(c.DataDir, ".manifest")
}
