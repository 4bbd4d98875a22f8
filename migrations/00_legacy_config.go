package migrations

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/decloud-network/validator/config"
	"github.com/decloud-network/validator/logging"
	"github.com/decloud-network/validator/util"
)

const (
	legacyConfigFilename = "config.json"
	migratedSuffix       = ".migrated"
	keyFilename          = "id.key"
)

// legacyConfig is the JSON configuration written by the first validator
// releases into the home directory.
type legacyConfig struct {
	PrivateKey               *string  `json:"private_key"`
	Network                  *string  `json:"network"`
	InstalledDatasets        []string `json:"installed_datasets"`
	AutoValidate             *bool    `json:"auto_validate"`
	PollInterval             *float64 `json:"poll_interval"`
	ValidationBatchSize      *int     `json:"validation_batch_size"`
	MaxConcurrentValidations *int     `json:"max_concurrent_validations"`
}

// migrateLegacyConfig imports a legacy config.json into the config file. It
// runs only while no config file exists. The private key is moved into a
// keyfile next to the config, the config file only references it.
func migrateLegacyConfig(ctx context.Context, cfg *config.Config) error {
	legacyPath := filepath.Join(cfg.HomeDir, legacyConfigFilename)
	exists, err := util.FileExists(legacyPath)
	if err != nil || !exists {
		return err
	}
	if exists, err := util.FileExists(cfg.ConfigFile); err != nil || exists {
		return err
	}

	logger := logging.FromContext(ctx)
	logger.Info("migrating legacy config", zap.String("from", legacyPath), zap.String("to", cfg.ConfigFile))

	data, err := os.ReadFile(legacyPath) //#nosec G304
	if err != nil {
		return fmt.Errorf("reading legacy config: %w", err)
	}
	var legacy legacyConfig
	if err := json.Unmarshal(data, &legacy); err != nil {
		return fmt.Errorf("parsing legacy config %s: %w", legacyPath, err)
	}

	next := *cfg
	if legacy.Network != nil {
		if err := next.Network.UnmarshalFlag(*legacy.Network); err != nil {
			return fmt.Errorf("legacy config: %w", err)
		}
	}
	if len(legacy.InstalledDatasets) > 0 {
		next.InstalledDatasets = append([]string(nil), legacy.InstalledDatasets...)
	}
	if legacy.AutoValidate != nil {
		next.Engine.AutoValidate = *legacy.AutoValidate
	}
	if legacy.PollInterval != nil && *legacy.PollInterval > 0 {
		next.Engine.PollInterval = time.Duration(*legacy.PollInterval * float64(time.Second))
	}
	if legacy.ValidationBatchSize != nil && *legacy.ValidationBatchSize > 0 {
		next.BatchSize = *legacy.ValidationBatchSize
	}
	if legacy.MaxConcurrentValidations != nil && *legacy.MaxConcurrentValidations > 0 {
		next.Engine.MaxConcurrentRounds = *legacy.MaxConcurrentValidations
	}
	if legacy.PrivateKey != nil && strings.TrimSpace(*legacy.PrivateKey) != "" && next.KeyFile == "" {
		keyfile := filepath.Join(cfg.HomeDir, keyFilename)
		if err := util.WriteFile(keyfile, []byte(strings.TrimSpace(*legacy.PrivateKey))); err != nil {
			return fmt.Errorf("saving private key: %w", err)
		}
		next.KeyFile = keyfile
		logger.Info("private key moved to keyfile", zap.String("keyfile", keyfile))
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("legacy config: %w", err)
	}

	if err := config.NewStore(&next).Save(); err != nil {
		return err
	}
	if err := os.Rename(legacyPath, legacyPath+migratedSuffix); err != nil {
		return fmt.Errorf("renaming legacy config: %w", err)
	}
	*cfg = next
	logger.Info("legacy config migrated")
	return nil
}
