// Package migrations upgrades on-disk state left by earlier versions of the
// validator before the configuration is loaded.
package migrations

import (
	"context"

	"github.com/decloud-network/validator/config"
	"github.com/decloud-network/validator/logging"
)

func Migrate(ctx context.Context, cfg *config.Config) error {
	ctx = logging.NewContext(ctx, logging.FromContext(ctx).Named("migrations"))
	if err := migrateLegacyConfig(ctx, cfg); err != nil {
		return err
	}
	return nil
}
