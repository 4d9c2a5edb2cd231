package storefrontd

import (
	"context"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/tonstore/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/tonstore/pkg/storefront"
)

// GrantAdmin adds an admin directly in the database, for bootstrapping before the service runs.
func GrantAdmin(ctx context.Context, databaseURL string, rawTelegramID int64) (storefront.Admin, error) {
	telegramID, err := storefront.NewTelegramID(rawTelegramID)
	if err != nil {
		return storefront.Admin{}, err
	}
	db, cleanup, _, err := gormstore.Open(ctx, defaultIfEmpty(databaseURL, defaultDatabaseURL))
	if err != nil {
		return storefront.Admin{}, fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()
	if err := gormstore.Migrate(ctx, db); err != nil {
		return storefront.Admin{}, err
	}
	return gormstore.New(db).CreateAdmin(ctx, telegramID, time.Now().UTC())
}
