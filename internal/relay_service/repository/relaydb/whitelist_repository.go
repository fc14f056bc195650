package relaydb

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aradsms/smsrelay/internal/platform/config"
	"github.com/aradsms/smsrelay/internal/platform/database"
)

type WhitelistRepository struct {
	db     database.Gateway
	store  *config.Store
	logger *slog.Logger
}

func NewWhitelistRepository(db database.Gateway, store *config.Store, logger *slog.Logger) *WhitelistRepository {
	return &WhitelistRepository{db: db, store: store, logger: logger.With("repository", "whitelist")}
}

// Allowed runs SelectQueryWhiteList with $1 = destinations and returns the
// set of "mobile" values found.
func (r *WhitelistRepository) Allowed(ctx context.Context, destinations []string) (map[string]struct{}, error) {
	if len(destinations) == 0 {
		return map[string]struct{}{}, nil
	}
	tpl := r.store.Current().DB.SelectQueryWhiteList

	rows, err := r.db.Query(ctx, tpl, destinations)
	if err != nil {
		return nil, fmt.Errorf("failed to query whitelist: %w", err)
	}

	allowed := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if mobile := row.String("mobile"); mobile != "" {
			allowed[mobile] = struct{}{}
		}
	}
	return allowed, nil
}
