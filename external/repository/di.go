package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxseedlab/streamkoshin/internal/config"
	"github.com/foxseedlab/streamkoshin/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/do/v2"
)

const databaseInitTimeout = 15 * time.Second

// RegisterDI provides the Postgres repository. It is only registered when
// DATABASE_URL is configured.
func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (repository.Repository, error) {
		cfg := do.MustInvoke[*config.Config](i)
		ctx, cancel := context.WithTimeout(context.Background(), databaseInitTimeout)
		defer cancel()

		p, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect database: %w", err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		if err := RunMigration(ctx, p); err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to run migration: %w", err)
		}
		repo := NewPostgresRepository(p)
		if n, err := repo.MarkRunningInterrupted(ctx, time.Now()); err != nil {
			slog.Warn("failed to close sessions left running", "error", err)
		} else if n > 0 {
			slog.Info("closed sessions left running by a previous process", "count", n)
		}
		return repo, nil
	})
}
