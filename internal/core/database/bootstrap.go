package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/markdave123-py/Sourcebook/internal/logger"
)

//go:embed scripts/initdb.sql
var bootstrapFS embed.FS

const schemaVersion = 1

// bootstrapLockKey serializes schema bootstrap across replicas starting together.
const bootstrapLockKey int64 = 0x736f7572636562 // "sourceb"

// EnsureBootstrapped applies scripts/initdb.sql unless sourcebook_meta already records the version.
func EnsureBootstrapped(ctx context.Context, db *sql.DB) error {
	ctxBoot, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	var exists bool
	err := db.QueryRowContext(ctxBoot, `
		SELECT EXISTS (
		  SELECT 1 FROM information_schema.tables
		  WHERE table_name = 'sourcebook_meta'
		)`).
		Scan(&exists)
	if err != nil {
		return fmt.Errorf("meta table check failed: %w", err)
	}
	if !exists {
		return runBootstrap(ctxBoot, db)
	}

	var hasVersion bool
	if err := db.QueryRowContext(ctxBoot, `SELECT EXISTS (SELECT 1 FROM sourcebook_meta WHERE version = $1)`, schemaVersion).Scan(&hasVersion); err != nil {
		return fmt.Errorf("meta version check failed: %w", err)
	}
	if !hasVersion {
		return runBootstrap(ctxBoot, db)
	}

	logger.Debug("schema already bootstrapped")
	return nil
}

func runBootstrap(ctx context.Context, db *sql.DB) error {
	sqlBytes, err := bootstrapFS.ReadFile("scripts/initdb.sql")
	if err != nil {
		return fmt.Errorf("read initdb.sql: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, bootstrapLockKey); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("bootstrap lock: %w", err)
	}

	// Another replica may have finished while we waited for the lock.
	applied, err := versionApplied(ctx, tx)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if applied {
		logger.Debug("schema bootstrapped by another instance")
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec bootstrap: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bootstrap: %w", err)
	}
	logger.Info("schema bootstrapped")
	return nil
}

func versionApplied(ctx context.Context, tx *sql.Tx) (bool, error) {
	var present bool
	if err := tx.QueryRowContext(ctx, `SELECT to_regclass('sourcebook_meta') IS NOT NULL`).Scan(&present); err != nil {
		return false, fmt.Errorf("meta recheck failed: %w", err)
	}
	if !present {
		return false, nil
	}
	var applied bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM sourcebook_meta WHERE version = $1)`, schemaVersion).Scan(&applied); err != nil {
		return false, fmt.Errorf("meta version recheck failed: %w", err)
	}
	return applied, nil
}
