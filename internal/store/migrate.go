package store

import (
	"context"
	"fmt"
)

func (s *Store) readChecksum(ctx context.Context, version int) (string, error) {
	var checksum string
	if err := s.db.QueryRowContext(ctx, `SELECT checksum FROM schema_migrations WHERE version = ?;`, version).Scan(&checksum); err != nil {
		return "", fmt.Errorf("read schema checksum for version %d: %w", version, err)
	}
	return checksum, nil
}

// upgradeCredentialSecret renames credentials.password to
// credentials.secret. SQLite cannot rename a column under the CHECK and
// index set we carry, so the table is rebuilt: create the replacement,
// copy rows under the rename, swap.
func (s *Store) upgradeCredentialSecret(ctx context.Context) error {
	// A crash between the scratch-table create and the final swap leaves
	// credentials_2 behind; start clean so the upgrade can rerun.
	if err := s.exec.Exec(ctx, `DROP TABLE IF EXISTS credentials_2;`); err != nil {
		return fmt.Errorf("drop stale credentials_2: %w", err)
	}
	if err := s.exec.Exec(ctx, `
		CREATE TABLE credentials_2 (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			owner INTEGER,
			name TEXT NOT NULL,
			login TEXT,
			secret TEXT,
			comment TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return fmt.Errorf("create credentials_2: %w", err)
	}
	if err := s.exec.RenameColumn(ctx, "credentials", "credentials_2", "password", "secret"); err != nil {
		return fmt.Errorf("copy credentials under rename: %w", err)
	}
	if err := s.exec.Exec(ctx, `DROP INDEX IF EXISTS idx_credentials_owner_name;`); err != nil {
		return err
	}
	if err := s.exec.Exec(ctx, `DROP TABLE credentials;`); err != nil {
		return fmt.Errorf("drop old credentials: %w", err)
	}
	if err := s.exec.Exec(ctx, `ALTER TABLE credentials_2 RENAME TO credentials;`); err != nil {
		return fmt.Errorf("rename credentials_2: %w", err)
	}
	return nil
}
