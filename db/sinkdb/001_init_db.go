package sinkdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

func init() {
	migrate(up001, down001)
}

func up001(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, strings.ReplaceAll(`
		CREATE TABLE packets (
			id            INTEGER PRIMARY KEY,
			user_id       INTEGER NOT NULL,
			lat_e7        INTEGER NOT NULL,
			lon_e7        INTEGER NOT NULL,
			timestamp_ms  INTEGER NOT NULL,
			created_at_ms INTEGER NOT NULL,
			is_trapped    INTEGER NOT NULL,
			msg_type      INTEGER NOT NULL,
			alert_level   INTEGER NOT NULL,
			pubkey_hex    TEXT NOT NULL,
			packet_id_hex TEXT NOT NULL DEFAULT '',
			inserted_at   INTEGER NOT NULL
		) STRICT;
	`, `
		`, "\n")); err != nil {
		return fmt.Errorf("create packets table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `CREATE INDEX packets_user_id_idx ON packets(user_id, timestamp_ms)`); err != nil {
		return fmt.Errorf("create packets index: %w", err)
	}
	return nil
}

func down001(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, `DROP INDEX packets_user_id_idx`); err != nil {
		return fmt.Errorf("drop packets_user_id_idx index: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DROP TABLE packets`); err != nil {
		return fmt.Errorf("drop packets table: %w", err)
	}
	return nil
}
