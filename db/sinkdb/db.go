// Package sinkdb implements a sqlite3-backed sink.Sink for operators who want
// queryable history instead of flat ndjson files.
package sinkdb

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jmoiron/sqlx"
	"github.com/sinyalist/ingestd/pkg/sink"
)

// DB stores accepted packets in a sqlite3 database.
type DB struct {
	x *sqlx.DB
}

// Open opens (creating if absent) a DB from the provided sqlite3 filename,
// and migrates it to the latest schema version.
func Open(name string) (*DB, error) {
	// WAL and a larger cache make writes and queries much faster under the
	// bursty batch-insert pattern the persistence worker uses.
	x, err := sqlx.Connect("sqlite3", (&url.URL{
		Path: name,
		RawQuery: (url.Values{
			"_journal":      {"WAL"},
			"_cache_size":   {"-32000"},
			"_busy_timeout": {"6000"},
		}).Encode(),
	}).String())
	if err != nil {
		return nil, err
	}

	db := &DB{x}
	if _, required, err := db.Version(); err != nil {
		x.Close()
		return nil, fmt.Errorf("get schema version: %w", err)
	} else if err := db.MigrateUp(context.Background(), required); err != nil {
		x.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return db, nil
}

// Append inserts one row per record in a single transaction.
func (db *DB) Append(records []sink.Record) error {
	tx, err := db.x.Beginx()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamed(`
		INSERT INTO packets
		( user_id,  lat_e7,  lon_e7,  timestamp_ms,  created_at_ms,  is_trapped,  msg_type,  alert_level,  pubkey_hex,  packet_id_hex, inserted_at)
		VALUES
		(:user_id, :lat_e7, :lon_e7, :timestamp_ms, :created_at_ms, :is_trapped, :msg_type, :alert_level, :pubkey_hex, :packet_id_hex, strftime('%s','now'))
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(r); err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
	}
	return tx.Commit()
}

func (db *DB) Close() error {
	return db.x.Close()
}

var _ sink.Sink = (*DB)(nil)
