package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// SQLite is a single file record store for local use. Records of all
// collections live in one table with their fields encoded as JSON.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite creates or opens the database at path and applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	// one writer at a time avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Insert(ctx context.Context, collection, id string, fields Fields) error {
	data, err := marshalFields(fields)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (collection, id, fields) VALUES (?, ?, ?)`,
		collection, id, string(data))
	return err
}

func (s *SQLite) Merge(ctx context.Context, collection, id string, fields Fields) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var data string
	err = tx.QueryRowContext(ctx,
		`SELECT fields FROM records WHERE collection = ? AND id = ?`,
		collection, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	current, err := unmarshalFields([]byte(data))
	if err != nil {
		return fmt.Errorf("decode record %s: %w", id, err)
	}
	for k, v := range fields {
		current[k] = v
	}
	merged, err := marshalFields(current)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE records SET fields = ? WHERE collection = ? AND id = ?`,
		string(merged), collection, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) Delete(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE collection = ? AND id = ?`, collection, id)
	return err
}

func (s *SQLite) Scan(ctx context.Context, collection string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fields FROM records WHERE collection = ?`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs := []Record{}
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		fields, err := unmarshalFields([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("decode record %s: %w", id, err)
		}
		recs = append(recs, Record{ID: id, Fields: fields})
	}
	return recs, rows.Err()
}

func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
