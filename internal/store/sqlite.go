package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for transfer history
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	// Run migrations
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Store initialized successfully", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// CreateTransfer inserts a new TransferRecord and sets its ID
func (s *Store) CreateTransfer(rec *TransferRecord) error {
	const query = `
		INSERT INTO transfers (
			transfer_id, asset_name, url, dest_path, extract_dir, status, reason,
			bytes_written, entries_extracted, error_message, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(
		query,
		rec.TransferID, rec.AssetName, rec.URL, rec.DestPath, rec.ExtractDir,
		rec.Status, rec.Reason, rec.BytesWritten, rec.EntriesExtracted,
		rec.ErrorMessage, rec.StartedAt, rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transfer: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	rec.ID = id
	return nil
}

// UpdateTransfer updates an existing TransferRecord by ID
func (s *Store) UpdateTransfer(rec *TransferRecord) error {
	const query = `
		UPDATE transfers SET
			transfer_id = ?, asset_name = ?, url = ?, dest_path = ?, extract_dir = ?,
			status = ?, reason = ?, bytes_written = ?, entries_extracted = ?,
			error_message = ?, started_at = ?, finished_at = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(
		query,
		rec.TransferID, rec.AssetName, rec.URL, rec.DestPath, rec.ExtractDir,
		rec.Status, rec.Reason, rec.BytesWritten, rec.EntriesExtracted,
		rec.ErrorMessage, rec.StartedAt, rec.FinishedAt, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update transfer: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("transfer not found: %d", rec.ID)
	}

	return nil
}

// GetTransfer retrieves a TransferRecord by its transfer ID
func (s *Store) GetTransfer(transferID string) (*TransferRecord, error) {
	const query = `
		SELECT id, transfer_id, asset_name, url, dest_path, extract_dir, status, reason,
		       bytes_written, entries_extracted, error_message, started_at, finished_at
		FROM transfers WHERE transfer_id = ?
	`

	rec := &TransferRecord{}
	err := s.db.QueryRow(query, transferID).Scan(
		&rec.ID, &rec.TransferID, &rec.AssetName, &rec.URL, &rec.DestPath,
		&rec.ExtractDir, &rec.Status, &rec.Reason, &rec.BytesWritten,
		&rec.EntriesExtracted, &rec.ErrorMessage, &rec.StartedAt, &rec.FinishedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("transfer not found: %s", transferID)
		}
		return nil, fmt.Errorf("failed to query transfer: %w", err)
	}

	return rec, nil
}

// ListTransfers retrieves TransferRecords newest first, optionally filtered by status
func (s *Store) ListTransfers(status string, limit int) ([]TransferRecord, error) {
	query := `
		SELECT id, transfer_id, asset_name, url, dest_path, extract_dir, status, reason,
		       bytes_written, entries_extracted, error_message, started_at, finished_at
		FROM transfers
	`
	var args []interface{}

	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}

	query += " ORDER BY started_at DESC, id DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var records []TransferRecord
	for rows.Next() {
		rec := TransferRecord{}
		err := rows.Scan(
			&rec.ID, &rec.TransferID, &rec.AssetName, &rec.URL, &rec.DestPath,
			&rec.ExtractDir, &rec.Status, &rec.Reason, &rec.BytesWritten,
			&rec.EntriesExtracted, &rec.ErrorMessage, &rec.StartedAt, &rec.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transfers: %w", err)
	}

	return records, nil
}

// CountTransfers returns the count of transfers, optionally filtered by status
func (s *Store) CountTransfers(status string) (int, error) {
	query := "SELECT COUNT(*) FROM transfers"
	var args []interface{}

	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}

	var count int
	err := s.db.QueryRow(query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transfers: %w", err)
	}

	return count, nil
}

// SumBytesWritten returns the total bytes written across all transfers
func (s *Store) SumBytesWritten() (int64, error) {
	const query = "SELECT COALESCE(SUM(bytes_written), 0) FROM transfers"

	var total int64
	err := s.db.QueryRow(query).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum bytes written: %w", err)
	}

	return total, nil
}
