package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
)

var ErrJournalEntryNotFound = errors.New("journal entry not found")

// NewJournalEntry builds an entry in the issued state with a fresh id.
func NewJournalEntry(device, command string, seconds int32, target float64) model.JournalEntry {
	now := time.Now().UTC()
	return model.JournalEntry{
		ID:        uuid.NewString(),
		Device:    device,
		Command:   command,
		Seconds:   seconds,
		Target:    target,
		Status:    model.JournalIssued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func InsertJournalEntry(ctx context.Context, db *sql.DB, e model.JournalEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO command_journal (id, device, command, opid, seconds, target, status, detail, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Device, e.Command, int(e.OPID), int(e.Seconds), e.Target, string(e.Status), e.Detail,
		e.CreatedAt.Format(time.RFC3339Nano), e.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert journal entry %s: %w", e.ID, err)
	}
	return nil
}

// UpdateJournalEntry moves an entry to status, recording the OPID it was sent under.
func UpdateJournalEntry(ctx context.Context, db *sql.DB, id string, status model.JournalStatus, opid uint16, detail string) error {
	res, err := db.ExecContext(ctx, `
		UPDATE command_journal SET status = ?, opid = ?, detail = ?, updated_at = ? WHERE id = ?`,
		string(status), int(opid), detail, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("update journal entry %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update journal entry %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("update journal entry %s: %w", id, ErrJournalEntryNotFound)
	}
	return nil
}

// ListUnfinishedJournal returns entries that were issued or sent but never persisted or
// marked failed, oldest first.
func ListUnfinishedJournal(ctx context.Context, db *sql.DB) ([]model.JournalEntry, error) {
	return queryJournal(ctx, db, `
		SELECT id, device, command, opid, seconds, target, status, detail, created_at, updated_at
		FROM command_journal WHERE status IN (?, ?) ORDER BY rowid`,
		string(model.JournalIssued), string(model.JournalSent))
}

// ListJournal returns the newest limit entries, newest first.
func ListJournal(ctx context.Context, db *sql.DB, limit int) ([]model.JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	return queryJournal(ctx, db, `
		SELECT id, device, command, opid, seconds, target, status, detail, created_at, updated_at
		FROM command_journal ORDER BY rowid DESC LIMIT ?`, limit)
}

func queryJournal(ctx context.Context, db *sql.DB, query string, args ...any) ([]model.JournalEntry, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []model.JournalEntry
	for rows.Next() {
		var e model.JournalEntry
		var opid, seconds int
		var status, created, updated string
		if err := rows.Scan(&e.ID, &e.Device, &e.Command, &opid, &seconds, &e.Target, &status, &e.Detail, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		e.OPID = uint16(opid)
		e.Seconds = int32(seconds)
		e.Status = model.JournalStatus(status)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	return entries, nil
}

// Journal exposes the command journal functions over one connection.
type Journal struct {
	Conn *sql.DB
}

func (j Journal) Insert(ctx context.Context, e model.JournalEntry) error {
	return InsertJournalEntry(ctx, j.Conn, e)
}

func (j Journal) Update(ctx context.Context, id string, status model.JournalStatus, opid uint16, detail string) error {
	return UpdateJournalEntry(ctx, j.Conn, id, status, opid, detail)
}

func (j Journal) Unfinished(ctx context.Context) ([]model.JournalEntry, error) {
	return ListUnfinishedJournal(ctx, j.Conn)
}
