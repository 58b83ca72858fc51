package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"codeblue/internal/domain"
)

// maxUpdateAttempts bounds the optimistic retry loop in UpdateIncident.
const maxUpdateAttempts = 3

// ErrConflict is returned when an incident update loses the version race on
// every attempt. The inbound event that caused the update is dropped.
var ErrConflict = errors.New("incident update conflict")

// MutateFunc inspects and mutates a freshly read incident. Returning false
// means nothing changed and no write is performed. The transaction is exposed
// so callers can append audit events atomically with the change.
type MutateFunc func(tx *sql.Tx, inc *domain.Incident) (bool, error)

// CreateIncidentTx inserts an incident and its entries inside the caller's
// transaction.
func (r Repo) CreateIncidentTx(ctx context.Context, tx *sql.Tx, inc domain.Incident) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO incidents(id,created_at,version) VALUES (?,?,0)`,
		inc.ID, inc.CreatedAt); err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	for i, e := range inc.Entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO incident_entries(incident_id,position,phone,status,attempt_tier,dispatch_ref) VALUES (?,?,?,?,?,?)`,
			inc.ID, i, e.Phone, e.Status, e.AttemptTier, e.DispatchRef); err != nil {
			return fmt.Errorf("insert entry %s: %w", e.Phone, err)
		}
	}
	return nil
}

func (r Repo) GetIncident(ctx context.Context, id string) (domain.Incident, error) {
	return r.getIncident(ctx, r.DB, id)
}

// LatestIncident returns the most recently created incident. Inbound response
// events without an explicit incident id resolve against it.
func (r Repo) LatestIncident(ctx context.Context) (domain.Incident, error) {
	var id string
	err := r.DB.QueryRowContext(ctx, `SELECT id FROM incidents ORDER BY created_at DESC, id DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return domain.Incident{}, ErrNotFound
	}
	if err != nil {
		return domain.Incident{}, err
	}
	return r.getIncident(ctx, r.DB, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r Repo) getIncident(ctx context.Context, q querier, id string) (domain.Incident, error) {
	var inc domain.Incident
	var reported sql.NullString
	err := q.QueryRowContext(ctx, `SELECT id,created_at,version,reported_at FROM incidents WHERE id=?`, id).
		Scan(&inc.ID, &inc.CreatedAt, &inc.Version, &reported)
	if err == sql.ErrNoRows {
		return inc, ErrNotFound
	}
	if err != nil {
		return inc, err
	}
	if reported.Valid {
		inc.ReportedAt = &reported.String
	}
	rows, err := q.QueryContext(ctx,
		`SELECT phone,status,attempt_tier,dispatch_ref FROM incident_entries WHERE incident_id=? ORDER BY position`, id)
	if err != nil {
		return inc, err
	}
	defer rows.Close()
	for rows.Next() {
		var e domain.Entry
		var ref sql.NullString
		if err := rows.Scan(&e.Phone, &e.Status, &e.AttemptTier, &ref); err != nil {
			return inc, err
		}
		if ref.Valid {
			e.DispatchRef = &ref.String
		}
		inc.Entries = append(inc.Entries, e)
	}
	return inc, rows.Err()
}

// UpdateIncident runs a bounded optimistic read-modify-write cycle: read the
// incident, apply mutate, write back guarded by the version read. A lost race
// re-reads and retries with fresh state; after maxUpdateAttempts the update
// surfaces ErrConflict. The store row, never process memory, is authoritative.
func (r Repo) UpdateIncident(ctx context.Context, id string, mutate MutateFunc) (domain.Incident, error) {
	var lastErr error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		inc, err := r.updateIncidentOnce(ctx, id, mutate)
		if err == nil {
			return inc, nil
		}
		if !retryable(err) {
			return domain.Incident{}, err
		}
		lastErr = err
	}
	return domain.Incident{}, fmt.Errorf("%w after %d attempts: %v", ErrConflict, maxUpdateAttempts, lastErr)
}

func (r Repo) updateIncidentOnce(ctx context.Context, id string, mutate MutateFunc) (domain.Incident, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Incident{}, err
	}
	defer tx.Rollback()

	inc, err := r.getIncident(ctx, tx, id)
	if err != nil {
		return domain.Incident{}, err
	}
	readVersion := inc.Version

	changed, err := mutate(tx, &inc)
	if err != nil {
		return domain.Incident{}, err
	}
	if !changed {
		return inc, nil
	}

	res, err := tx.ExecContext(ctx, `UPDATE incidents SET version=version+1, reported_at=? WHERE id=? AND version=?`,
		nullableStr(inc.ReportedAt), id, readVersion)
	if err != nil {
		return domain.Incident{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Incident{}, fmt.Errorf("incident %s version changed: %w", id, ErrConflict)
	}
	for _, e := range inc.Entries {
		if _, err := tx.ExecContext(ctx,
			`UPDATE incident_entries SET status=?, attempt_tier=?, dispatch_ref=? WHERE incident_id=? AND phone=?`,
			e.Status, e.AttemptTier, nullableStr(e.DispatchRef), id, e.Phone); err != nil {
			return domain.Incident{}, fmt.Errorf("update entry %s: %w", e.Phone, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Incident{}, err
	}
	inc.Version = readVersion + 1
	return inc, nil
}

func retryable(err error) bool {
	if errors.Is(err, ErrConflict) {
		return true
	}
	// modernc.org/sqlite surfaces lock contention as SQLITE_BUSY/LOCKED text.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

func nullableStr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
