package repo

import (
	"context"
	"database/sql"
	"errors"

	"codeblue/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertMember(ctx context.Context, m domain.Member) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO members(phone,name,created_at) VALUES (?,?,?)
ON CONFLICT(phone) DO UPDATE SET name=excluded.name`, m.Phone, m.Name, m.CreatedAt)
	return err
}

func (r Repo) GetMember(ctx context.Context, phone string) (domain.Member, error) {
	var m domain.Member
	err := r.DB.QueryRowContext(ctx, `SELECT phone,name,created_at FROM members WHERE phone=?`, phone).
		Scan(&m.Phone, &m.Name, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

func (r Repo) DeleteMember(ctx context.Context, phone string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM members WHERE phone=?`, phone)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMembers returns the roster in insertion order; this order fixes the
// entry order of every incident created from it.
func (r Repo) ListMembers(ctx context.Context) ([]domain.Member, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT phone,name,created_at FROM members ORDER BY created_at, phone`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Member
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.Phone, &m.Name, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// MemberNames returns a contact -> display name lookup for report rendering.
func (r Repo) MemberNames(ctx context.Context) (map[string]string, error) {
	members, err := r.ListMembers(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(members))
	for _, m := range members {
		names[m.Phone] = m.Name
	}
	return names, nil
}

func (r Repo) LatestEvents(ctx context.Context, limit int, incidentID, evtType string) ([]domain.Event, error) {
	query := `SELECT id,ts,type,COALESCE(incident_id,''),COALESCE(contact,''),payload_json FROM events`
	var (
		clauses []string
		args    []any
	)
	if incidentID != "" {
		clauses = append(clauses, `incident_id=?`)
		args = append(args, incidentID)
	}
	if evtType != "" {
		clauses = append(clauses, `type=?`)
		args = append(args, evtType)
	}
	for i, c := range clauses {
		if i == 0 {
			query += ` WHERE ` + c
		} else {
			query += ` AND ` + c
		}
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.IncidentID, &e.Contact, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
