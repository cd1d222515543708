package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pedolone.org/internal/audit"
)

// AuditStore persists the append-only trail in Postgres.
type AuditStore struct {
	db *sql.DB
}

var _ audit.Store = (*AuditStore)(nil)

// NewAuditStore wraps an existing connection pool.
func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Append(ctx context.Context, e audit.Entry) error {
	details := []byte("{}")
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("encode details: %w", err)
		}
		details = raw
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log
			(id, log_type, actor_org_id, actor_org_name,
			 counterparty_org_id, counterparty_org_name,
			 resource, purpose, ip_address, region, created_at, details)
		values ($1,$2,$3,$4,nullif($5,''),$6,$7,$8,$9,$10,$11,$12)
	`, e.ID, e.LogType, e.ActorOrgID, e.ActorOrgName,
		e.CounterpartyOrgID, e.CounterpartyOrgName,
		e.Resource, e.Purpose, e.IPAddress, e.Region, e.CreatedAt, details)
	return err
}

func (s *AuditStore) Query(ctx context.Context, orgID string, f audit.Filter, p audit.Page) ([]audit.Entry, int, error) {
	if p.Limit <= 0 || p.Limit > 1000 {
		p.Limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if orgID != "" {
		ph := arg(orgID)
		where = append(where, "(actor_org_id = "+ph+" or counterparty_org_id = "+ph+")")
	}
	if f.LogType != "" {
		where = append(where, "log_type = "+arg(string(f.LogType)))
	}
	if !f.From.IsZero() {
		where = append(where, "created_at >= "+arg(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "created_at <= "+arg(f.To))
	}
	if f.Search != "" {
		ph := arg("%" + strings.ToLower(f.Search) + "%")
		where = append(where, `(
			lower(actor_org_name) like `+ph+` or
			lower(counterparty_org_name) like `+ph+` or
			lower(resource) like `+ph+` or
			lower(purpose) like `+ph+` or
			lower(ip_address) like `+ph+` or
			lower(region) like `+ph+`)`)
	}
	clause := ""
	if len(where) > 0 {
		clause = " where " + strings.Join(where, " and ")
	}

	query := `
		select id, log_type, actor_org_id, actor_org_name,
		       coalesce(counterparty_org_id,''), counterparty_org_name,
		       resource, purpose, ip_address, region, created_at, details,
		       count(*) over() as total
		from audit_log` + clause + `
		order by created_at desc, id desc
		limit ` + arg(p.Limit) + ` offset ` + arg(p.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		out   []audit.Entry
		total int
	)
	for rows.Next() {
		var (
			e       audit.Entry
			created time.Time
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.LogType, &e.ActorOrgID, &e.ActorOrgName,
			&e.CounterpartyOrgID, &e.CounterpartyOrgName,
			&e.Resource, &e.Purpose, &e.IPAddress, &e.Region, &created, &details, &total); err != nil {
			return nil, 0, err
		}
		e.CreatedAt = created
		if len(details) > 0 && string(details) != "{}" {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, 0, fmt.Errorf("decode details: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if total == 0 && len(out) == 0 {
		// The window total is only present on returned rows; an empty page
		// past the end still needs the real count.
		countQuery := "select count(*) from audit_log" + clause
		if err := s.db.QueryRowContext(ctx, countQuery, args[:len(args)-2]...).Scan(&total); err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}
