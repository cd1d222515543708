package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"pedolone.org/internal/authz"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store implements authz.Store on Postgres. String collections travel as
// jsonb so the schema stays driver-neutral.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ authz.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewWithDB(db), nil
}

// NewWithDB wraps an existing connection pool. Used by tests with sqlmock.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// --- organizations ---

func (s *Store) CreateOrganization(ctx context.Context, org authz.Organization) error {
	_, err := s.db.ExecContext(ctx, `
		insert into organizations (id, name, secret_hash, created_at)
		values ($1, $2, $3, $4)
	`, org.ID, org.Name, org.SecretHash, org.CreatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return fmt.Errorf("%w: organization %q", authz.ErrConflict, org.Name)
	}
	return err
}

func (s *Store) GetOrganization(ctx context.Context, id string) (authz.Organization, error) {
	var org authz.Organization
	err := s.db.QueryRowContext(ctx, `
		select id, name, secret_hash, created_at
		from organizations where id = $1
	`, id).Scan(&org.ID, &org.Name, &org.SecretHash, &org.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Organization{}, fmt.Errorf("%w: organization %s", authz.ErrNotFound, id)
	}
	if err != nil {
		return authz.Organization{}, err
	}
	return org, nil
}

func (s *Store) ListOrganizations(ctx context.Context) ([]authz.Organization, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, secret_hash, created_at
		from organizations order by id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []authz.Organization
	for rows.Next() {
		var org authz.Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.SecretHash, &org.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, org)
	}
	return out, rows.Err()
}

// --- contracts ---

const contractColumns = `
	id, name, type, requester_org_id, target_org_id, grants,
	approval_status, lifecycle_status, approval_message, response_message,
	version, created_by, prev_version_id, superseded_by, signature,
	created_at, ends_at`

func (s *Store) CreateContract(ctx context.Context, c authz.Contract) error {
	grants, err := json.Marshal(c.Grants)
	if err != nil {
		return fmt.Errorf("encode grants: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into contracts (`+contractColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,nullif($13,''),nullif($14,''),$15,$16,$17)
	`, c.ID, c.Name, c.Type, c.RequesterOrgID, c.TargetOrgID, grants,
		c.ApprovalStatus, c.LifecycleStatus, c.ApprovalMessage, c.ResponseMessage,
		c.Version, c.CreatedBy, c.PrevVersionID, c.SupersededBy, c.Signature,
		c.CreatedAt, c.EndsAt)
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return fmt.Errorf("%w: contract %s", authz.ErrConflict, c.ID)
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: organization", authz.ErrNotFound)
		}
	}
	return err
}

func (s *Store) GetContract(ctx context.Context, id string) (authz.Contract, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+contractColumns+` from contracts where id = $1
	`, id)
	c, err := scanContract(row)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Contract{}, fmt.Errorf("%w: contract %s", authz.ErrNotFound, id)
	}
	return c, err
}

func (s *Store) ListContractsByOrg(ctx context.Context, orgID string) ([]authz.Contract, error) {
	return s.queryContracts(ctx, `
		select `+contractColumns+` from contracts
		where requester_org_id = $1 or target_org_id = $1
		order by created_at desc, id
	`, orgID)
}

func (s *Store) ListContractsBetween(ctx context.Context, requesterOrgID, targetOrgID string) ([]authz.Contract, error) {
	return s.queryContracts(ctx, `
		select `+contractColumns+` from contracts
		where requester_org_id = $1 and target_org_id = $2
		order by created_at desc, id
	`, requesterOrgID, targetOrgID)
}

func (s *Store) UpdateContract(ctx context.Context, c authz.Contract, expectedVersion int64) (authz.Contract, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return authz.Contract{}, err
	}
	defer func() { _ = tx.Rollback() }()

	updated, err := updateContractTx(ctx, tx, c, expectedVersion)
	if err != nil {
		return authz.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return authz.Contract{}, err
	}
	return updated, nil
}

func (s *Store) SupersedeContract(ctx context.Context, priorID string, next authz.Contract) (authz.Contract, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return authz.Contract{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update contracts
		set lifecycle_status = $2, superseded_by = $3
		where id = $1
	`, priorID, authz.LifecycleDeleted, next.ID)
	if err != nil {
		return authz.Contract{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return authz.Contract{}, fmt.Errorf("%w: contract %s", authz.ErrNotFound, priorID)
	}
	updated, err := updateContractTx(ctx, tx, next, next.Version)
	if err != nil {
		return authz.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return authz.Contract{}, err
	}
	return updated, nil
}

func updateContractTx(ctx context.Context, tx *sql.Tx, c authz.Contract, expectedVersion int64) (authz.Contract, error) {
	var current int64
	err := tx.QueryRowContext(ctx, `
		select version from contracts where id = $1 for update
	`, c.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Contract{}, fmt.Errorf("%w: contract %s", authz.ErrNotFound, c.ID)
	}
	if err != nil {
		return authz.Contract{}, err
	}
	if current != expectedVersion {
		return authz.Contract{}, fmt.Errorf("%w: contract %s is at version %d, expected %d",
			authz.ErrContractConflict, c.ID, current, expectedVersion)
	}

	grants, err := json.Marshal(c.Grants)
	if err != nil {
		return authz.Contract{}, fmt.Errorf("encode grants: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		update contracts
		set name = $2, grants = $3, approval_status = $4, lifecycle_status = $5,
		    approval_message = $6, response_message = $7, version = $8,
		    prev_version_id = nullif($9,''), superseded_by = nullif($10,''), ends_at = $11
		where id = $1
	`, c.ID, c.Name, grants, c.ApprovalStatus, c.LifecycleStatus,
		c.ApprovalMessage, c.ResponseMessage, c.Version,
		c.PrevVersionID, c.SupersededBy, c.EndsAt); err != nil {
		return authz.Contract{}, err
	}
	return c, nil
}

func (s *Store) queryContracts(ctx context.Context, query string, args ...any) ([]authz.Contract, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []authz.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContract(row rowScanner) (authz.Contract, error) {
	var (
		c         authz.Contract
		grants    []byte
		prevID    sql.NullString
		superseded sql.NullString
	)
	err := row.Scan(&c.ID, &c.Name, &c.Type, &c.RequesterOrgID, &c.TargetOrgID, &grants,
		&c.ApprovalStatus, &c.LifecycleStatus, &c.ApprovalMessage, &c.ResponseMessage,
		&c.Version, &c.CreatedBy, &prevID, &superseded, &c.Signature,
		&c.CreatedAt, &c.EndsAt)
	if err != nil {
		return authz.Contract{}, err
	}
	if len(grants) > 0 {
		if err := json.Unmarshal(grants, &c.Grants); err != nil {
			return authz.Contract{}, fmt.Errorf("decode grants: %w", err)
		}
	}
	c.PrevVersionID = prevID.String
	c.SupersededBy = superseded.String
	return c, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
