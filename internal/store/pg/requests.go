package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pedolone.org/internal/authz"
)

const requestColumns = `
	id, requester_org_id, target_org_id, target_user_org_id, target_user_id,
	contract_ids, resources, purposes, retention_window, status,
	is_bulk, bulk_group_id, message, response_message,
	responded_by, responded_at, created_at, expires_at`

func (s *Store) CreateRequests(ctx context.Context, group *authz.BulkRequestGroup, requests []authz.AccessRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Commit-time re-check: every backing contract must still be usable while
	// we hold its row lock.
	now := s.now()
	checked := map[string]struct{}{}
	for _, r := range requests {
		for _, cid := range r.ContractIDs {
			if _, done := checked[cid]; done {
				continue
			}
			checked[cid] = struct{}{}
			var (
				approval  authz.ApprovalStatus
				lifecycle authz.LifecycleStatus
				endsAt    time.Time
			)
			err := tx.QueryRowContext(ctx, `
				select approval_status, lifecycle_status, ends_at
				from contracts where id = $1 for update
			`, cid).Scan(&approval, &lifecycle, &endsAt)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: contract %s is no longer usable", authz.ErrContractExpired, cid)
			}
			if err != nil {
				return err
			}
			usable := approval == authz.ApprovalApproved &&
				lifecycle == authz.LifecycleActive && now.Before(endsAt)
			if !usable {
				return fmt.Errorf("%w: contract %s is no longer usable", authz.ErrContractExpired, cid)
			}
		}
	}

	if group != nil {
		users, err := json.Marshal(group.TargetUsers)
		if err != nil {
			return fmt.Errorf("encode target users: %w", err)
		}
		resources, purposes, err := encodeSets(group.Resources, group.Purposes)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into bulk_request_groups
				(id, requester_org_id, target_org_id, target_users,
				 resources, purposes, retention_window, created_at)
			values ($1,$2,$3,$4,$5,$6,$7,$8)
		`, group.ID, group.RequesterOrgID, group.TargetOrgID, users,
			resources, purposes, group.RetentionWindow, group.CreatedAt); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return fmt.Errorf("%w: bulk group %s", authz.ErrConflict, group.ID)
			}
			return err
		}
	}

	for _, r := range requests {
		contractIDs, err := json.Marshal(r.ContractIDs)
		if err != nil {
			return fmt.Errorf("encode contract ids: %w", err)
		}
		resources, purposes, err := encodeSets(r.Resources, r.Purposes)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into access_requests (`+requestColumns+`)
			values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,nullif($12,''),$13,$14,nullif($15,''),$16,$17,$18)
		`, r.ID, r.RequesterOrgID, r.TargetOrgID, r.TargetUser.OrgID, r.TargetUser.UserID,
			contractIDs, resources, purposes, r.RetentionWindow, r.Status,
			r.IsBulk, r.BulkGroupID, r.Message, r.ResponseMessage,
			r.RespondedBy, r.RespondedAt, r.CreatedAt, r.ExpiresAt); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return fmt.Errorf("%w: request %s", authz.ErrConflict, r.ID)
			}
			return err
		}
	}

	if group != nil {
		refreshed, err := loadGroupTx(ctx, tx, group.ID, now)
		if err != nil {
			return err
		}
		*group = refreshed
	}
	return tx.Commit()
}

func (s *Store) GetRequest(ctx context.Context, id string) (authz.AccessRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+requestColumns+` from access_requests where id = $1
	`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.AccessRequest{}, fmt.Errorf("%w: request %s", authz.ErrNotFound, id)
	}
	return r, err
}

func (s *Store) ListRequestsByOrg(ctx context.Context, orgID string) ([]authz.AccessRequest, error) {
	return s.queryRequests(ctx, `
		select `+requestColumns+` from access_requests
		where requester_org_id = $1 or target_org_id = $1
		order by created_at desc, id
	`, orgID)
}

func (s *Store) GetBulkGroup(ctx context.Context, id string) (authz.BulkRequestGroup, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return authz.BulkRequestGroup{}, err
	}
	defer func() { _ = tx.Rollback() }()
	g, err := loadGroupTx(ctx, tx, id, s.now())
	if err != nil {
		return authz.BulkRequestGroup{}, err
	}
	return g, tx.Commit()
}

func (s *Store) ListBulkRequests(ctx context.Context, groupID string) ([]authz.AccessRequest, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from bulk_request_groups where id = $1)
	`, groupID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: bulk group %s", authz.ErrNotFound, groupID)
	}
	return s.queryRequests(ctx, `
		select `+requestColumns+` from access_requests
		where bulk_group_id = $1
		order by id
	`, groupID)
}

func (s *Store) TransitionRequest(ctx context.Context, id string, status authz.RequestStatus, respondedBy, message string) (authz.AccessRequest, authz.BulkRequestGroup, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return authz.AccessRequest{}, authz.BulkRequestGroup{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		select `+requestColumns+` from access_requests where id = $1 for update
	`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.AccessRequest{}, authz.BulkRequestGroup{}, fmt.Errorf("%w: request %s", authz.ErrNotFound, id)
	}
	if err != nil {
		return authz.AccessRequest{}, authz.BulkRequestGroup{}, err
	}

	now := s.now()
	if r.Status != authz.RequestPending {
		return authz.AccessRequest{}, authz.BulkRequestGroup{}, fmt.Errorf("%w: request %s has already been responded to", authz.ErrConflict, id)
	}
	if !now.Before(r.ExpiresAt) {
		if _, err := tx.ExecContext(ctx, `
			update access_requests set status = $2 where id = $1
		`, id, authz.RequestExpired); err != nil {
			return authz.AccessRequest{}, authz.BulkRequestGroup{}, err
		}
		if err := tx.Commit(); err != nil {
			return authz.AccessRequest{}, authz.BulkRequestGroup{}, err
		}
		return authz.AccessRequest{}, authz.BulkRequestGroup{}, fmt.Errorf("%w: request %s has expired", authz.ErrConflict, id)
	}

	if _, err := tx.ExecContext(ctx, `
		update access_requests
		set status = $2, responded_by = nullif($3,''), response_message = $4, responded_at = $5
		where id = $1
	`, id, status, respondedBy, message, now); err != nil {
		return authz.AccessRequest{}, authz.BulkRequestGroup{}, err
	}
	r.Status = status
	r.RespondedBy = respondedBy
	r.ResponseMessage = message
	r.RespondedAt = &now

	var group authz.BulkRequestGroup
	if r.IsBulk {
		group, err = loadGroupTx(ctx, tx, r.BulkGroupID, now)
		if err != nil {
			return authz.AccessRequest{}, authz.BulkRequestGroup{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return authz.AccessRequest{}, authz.BulkRequestGroup{}, err
	}
	return r, group, nil
}

func (s *Store) TransitionBulkGroup(ctx context.Context, groupID string, status authz.RequestStatus, respondedBy string) (authz.BulkRequestGroup, []authz.AccessRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return authz.BulkRequestGroup{}, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the group row so concurrent group transitions serialize.
	var exists bool
	if err := tx.QueryRowContext(ctx, `
		select true from bulk_request_groups where id = $1 for update
	`, groupID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authz.BulkRequestGroup{}, nil, fmt.Errorf("%w: bulk group %s", authz.ErrNotFound, groupID)
		}
		return authz.BulkRequestGroup{}, nil, err
	}

	now := s.now()
	// Pending members past their window read as expired instead.
	if _, err := tx.ExecContext(ctx, `
		update access_requests set status = $3
		where bulk_group_id = $1 and status = $2 and expires_at <= $4
	`, groupID, authz.RequestPending, authz.RequestExpired, now); err != nil {
		return authz.BulkRequestGroup{}, nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		update access_requests
		set status = $3, responded_by = nullif($4,''), responded_at = $5
		where bulk_group_id = $1 and status = $2
		returning `+requestColumns+`
	`, groupID, authz.RequestPending, status, respondedBy, now)
	if err != nil {
		return authz.BulkRequestGroup{}, nil, err
	}
	var transitioned []authz.AccessRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			rows.Close()
			return authz.BulkRequestGroup{}, nil, err
		}
		transitioned = append(transitioned, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return authz.BulkRequestGroup{}, nil, err
	}
	if len(transitioned) == 0 {
		return authz.BulkRequestGroup{}, nil, fmt.Errorf("%w: bulk group %s has no pending requests", authz.ErrConflict, groupID)
	}

	group, err := loadGroupTx(ctx, tx, groupID, now)
	if err != nil {
		return authz.BulkRequestGroup{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return authz.BulkRequestGroup{}, nil, err
	}
	return group, transitioned, nil
}

// loadGroupTx reads a group and derives its counts from the member rows.
func loadGroupTx(ctx context.Context, tx *sql.Tx, id string, now time.Time) (authz.BulkRequestGroup, error) {
	var (
		g         authz.BulkRequestGroup
		users     []byte
		resources []byte
		purposes  []byte
	)
	err := tx.QueryRowContext(ctx, `
		select id, requester_org_id, target_org_id, target_users,
		       resources, purposes, retention_window, created_at
		from bulk_request_groups where id = $1
	`, id).Scan(&g.ID, &g.RequesterOrgID, &g.TargetOrgID, &users,
		&resources, &purposes, &g.RetentionWindow, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.BulkRequestGroup{}, fmt.Errorf("%w: bulk group %s", authz.ErrNotFound, id)
	}
	if err != nil {
		return authz.BulkRequestGroup{}, err
	}
	if err := decodeJSONInto(users, &g.TargetUsers); err != nil {
		return authz.BulkRequestGroup{}, err
	}
	if err := decodeJSONInto(resources, &g.Resources); err != nil {
		return authz.BulkRequestGroup{}, err
	}
	if err := decodeJSONInto(purposes, &g.Purposes); err != nil {
		return authz.BulkRequestGroup{}, err
	}

	// A pending member past its window reads as expired, so it must not be
	// counted as pending.
	err = tx.QueryRowContext(ctx, `
		select
			count(*) filter (where status = 'pending' and expires_at > $2),
			count(*) filter (where status = 'approved'),
			count(*) filter (where status = 'rejected')
		from access_requests where bulk_group_id = $1
	`, id, now).Scan(&g.PendingCount, &g.ApprovedCount, &g.RejectedCount)
	if err != nil {
		return authz.BulkRequestGroup{}, err
	}
	return g, nil
}

func (s *Store) queryRequests(ctx context.Context, query string, args ...any) ([]authz.AccessRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []authz.AccessRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRequest(row rowScanner) (authz.AccessRequest, error) {
	var (
		r           authz.AccessRequest
		contractIDs []byte
		resources   []byte
		purposes    []byte
		bulkGroup   sql.NullString
		respondedBy sql.NullString
		respondedAt sql.NullTime
	)
	err := row.Scan(&r.ID, &r.RequesterOrgID, &r.TargetOrgID, &r.TargetUser.OrgID, &r.TargetUser.UserID,
		&contractIDs, &resources, &purposes, &r.RetentionWindow, &r.Status,
		&r.IsBulk, &bulkGroup, &r.Message, &r.ResponseMessage,
		&respondedBy, &respondedAt, &r.CreatedAt, &r.ExpiresAt)
	if err != nil {
		return authz.AccessRequest{}, err
	}
	if err := decodeJSONInto(contractIDs, &r.ContractIDs); err != nil {
		return authz.AccessRequest{}, err
	}
	if err := decodeJSONInto(resources, &r.Resources); err != nil {
		return authz.AccessRequest{}, err
	}
	if err := decodeJSONInto(purposes, &r.Purposes); err != nil {
		return authz.AccessRequest{}, err
	}
	r.BulkGroupID = bulkGroup.String
	r.RespondedBy = respondedBy.String
	if respondedAt.Valid {
		at := respondedAt.Time
		r.RespondedAt = &at
	}
	return r, nil
}

func encodeSets(resources, purposes []string) ([]byte, []byte, error) {
	res, err := json.Marshal(resources)
	if err != nil {
		return nil, nil, fmt.Errorf("encode resources: %w", err)
	}
	pur, err := json.Marshal(purposes)
	if err != nil {
		return nil, nil, fmt.Errorf("encode purposes: %w", err)
	}
	return res, pur, nil
}

func decodeJSONInto(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode jsonb column: %w", err)
	}
	return nil
}
