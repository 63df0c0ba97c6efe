package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/srand/jolt/coordinator/pkg/protocol"
)

const requestColumns = `id, buildset_id, builder_name, priority, submitted_at, claimed_at, claimed_by, complete, complete_at, results`

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*BuildRequest, error) {
	var (
		br         BuildRequest
		submitted  int64
		claimedAt  sql.NullInt64
		claimedBy  sql.NullString
		complete   int
		completeAt sql.NullInt64
		results    sql.NullInt64
	)

	err := row.Scan(&br.ID, &br.BuildsetID, &br.BuilderName, &br.Priority, &submitted,
		&claimedAt, &claimedBy, &complete, &completeAt, &results)
	if err != nil {
		return nil, err
	}

	br.SubmittedAt = fromMicros(submitted)
	br.ClaimedAt = fromNullMicros(claimedAt)
	if br.ClaimedAt != nil {
		br.ClaimedBy = claimedBy.String
	}
	br.Complete = complete != 0
	br.CompleteAt = fromNullMicros(completeAt)
	br.Result = nullResult(results)
	return &br, nil
}

// Returns matching requests, most urgent first: priority ascending,
// then submission time ascending.
func (s *Store) ListRequests(ctx context.Context, filter RequestFilter) ([]*BuildRequest, error) {
	where := []string{}
	args := []any{}

	if len(filter.IDs) > 0 {
		in, inArgs := inClause(uniqueIDs(filter.IDs))
		where = append(where, "id IN ("+in+")")
		args = append(args, inArgs...)
	}
	if filter.BuildsetID != 0 {
		where = append(where, "buildset_id = ?")
		args = append(args, filter.BuildsetID)
	}
	if filter.Builder != "" {
		where = append(where, "builder_name = ?")
		args = append(args, filter.Builder)
	}
	if filter.Claimed != nil {
		if *filter.Claimed {
			where = append(where, "claimed_by IS NOT NULL")
		} else {
			where = append(where, "claimed_by IS NULL")
		}
	}
	if filter.ClaimedBy != "" {
		where = append(where, "claimed_by = ?")
		args = append(args, filter.ClaimedBy)
	}
	if filter.Complete != nil {
		where = append(where, "complete = ?")
		if *filter.Complete {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}

	query := `SELECT ` + requestColumns + ` FROM buildrequests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY priority ASC, submitted_at ASC, id ASC"

	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	requests := []*BuildRequest{}
	for rows.Next() {
		br, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		requests = append(requests, br)
	}
	return requests, rows.Err()
}

func (s *Store) GetRequest(ctx context.Context, id int64) (*BuildRequest, error) {
	row := s.queryRow(ctx, s.db, `SELECT `+requestColumns+` FROM buildrequests WHERE id = ?`, id)
	br, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("request %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return br, nil
}

// Claims all requests for owner, or none of them.
// Requests already claimed by owner may be claimed again.
// Fails with ErrAlreadyClaimed if any request is complete, missing or
// claimed by someone else.
func (s *Store) ClaimRequests(ctx context.Context, ids []int64, owner string, at time.Time) error {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return ErrEmptyRequestSet
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		in, idArgs := inClause(ids)

		if s.dialect == dialectPostgres {
			// Lock in id order so overlapping claims queue instead of deadlocking
			rows, err := s.query(ctx, tx, `SELECT id FROM buildrequests WHERE id IN (`+in+`) ORDER BY id FOR UPDATE`, idArgs...)
			if err != nil {
				return fmt.Errorf("claim requests: %w", err)
			}
			for rows.Next() {
			}
			err = rows.Err()
			rows.Close()
			if err != nil {
				return fmt.Errorf("claim requests: %w", err)
			}
		}

		args := append([]any{toMicros(at), owner}, idArgs...)
		args = append(args, owner)

		res, err := s.exec(ctx, tx,
			`UPDATE buildrequests SET claimed_at = ?, claimed_by = ?
			WHERE id IN (`+in+`) AND complete = 0
			AND (claimed_at IS NULL OR claimed_at = 0 OR claimed_by = ?)`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("claim requests: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("claim requests: %w", err)
		}

		if n != int64(len(ids)) {
			return fmt.Errorf("%w: claimed %d of %d requests %v", ErrAlreadyClaimed, n, len(ids), ids)
		}
		return nil
	})
}

// Releases the claims owner holds on the given incomplete requests.
// Requests not claimed by owner are left untouched.
func (s *Store) UnclaimRequests(ctx context.Context, ids []int64, owner string) error {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return ErrEmptyRequestSet
	}

	in, idArgs := inClause(ids)
	args := append(idArgs, owner)

	_, err := s.exec(ctx, s.db,
		`UPDATE buildrequests SET claimed_at = NULL, claimed_by = NULL
		WHERE id IN (`+in+`) AND complete = 0 AND claimed_by = ?`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("unclaim requests: %w", err)
	}
	return nil
}

// Releases every incomplete claim held by owner. Returns the number of
// released requests.
func (s *Store) ReleaseClaims(ctx context.Context, owner string) (int64, error) {
	res, err := s.exec(ctx, s.db,
		`UPDATE buildrequests SET claimed_at = NULL, claimed_by = NULL WHERE complete = 0 AND claimed_by = ?`,
		owner,
	)
	if err != nil {
		return 0, fmt.Errorf("release claims: %w", err)
	}
	return res.RowsAffected()
}

// Completes an unclaimed request with result cancelled in one
// conditional update. Fails with ErrNotFound if the request does not
// exist, and with ErrAlreadyClaimed if it is claimed or complete.
func (s *Store) CancelRequest(ctx context.Context, id int64, at time.Time) error {
	res, err := s.exec(ctx, s.db,
		`UPDATE buildrequests SET complete = 1, complete_at = ?, results = ?
		WHERE id = ? AND complete = 0 AND claimed_by IS NULL`,
		toMicros(at), int(protocol.ResultCancelled), id,
	)
	if err != nil {
		return fmt.Errorf("cancel request: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cancel request: %w", err)
	}
	if n == 1 {
		return nil
	}

	if _, err := s.GetRequest(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: request %d", ErrAlreadyClaimed, id)
}

// Completes requests claimed by owner, all or nothing.
// Fails with ErrNotClaimed if any request is complete or not claimed by owner.
func (s *Store) CompleteRequests(ctx context.Context, ids []int64, owner string, result protocol.Result, at time.Time) error {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return ErrEmptyRequestSet
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		in, idArgs := inClause(ids)
		args := append([]any{toMicros(at), int(result)}, idArgs...)
		args = append(args, owner)

		res, err := s.exec(ctx, tx,
			`UPDATE buildrequests SET complete = 1, complete_at = ?, results = ?
			WHERE id IN (`+in+`) AND complete = 0 AND claimed_by = ?`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("complete requests: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("complete requests: %w", err)
		}

		if n != int64(len(ids)) {
			return fmt.Errorf("%w: completed %d of %d requests %v", ErrNotClaimed, n, len(ids), ids)
		}
		return nil
	})
}

// Returns the submission time of the oldest unclaimed, incomplete
// request of the builder. The boolean is false if there is none.
func (s *Store) OldestUnclaimedSubmission(ctx context.Context, builder string) (time.Time, bool, error) {
	var oldest sql.NullInt64
	err := s.queryRow(ctx, s.db,
		`SELECT MIN(submitted_at) FROM buildrequests WHERE builder_name = ? AND complete = 0 AND claimed_by IS NULL`,
		builder,
	).Scan(&oldest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("oldest request: %w", err)
	}
	if !oldest.Valid {
		return time.Time{}, false, nil
	}
	return fromMicros(oldest.Int64), true, nil
}
