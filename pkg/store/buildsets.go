package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/srand/jolt/coordinator/pkg/protocol"
)

// Creates a buildset together with its source stamps, properties and one
// build request per builder. Returns the buildset id and the request id
// of each builder.
func (s *Store) AddBuildset(ctx context.Context, nb NewBuildset) (int64, map[string]int64, error) {
	if len(nb.Builders) == 0 {
		return 0, nil, fmt.Errorf("%w: buildset has no builders", ErrEmptyRequestSet)
	}

	submittedAt := nb.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = time.Now()
	}
	ts := toMicros(submittedAt)

	var bsid int64
	brids := map[string]int64{}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := s.queryRow(ctx, tx,
			`INSERT INTO buildsets (reason, external_id, submitted_at, complete) VALUES (?, ?, ?, 0) RETURNING id`,
			nb.Reason, nb.ExternalID, ts,
		).Scan(&bsid)
		if err != nil {
			return fmt.Errorf("insert buildset: %w", err)
		}

		for _, ss := range nb.SourceStamps {
			var ssid int64
			err := s.queryRow(ctx, tx,
				`INSERT INTO sourcestamps (codebase, repository, branch, revision, project) VALUES (?, ?, ?, ?, ?) RETURNING id`,
				ss.Codebase, ss.Repository, ss.Branch, ss.Revision, ss.Project,
			).Scan(&ssid)
			if err != nil {
				return fmt.Errorf("insert sourcestamp: %w", err)
			}

			if _, err := s.exec(ctx, tx,
				`INSERT INTO buildset_sourcestamps (buildset_id, sourcestamp_id) VALUES (?, ?)`,
				bsid, ssid,
			); err != nil {
				return fmt.Errorf("link sourcestamp: %w", err)
			}
		}

		for name, value := range nb.Properties {
			if _, err := s.exec(ctx, tx,
				`INSERT INTO buildset_properties (buildset_id, name, value) VALUES (?, ?, ?)`,
				bsid, name, value,
			); err != nil {
				return fmt.Errorf("insert property: %w", err)
			}
		}

		for _, builder := range nb.Builders {
			if _, ok := brids[builder]; ok {
				continue
			}

			var brid int64
			err := s.queryRow(ctx, tx,
				`INSERT INTO buildrequests (buildset_id, builder_name, priority, submitted_at, complete) VALUES (?, ?, ?, ?, 0) RETURNING id`,
				bsid, builder, nb.Priority, ts,
			).Scan(&brid)
			if err != nil {
				return fmt.Errorf("insert buildrequest: %w", err)
			}
			brids[builder] = brid
		}

		return nil
	})
	if err != nil {
		return 0, nil, err
	}

	logger.Debugf("new - buildset - id: %d, requests: %v", bsid, brids)
	return bsid, brids, nil
}

func (s *Store) GetBuildset(ctx context.Context, id int64) (*Buildset, error) {
	var (
		bs         Buildset
		submitted  int64
		complete   int
		completeAt sql.NullInt64
		results    sql.NullInt64
	)

	err := s.queryRow(ctx, s.db,
		`SELECT id, reason, external_id, submitted_at, complete, complete_at, results FROM buildsets WHERE id = ?`,
		id,
	).Scan(&bs.ID, &bs.Reason, &bs.ExternalID, &submitted, &complete, &completeAt, &results)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("buildset %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get buildset: %w", err)
	}

	bs.SubmittedAt = fromMicros(submitted)
	bs.Complete = complete != 0
	bs.CompleteAt = fromNullMicros(completeAt)
	bs.Result = nullResult(results)
	return &bs, nil
}

// Marks the buildset complete unless it already is.
// Returns false if another evaluation completed it first.
func (s *Store) CompleteBuildset(ctx context.Context, id int64, result protocol.Result, at time.Time) (bool, error) {
	res, err := s.exec(ctx, s.db,
		`UPDATE buildsets SET complete = 1, results = ?, complete_at = ? WHERE id = ? AND complete = 0`,
		int(result), toMicros(at), id,
	)
	if err != nil {
		return false, fmt.Errorf("complete buildset: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete buildset: %w", err)
	}
	return n == 1, nil
}

func (s *Store) GetSourceStamps(ctx context.Context, bsid int64) ([]protocol.SourceStamp, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT ss.codebase, ss.repository, ss.branch, ss.revision, ss.project
		FROM sourcestamps ss JOIN buildset_sourcestamps bss ON bss.sourcestamp_id = ss.id
		WHERE bss.buildset_id = ? ORDER BY ss.id`,
		bsid,
	)
	if err != nil {
		return nil, fmt.Errorf("get sourcestamps: %w", err)
	}
	defer rows.Close()

	stamps := []protocol.SourceStamp{}
	for rows.Next() {
		var ss protocol.SourceStamp
		if err := rows.Scan(&ss.Codebase, &ss.Repository, &ss.Branch, &ss.Revision, &ss.Project); err != nil {
			return nil, fmt.Errorf("scan sourcestamp: %w", err)
		}
		stamps = append(stamps, ss)
	}
	return stamps, rows.Err()
}

func (s *Store) GetBuildsetProperties(ctx context.Context, bsid int64) (map[string]string, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT name, value FROM buildset_properties WHERE buildset_id = ?`,
		bsid,
	)
	if err != nil {
		return nil, fmt.Errorf("get properties: %w", err)
	}
	defer rows.Close()

	props := map[string]string{}
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		props[name] = value
	}
	return props, rows.Err()
}

// Returns the builder names of all unclaimed, incomplete requests.
func (s *Store) PendingBuilders(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT DISTINCT builder_name FROM buildrequests WHERE complete = 0 AND claimed_by IS NULL`,
	)
	if err != nil {
		return nil, fmt.Errorf("pending builders: %w", err)
	}
	defer rows.Close()

	builders := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan builder: %w", err)
		}
		builders = append(builders, name)
	}
	sort.Strings(builders)
	return builders, rows.Err()
}

func nullResult(v sql.NullInt64) protocol.Result {
	if !v.Valid {
		return protocol.ResultNone
	}
	return protocol.Result(v.Int64)
}
