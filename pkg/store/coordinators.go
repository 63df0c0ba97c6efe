package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Registers the coordinator as active under a new owner token.
func (s *Store) RegisterCoordinator(ctx context.Context, name, owner string, at time.Time) error {
	_, err := s.exec(ctx, s.db,
		`INSERT INTO coordinators (name, owner, active, last_active) VALUES (?, ?, 1, ?)
		ON CONFLICT (name) DO UPDATE SET owner = excluded.owner, active = 1, last_active = excluded.last_active`,
		name, owner, toMicros(at),
	)
	if err != nil {
		return fmt.Errorf("register coordinator: %w", err)
	}
	logger.Debugf("new - coordinator - name: %s, owner: %s", name, owner)
	return nil
}

func (s *Store) Heartbeat(ctx context.Context, owner string, at time.Time) error {
	res, err := s.exec(ctx, s.db,
		`UPDATE coordinators SET last_active = ?, active = 1 WHERE owner = ?`,
		toMicros(at), owner,
	)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("heartbeat: coordinator %s: %w", owner, ErrNotFound)
	}
	return nil
}

// Marks coordinators silent since before staleBefore as inactive and
// releases their incomplete claims. Returns the expired owner tokens.
func (s *Store) ExpireCoordinators(ctx context.Context, staleBefore time.Time) ([]string, error) {
	var owners []string

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		owners = nil

		rows, err := s.query(ctx, tx,
			`SELECT owner FROM coordinators WHERE active = 1 AND last_active < ?`,
			toMicros(staleBefore),
		)
		if err != nil {
			return fmt.Errorf("stale coordinators: %w", err)
		}

		for rows.Next() {
			var owner string
			if err := rows.Scan(&owner); err != nil {
				rows.Close()
				return fmt.Errorf("scan coordinator: %w", err)
			}
			owners = append(owners, owner)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, owner := range owners {
			if err := s.deactivate(ctx, tx, owner); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, owner := range owners {
		logger.Infof("exp - coordinator - owner: %s", owner)
	}
	return owners, nil
}

// Marks the coordinator inactive and releases its incomplete claims.
func (s *Store) MarkInactive(ctx context.Context, owner string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.deactivate(ctx, tx, owner)
	})
}

func (s *Store) deactivate(ctx context.Context, tx *sql.Tx, owner string) error {
	if _, err := s.exec(ctx, tx,
		`UPDATE coordinators SET active = 0 WHERE owner = ?`, owner,
	); err != nil {
		return fmt.Errorf("deactivate coordinator: %w", err)
	}

	if _, err := s.exec(ctx, tx,
		`UPDATE buildrequests SET claimed_at = NULL, claimed_by = NULL WHERE complete = 0 AND claimed_by = ?`,
		owner,
	); err != nil {
		return fmt.Errorf("release claims: %w", err)
	}
	return nil
}

func (s *Store) ListCoordinators(ctx context.Context) ([]*Coordinator, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT id, name, owner, active, last_active FROM coordinators ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("list coordinators: %w", err)
	}
	defer rows.Close()

	coordinators := []*Coordinator{}
	for rows.Next() {
		var (
			c          Coordinator
			active     int
			lastActive int64
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Owner, &active, &lastActive); err != nil {
			return nil, fmt.Errorf("scan coordinator: %w", err)
		}
		c.Active = active != 0
		c.LastActive = fromMicros(lastActive)
		coordinators = append(coordinators, &c)
	}
	return coordinators, rows.Err()
}
