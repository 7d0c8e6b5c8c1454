package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/username/branchtalk/internal/domain/entities"
	"github.com/username/branchtalk/internal/domain/ports"
	"github.com/username/branchtalk/internal/pkg/constants"
)

// Gate enforces daily generation limits per principal. Counters are
// keyed by (principal, UTC day) so the window rolls over at midnight UTC
// without any cleanup job.
type Gate struct {
	adapter   *Adapter
	freeLimit int
	paidLimit int
}

// NewGate creates a usage gate backed by the storage adapter's database
func NewGate(adapter *Adapter, freeLimit, paidLimit int) *Gate {
	return &Gate{
		adapter:   adapter,
		freeLimit: freeLimit,
		paidLimit: paidLimit,
	}
}

type principalRow struct {
	id         int64
	sessionKey string
	plan       string
	unlimited  bool
}

// ensure looks up the principal row, creating it on first contact. A fresh
// session key is minted at creation time and is stable thereafter.
func (g *Gate) ensure(ctx context.Context, principal entities.Principal) (*principalRow, error) {
	row, err := g.lookup(ctx, principal)
	if err == nil {
		return row, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to look up principal: %w", err)
	}

	sessionKey := entities.NewSessionKey()
	_, err = g.adapter.db.ExecContext(ctx, `
		INSERT INTO principals (kind, key, session_key, plan, unlimited, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT(kind, key) DO NOTHING
	`, string(principal.Kind), principal.Key, sessionKey, constants.PlanFree, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to create principal: %w", err)
	}

	// Re-read; a concurrent insert may have won the conflict.
	row, err = g.lookup(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("failed to read principal after insert: %w", err)
	}
	return row, nil
}

func (g *Gate) lookup(ctx context.Context, principal entities.Principal) (*principalRow, error) {
	var row principalRow
	err := g.adapter.db.QueryRowContext(ctx, `
		SELECT id, session_key, plan, unlimited
		FROM principals WHERE kind = ? AND key = ?
	`, string(principal.Kind), principal.Key).Scan(&row.id, &row.sessionKey, &row.plan, &row.unlimited)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// SessionKey returns the stable delivery session key for a principal,
// creating the principal record on first contact.
func (g *Gate) SessionKey(ctx context.Context, principal entities.Principal) (string, error) {
	row, err := g.ensure(ctx, principal)
	if err != nil {
		return "", err
	}
	return row.sessionKey, nil
}

// Check reports whether the principal may start another generation today
func (g *Gate) Check(ctx context.Context, principal entities.Principal) (*ports.GateDecision, error) {
	row, err := g.ensure(ctx, principal)
	if err != nil {
		return nil, err
	}

	if row.unlimited {
		return &ports.GateDecision{Allowed: true, Unlimited: true, Paid: row.plan == constants.PlanPaid}, nil
	}

	limit := g.freeLimit
	paid := row.plan == constants.PlanPaid
	if paid {
		limit = g.paidLimit
	}

	var count int
	err = g.adapter.db.QueryRowContext(ctx, `
		SELECT count FROM usage_counts WHERE principal_id = ? AND day = ?
	`, row.id, today()).Scan(&count)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read usage count: %w", err)
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	return &ports.GateDecision{
		Allowed:   count < limit,
		Remaining: remaining,
		Paid:      paid,
	}, nil
}

// Increment records one completed generation for the principal today
func (g *Gate) Increment(ctx context.Context, principal entities.Principal) error {
	row, err := g.ensure(ctx, principal)
	if err != nil {
		return err
	}

	_, err = g.adapter.db.ExecContext(ctx, `
		INSERT INTO usage_counts (principal_id, day, count)
		VALUES (?, ?, 1)
		ON CONFLICT(principal_id, day) DO UPDATE SET count = count + 1
	`, row.id, today())
	if err != nil {
		return fmt.Errorf("failed to increment usage count: %w", err)
	}

	return nil
}

func today() string {
	return time.Now().UTC().Format(constants.UsageDayFormat)
}
