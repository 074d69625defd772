package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryLedger is an in-process Ledger for tests and database-less dev runs.
//
// LockByHash takes a per-row semaphore that is held until Commit or Rollback.
// Writes inside a unit are staged and applied together on Commit, so other
// callers never observe a partial unit.
type MemoryLedger struct {
	mu    sync.Mutex
	rows  map[string]Record
	locks map[string]chan struct{}
}

// NewMemoryLedger returns an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		rows:  make(map[string]Record),
		locks: make(map[string]chan struct{}),
	}
}

// Store inserts a new row.
func (m *MemoryLedger) Store(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rows[rec.IDHash]; exists {
		return fmt.Errorf("session.MemoryLedger.Store: %w", errDuplicateHash)
	}
	m.rows[rec.IDHash] = rec
	return nil
}

// Validate loads a row by id hash and classifies it.
func (m *MemoryLedger) Validate(_ context.Context, idHash string, now time.Time) (Record, error) {
	m.mu.Lock()
	rec, ok := m.rows[idHash]
	m.mu.Unlock()

	if !ok {
		return Record{}, ErrInvalidToken
	}
	if err := rec.classify(now); err != nil {
		return rec, err
	}
	return rec, nil
}

// Begin opens a unit of work.
func (m *MemoryLedger) Begin(_ context.Context) (LedgerTx, error) {
	return &memoryTx{m: m}, nil
}

// Revoke revokes a single row (idempotent).
func (m *MemoryLedger) Revoke(_ context.Context, idHash string, now time.Time, reason RevokeReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokeLocked(idHash, now, reason)
	return nil
}

// RevokeLineage revokes every active row of a lineage.
func (m *MemoryLedger) RevokeLineage(_ context.Context, lineageID string, now time.Time, reason RevokeReason) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revokeWhereLocked(func(r Record) bool { return r.LineageID == lineageID }, now, reason), nil
}

// RevokeAllForUser revokes every active row of a user.
func (m *MemoryLedger) RevokeAllForUser(_ context.Context, userID string, now time.Time, reason RevokeReason) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revokeWhereLocked(func(r Record) bool { return r.UserID == userID }, now, reason), nil
}

// MarkUsed updates last_used_at.
func (m *MemoryLedger) MarkUsed(_ context.Context, idHash string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.rows[idHash]
	if !ok {
		return nil
	}
	t := now
	rec.LastUsedAt = &t
	m.rows[idHash] = rec
	return nil
}

// CountActiveForUser counts active rows of a user.
func (m *MemoryLedger) CountActiveForUser(_ context.Context, userID string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, r := range m.rows {
		if r.UserID == userID && r.Active(now) {
			n++
		}
	}
	return n, nil
}

// CleanupExpired deletes rows past expiry regardless of revocation state.
func (m *MemoryLedger) CleanupExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for h, r := range m.rows {
		if !r.ExpiresAt.After(now) {
			delete(m.rows, h)
			delete(m.locks, h)
			n++
		}
	}
	return n, nil
}

// Get returns a copy of the row for inspection in tests and tooling.
func (m *MemoryLedger) Get(idHash string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[idHash]
	return r, ok
}

// Rows returns a snapshot of every row, ordered by IssuedAt.
func (m *MemoryLedger) Rows() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out
}

func (m *MemoryLedger) revokeLocked(idHash string, now time.Time, reason RevokeReason) {
	rec, ok := m.rows[idHash]
	if !ok || rec.RevokedAt != nil {
		return
	}
	t, r := now, reason
	rec.RevokedAt = &t
	rec.RevokedReason = &r
	m.rows[idHash] = rec
}

func (m *MemoryLedger) revokeWhereLocked(match func(Record) bool, now time.Time, reason RevokeReason) int64 {
	var n int64
	for h, rec := range m.rows {
		if rec.RevokedAt != nil || !match(rec) {
			continue
		}
		m.revokeLocked(h, now, reason)
		n++
	}
	return n
}

// rowLock returns the semaphore for an existing row. Unknown hashes get no
// entry; CleanupExpired drops entries with their rows.
func (m *MemoryLedger) rowLock(idHash string) (chan struct{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rows[idHash]; !ok {
		return nil, false
	}
	sem, ok := m.locks[idHash]
	if !ok {
		sem = make(chan struct{}, 1)
		m.locks[idHash] = sem
	}
	return sem, true
}

func (m *MemoryLedger) lockCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

type stagedOp struct {
	insert *Record
	apply  func(m *MemoryLedger)
}

type memoryTx struct {
	m      *MemoryLedger
	held   []chan struct{}
	staged []stagedOp
	done   bool

	// pending holds hashes revoked by staged ops, so counts match what
	// Commit will actually change.
	pending map[string]struct{}
}

func (t *memoryTx) LockByHash(ctx context.Context, idHash string) (Record, error) {
	if t.done {
		return Record{}, errTxDone
	}

	sem, ok := t.m.rowLock(idHash)
	if !ok {
		return Record{}, ErrInvalidToken
	}
	select {
	case sem <- struct{}{}:
		t.held = append(t.held, sem)
	case <-ctx.Done():
		return Record{}, ctx.Err()
	}

	t.m.mu.Lock()
	rec, ok := t.m.rows[idHash]
	t.m.mu.Unlock()

	if !ok {
		return Record{}, ErrInvalidToken
	}
	return rec, nil
}

func (t *memoryTx) Revoke(_ context.Context, idHash string, now time.Time, reason RevokeReason) error {
	if t.done {
		return errTxDone
	}
	t.staged = append(t.staged, stagedOp{apply: func(m *MemoryLedger) {
		m.revokeLocked(idHash, now, reason)
	}})
	t.markPending(idHash)
	return nil
}

// RevokeLineage stages the revocation. The returned count is the number of
// rows active when the call was made; the staged write applies at Commit.
func (t *memoryTx) RevokeLineage(_ context.Context, lineageID string, now time.Time, reason RevokeReason) (int64, error) {
	if t.done {
		return 0, errTxDone
	}
	match := func(r Record) bool { return r.LineageID == lineageID }
	t.staged = append(t.staged, stagedOp{apply: func(m *MemoryLedger) {
		m.revokeWhereLocked(match, now, reason)
	}})
	return t.countUnrevoked(match), nil
}

func (t *memoryTx) RevokeAllForUser(_ context.Context, userID string, now time.Time, reason RevokeReason) (int64, error) {
	if t.done {
		return 0, errTxDone
	}
	match := func(r Record) bool { return r.UserID == userID }
	t.staged = append(t.staged, stagedOp{apply: func(m *MemoryLedger) {
		m.revokeWhereLocked(match, now, reason)
	}})
	return t.countUnrevoked(match), nil
}

func (t *memoryTx) Insert(_ context.Context, rec Record) error {
	if t.done {
		return errTxDone
	}
	r := rec
	t.staged = append(t.staged, stagedOp{insert: &r})
	return nil
}

func (t *memoryTx) RecentActiveForUser(_ context.Context, userID string, since, now time.Time, limit int) ([]Record, error) {
	if t.done {
		return nil, errTxDone
	}

	t.m.mu.Lock()
	out := make([]Record, 0, limit)
	for h, r := range t.m.rows {
		if r.UserID != userID || r.IssuedAt.Before(since) || !r.Active(now) {
			continue
		}
		if _, ok := t.pending[h]; ok {
			continue
		}
		out = append(out, r)
	}
	t.m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memoryTx) Commit(_ context.Context) error {
	if t.done {
		return errTxDone
	}
	defer t.release()

	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	for _, op := range t.staged {
		if op.insert == nil {
			continue
		}
		if _, exists := t.m.rows[op.insert.IDHash]; exists {
			return fmt.Errorf("session.MemoryLedger.Commit: %w", errDuplicateHash)
		}
	}
	for _, op := range t.staged {
		if op.insert != nil {
			t.m.rows[op.insert.IDHash] = *op.insert
			continue
		}
		op.apply(t.m)
	}
	return nil
}

func (t *memoryTx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.release()
	return nil
}

func (t *memoryTx) release() {
	t.done = true
	t.staged = nil
	t.pending = nil
	for _, sem := range t.held {
		<-sem
	}
	t.held = nil
}

// countUnrevoked counts matching rows neither revoked nor pending, then
// marks them pending.
func (t *memoryTx) countUnrevoked(match func(Record) bool) int64 {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	var n int64
	for h, r := range t.m.rows {
		if r.RevokedAt != nil || !match(r) {
			continue
		}
		if _, ok := t.pending[h]; ok {
			continue
		}
		t.markPending(h)
		n++
	}
	return n
}

func (t *memoryTx) markPending(idHash string) {
	if t.pending == nil {
		t.pending = make(map[string]struct{})
	}
	t.pending[idHash] = struct{}{}
}
