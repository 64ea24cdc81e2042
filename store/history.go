package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/oklog/ulid/v2"

	"github.com/go-arrower/livestore/alog"
)

// Operation is what happened to an object in a ChangeSet.
type Operation string

const (
	opInsert Operation = "insert"
	opUpdate Operation = "update"
	opDelete Operation = "delete"
)

// ChangeSet describes one committed transaction.
// The maps are keyed by entity name and hold the ids of the touched objects.
type ChangeSet struct {
	// Token identifies the transaction in the history. It is a ULID.
	Token string
	// Author identifies the Store instance that committed the transaction.
	Author string
	// Context is the name of the committing context.
	Context string

	Inserted map[string][]string
	Updated  map[string][]string
	Deleted  map[string][]string
}

func (s *Store) newChangeSet(contextName string) ChangeSet {
	return ChangeSet{
		Token:    ulid.Make().String(),
		Author:   s.author,
		Context:  contextName,
		Inserted: map[string][]string{},
		Updated:  map[string][]string{},
		Deleted:  map[string][]string{},
	}
}

// Touches reports whether any object of entity changed.
func (cs ChangeSet) Touches(entity string) bool {
	return len(cs.Inserted[entity]) > 0 || len(cs.Updated[entity]) > 0 || len(cs.Deleted[entity]) > 0
}

// Empty reports whether the ChangeSet has no changes.
func (cs ChangeSet) Empty() bool {
	return cs.count(opInsert)+cs.count(opUpdate)+cs.count(opDelete) == 0
}

func (cs *ChangeSet) add(op Operation, entity string, id string) {
	m := cs.ops(op)
	m[entity] = append(m[entity], id)
}

func (cs ChangeSet) count(op Operation) int {
	n := 0
	for _, ids := range cs.ops(op) {
		n += len(ids)
	}

	return n
}

func (cs ChangeSet) ops(op Operation) map[string][]string {
	switch op {
	case opInsert:
		return cs.Inserted
	case opUpdate:
		return cs.Updated
	case opDelete:
		return cs.Deleted
	}

	return nil
}

const historyTable = "livestore_history"

const createHistorySQL = `
CREATE TABLE IF NOT EXISTS livestore_history (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	token      TEXT    NOT NULL,
	author     TEXT    NOT NULL,
	context    TEXT    NOT NULL,
	entity     TEXT    NOT NULL,
	object_id  TEXT    NOT NULL,
	op         TEXT    NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS livestore_history_created_at ON livestore_history (created_at);
`

// HistoryEntry is one touched object of a committed transaction.
type HistoryEntry struct {
	Seq       int64
	Token     string
	Author    string
	Context   string
	Entity    string
	ObjectID  string
	Op        Operation
	CreatedAt time.Time
}

type historyRow struct {
	Seq       int64  `db:"seq"`
	Token     string `db:"token"`
	Author    string `db:"author"`
	Context   string `db:"context"`
	Entity    string `db:"entity"`
	ObjectID  string `db:"object_id"`
	Op        string `db:"op"`
	CreatedAt int64  `db:"created_at"`
}

func (r historyRow) entry() HistoryEntry {
	return HistoryEntry{
		Seq:       r.Seq,
		Token:     r.Token,
		Author:    r.Author,
		Context:   r.Context,
		Entity:    r.Entity,
		ObjectID:  r.ObjectID,
		Op:        Operation(r.Op),
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
	}
}

var historyColumns = []string{"seq", "token", "author", "context", "entity", "object_id", "op", "created_at"}

func writeHistory(ctx context.Context, tx *sql.Tx, cs ChangeSet) error {
	if cs.Empty() {
		return nil
	}

	now := time.Now().UnixNano()
	ib := squirrel.Insert(historyTable).Columns(historyColumns[1:]...)

	for _, op := range []Operation{opDelete, opInsert, opUpdate} {
		m := cs.ops(op)
		for _, entity := range slices.Sorted(maps.Keys(m)) {
			for _, id := range m[entity] {
				ib = ib.Values(cs.Token, cs.Author, cs.Context, entity, id, string(op), now)
			}
		}
	}

	stmt, args, err := ib.ToSql()
	if err == nil {
		_, err = tx.ExecContext(ctx, stmt, args...)
	}

	if err != nil {
		return fmt.Errorf("%w: could not write history: %v", ErrHistory, err) //nolint:errorlint // prevent driver details leaking
	}

	return nil
}

// HistorySince returns all history entries committed after the transaction token.
// An empty or unknown token returns the complete history.
func (s *Store) HistorySince(ctx context.Context, token string) ([]HistoryEntry, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	sb := squirrel.Select(historyColumns...).From(historyTable).OrderBy("seq ASC")
	if token != "" {
		sb = sb.Where("seq > COALESCE((SELECT MAX(seq) FROM "+historyTable+" WHERE token = ?), 0)", token)
	}

	stmt, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHistory, err) //nolint:errorlint // prevent driver details leaking
	}

	var rows []historyRow
	if err := sqlscan.Select(ctx, db, &rows, stmt, args...); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHistory, err) //nolint:errorlint // prevent driver details leaking
	}

	entries := make([]HistoryEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.entry())
	}

	return entries, nil
}

// PruneHistory deletes all history entries created before the given time.
// It returns the number of deleted entries.
func (s *Store) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}

	stmt, args, err := squirrel.Delete(historyTable).Where(squirrel.Lt{"created_at": before.UnixNano()}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrHistory, err) //nolint:errorlint // prevent driver details leaking
	}

	res, err := db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: could not prune: %v", ErrHistory, err) //nolint:errorlint // prevent driver details leaking
	}

	n, _ := res.RowsAffected()

	s.logger.Log(ctx, alog.LevelInfo, "pruned history", slog.Int64("deleted", n))

	return n, nil
}

// ProcessRemoteHistory reads the history written by other Store instances,
// e.g. other processes using the same file, since the last call.
// Each transaction found is merged into all contexts of this store,
// like a save of one of its own contexts would be.
// It returns the number of merged transactions.
func (s *Store) ProcessRemoteHistory(ctx context.Context) (int, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}

	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	stmt, args, err := squirrel.Select(historyColumns...).From(historyTable).
		Where(squirrel.Gt{"seq": s.lastSeq}).
		OrderBy("seq ASC").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrHistory, err) //nolint:errorlint // prevent driver details leaking
	}

	var rows []historyRow
	if err := sqlscan.Select(ctx, db, &rows, stmt, args...); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrHistory, err) //nolint:errorlint // prevent driver details leaking
	}

	changes := []ChangeSet{}

	for _, r := range rows {
		s.lastSeq = r.Seq

		if r.Author == s.author {
			continue
		}

		if len(changes) == 0 || changes[len(changes)-1].Token != r.Token {
			cs := s.newChangeSet(r.Context)
			cs.Token = r.Token
			cs.Author = r.Author
			changes = append(changes, cs)
		}

		changes[len(changes)-1].add(Operation(r.Op), r.Entity, r.ObjectID)
	}

	for _, cs := range changes {
		s.propagate(ctx, cs, nil)
	}

	if len(changes) > 0 {
		s.logger.Log(ctx, alog.LevelInfo, "processed remote history", slog.Int("transactions", len(changes)))
	}

	return len(changes), nil
}

func lastHistorySeq(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64

	err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) FROM "+historyTable).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrHistory, err) //nolint:errorlint // prevent driver details leaking
	}

	return seq, nil
}
