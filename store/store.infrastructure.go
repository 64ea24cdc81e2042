// Package store is a single file persistent store on top of sqlite.
//
// A Store hands out Contexts: serial confinement domains, each with its own
// cache of Objects. Committed changes of one Context are propagated to all
// others, so their caches never serve stale data and their listeners learn
// about the change.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite" // register the sqlite driver

	"github.com/go-arrower/livestore/alog"
)

// OpenFailurePolicy decides what happens if the store can not be opened.
type OpenFailurePolicy string

const (
	// OpenFailureFatal panics. Use it during development.
	OpenFailureFatal OpenFailurePolicy = "fatal"
	// OpenFailureDegrade logs the failure and returns a Store that is
	// unavailable until Reopen succeeds.
	OpenFailureDegrade OpenFailurePolicy = "degrade"
)

const (
	defaultFetchBatchSize   = 100
	defaultReopenMaxElapsed = 10 * time.Second
	busyTimeout             = 5000 // ms
)

type Config struct {
	// Dir is the directory of the store file. It is created if missing.
	Dir string
	// Name of the store. The file is <Dir>/<Name>.sqlite.
	Name string
	// Schema lists all entities of the store. Missing tables are created.
	Schema []EntityDescription
	// FetchBatchSize is the page size used by Context.Fetch.
	FetchBatchSize int
	// OpenFailure defaults to OpenFailureFatal.
	OpenFailure OpenFailurePolicy
	// WatchExternal watches the store's directory for writes by
	// other processes and merges their changes, see ProcessRemoteHistory.
	WatchExternal bool
	// ReopenMaxElapsed bounds how long Reopen retries.
	ReopenMaxElapsed time.Duration
}

type Option func(*Store)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Store owns the store file and all Contexts working on it.
// Use Open to create one and pass it around; there is no global instance.
type Store struct {
	cfg      Config
	logger   *slog.Logger
	entities map[string]*entity
	author   string

	mu       sync.RWMutex
	db       *sql.DB
	openErr  error
	closed   bool
	contexts map[*Context]struct{}
	view     *Context

	historyMu sync.Mutex
	lastSeq   int64

	workers     *errgroup.Group
	stopWatch   context.CancelFunc
	backgrounds atomic.Int64
}

// Open loads or creates the store file and the tables of the schema.
//
// What happens if the file can not be opened depends on cfg.OpenFailure:
// OpenFailureFatal panics, OpenFailureDegrade logs the error and returns a
// Store whose operations fail with ErrStoreUnavailable until Reopen succeeds.
// An invalid cfg always returns an error.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	cfg, err := withDefaults(cfg)
	if err != nil {
		return nil, err
	}

	entities, err := compileSchema(cfg.Schema)
	if err != nil {
		return nil, err
	}

	s := &Store{
		cfg:      cfg,
		logger:   alog.NewNoop(),
		entities: entities,
		author:   ulid.Make().String(),
		contexts: map[*Context]struct{}{},
		workers:  &errgroup.Group{},
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.WithGroup("store")
	s.view = s.NewContext("view")

	if err := s.open(ctx); err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrStoreOpen, s.Path(), err)

		if cfg.OpenFailure == OpenFailureFatal {
			s.view.Release()
			panic(err)
		}

		s.logger.ErrorContext(ctx, "store unavailable", alog.Error(err))

		s.mu.Lock()
		s.openErr = err
		s.mu.Unlock()
	}

	return s, nil
}

func withDefaults(cfg Config) (Config, error) {
	if cfg.Name == "" {
		return cfg, fmt.Errorf("%w: missing name", ErrStoreOpen)
	}

	if cfg.Dir == "" {
		cfg.Dir = "."
	}

	if cfg.FetchBatchSize <= 0 {
		cfg.FetchBatchSize = defaultFetchBatchSize
	}

	if cfg.OpenFailure == "" {
		cfg.OpenFailure = OpenFailureFatal
	}

	if cfg.OpenFailure != OpenFailureFatal && cfg.OpenFailure != OpenFailureDegrade {
		return cfg, fmt.Errorf("%w: unknown open failure policy %q", ErrStoreOpen, cfg.OpenFailure)
	}

	if cfg.ReopenMaxElapsed <= 0 {
		cfg.ReopenMaxElapsed = defaultReopenMaxElapsed
	}

	return cfg, nil
}

// Path is the location of the store file.
func (s *Store) Path() string {
	return filepath.Join(s.cfg.Dir, s.cfg.Name+".sqlite")
}

func (s *Store) dsn() string {
	pragmas := url.Values{}
	pragmas.Add("_pragma", "journal_mode(WAL)")
	pragmas.Add("_pragma", "synchronous(NORMAL)")
	pragmas.Add("_pragma", "busy_timeout("+strconv.Itoa(busyTimeout)+")")
	pragmas.Add("_pragma", "foreign_keys(ON)")

	return s.Path() + "?" + pragmas.Encode()
}

func (s *Store) open(ctx context.Context) error {
	if err := os.MkdirAll(s.cfg.Dir, 0o750); err != nil { //nolint:mnd // owner and group
		return fmt.Errorf("could not create directory: %w", err)
	}

	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("could not open: %w", err)
	}

	// sqlite has a single writer; one connection serialises all access of this process.
	db.SetMaxOpenConns(1)

	if err := s.prepare(ctx, db); err != nil {
		_ = db.Close()

		return err
	}

	seq, err := lastHistorySeq(ctx, db)
	if err != nil {
		_ = db.Close()

		return err
	}

	s.historyMu.Lock()
	s.lastSeq = seq
	s.historyMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = db.Close()

		return ErrStoreClosed
	}

	s.db = db
	s.openErr = nil
	s.mu.Unlock()

	if s.cfg.WatchExternal {
		s.startWatch(ctx)
	}

	s.logger.Log(ctx, alog.LevelInfo, "store opened", slog.String("path", s.Path()), slog.String("author", s.author))

	return nil
}

func (s *Store) prepare(ctx context.Context, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("could not connect: %w", err)
	}

	if _, err := db.ExecContext(ctx, createHistorySQL); err != nil {
		return fmt.Errorf("could not create history: %w", err)
	}

	for _, e := range s.entities {
		if _, err := db.ExecContext(ctx, e.createTableSQL()); err != nil {
			return fmt.Errorf("could not create table %s: %w", e.table, err)
		}
	}

	return nil
}

// Reopen retries to open an unavailable store with exponential backoff,
// for at most Config.ReopenMaxElapsed. It is a no-op for a healthy store.
func (s *Store) Reopen(ctx context.Context) error {
	if err := s.Healthy(); err == nil || errors.Is(err, ErrStoreClosed) {
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = s.cfg.ReopenMaxElapsed

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++

		err := s.open(ctx)
		if errors.Is(err, ErrStoreClosed) {
			return backoff.Permanent(err)
		}

		if err != nil {
			s.logger.Log(ctx, alog.LevelInfo, "reopen failed", slog.Int("attempt", attempt), alog.Error(err))
		}

		return err
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStoreOpen, s.Path(), err)
	}

	s.logger.InfoContext(ctx, "store reopened", slog.Int("attempts", attempt))

	return nil
}

// Healthy returns nil, if the store can be used.
func (s *Store) Healthy() error {
	return s.usable()
}

func (s *Store) usable() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	if s.openErr != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, s.openErr)
	}

	if s.db == nil {
		return ErrStoreUnavailable
	}

	return nil
}

// handle returns the database while it is open. Work submitted before Close
// keeps access to it until Close closed the database.
func (s *Store) handle() (*sql.DB, error) {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()

	if db != nil {
		return db, nil
	}

	if err := s.usable(); err != nil {
		return nil, err
	}

	return nil, ErrStoreUnavailable
}

func (s *Store) entity(name string) (*entity, error) {
	e, ok := s.entities[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}

	return e, nil
}

// ViewContext returns the read context, meant for everything presenting data.
// It exists for the whole lifetime of the Store.
func (s *Store) ViewContext() *Context {
	return s.view
}

// NewBackgroundContext returns a fresh context for writes.
// Release it, once it is no longer needed.
func (s *Store) NewBackgroundContext() *Context {
	return s.NewContext("background-" + strconv.FormatInt(s.backgrounds.Add(1), 10))
}

// NewContext returns a fresh context with the given name.
func (s *Store) NewContext(name string) *Context {
	c := newContext(s, name)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		c.released = true

		return c
	}

	s.contexts[c] = struct{}{}
	s.mu.Unlock()

	s.workers.Go(c.run)

	return c
}

// Contexts returns the names of all live contexts.
func (s *Store) Contexts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.contexts))
	for c := range s.contexts {
		names = append(names, c.name)
	}

	return names
}

func (s *Store) forget(c *Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.contexts, c)
}

// propagate merges cs into all contexts except the one that committed it.
// The merge runs asynchronously on each context's worker.
func (s *Store) propagate(ctx context.Context, cs ChangeSet, except *Context) {
	s.mu.RLock()
	targets := make([]*Context, 0, len(s.contexts))

	for c := range s.contexts {
		if c != except {
			targets = append(targets, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range targets {
		c.post(ctx, func(ctx context.Context, c *Context) error {
			c.merge(ctx, cs)

			return nil
		})
	}
}

// Save commits the pending changes of c, on c's worker.
func (s *Store) Save(ctx context.Context, c *Context) (ChangeSet, error) {
	var cs ChangeSet

	err := c.Perform(ctx, func(ctx context.Context, c *Context) error {
		var err error
		cs, err = c.Save(ctx)

		return err
	})

	return cs, err
}

// Close releases all contexts, waits for their submitted work to finish
// and closes the store file. Calling Close more than once is a no-op.
//
// If ctx expires first, Close returns ctx.Err() and the store file is
// closed in the background, once the running closures returned.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return nil
	}

	s.closed = true

	contexts := make([]*Context, 0, len(s.contexts))
	for c := range s.contexts {
		contexts = append(contexts, c)
	}

	stopWatch := s.stopWatch
	s.mu.Unlock()

	if stopWatch != nil {
		stopWatch()
	}

	for _, c := range contexts {
		c.Release()
	}

	done := make(chan error, 1)
	go func() { done <- errors.Join(s.workers.Wait(), s.closeDB()) }()

	select {
	case err := <-done:
		s.logger.Log(ctx, alog.LevelInfo, "store closed", slog.String("path", s.Path()))

		return err
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "store closes after running work finished", slog.String("path", s.Path()))

		return ctx.Err() //nolint:wrapcheck // the callers context error
	}
}

func (s *Store) closeDB() error {
	s.mu.Lock()
	db := s.db
	s.db = nil
	s.mu.Unlock()

	if db == nil {
		return nil
	}

	return db.Close() //nolint:wrapcheck
}
