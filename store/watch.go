package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/rjeczalik/notify"

	"github.com/go-arrower/livestore/alog"
)

// startWatch merges the changes of other processes using the same store file.
// Every write to the file or its journal triggers ProcessRemoteHistory.
// A failing watch is logged and otherwise ignored; the store stays usable.
func (s *Store) startWatch(ctx context.Context) {
	s.mu.Lock()
	if s.stopWatch != nil {
		s.mu.Unlock()

		return
	}

	// a single slot coalesces bursts of writes into one pass over the history
	events := make(chan notify.EventInfo, 1)

	if err := notify.Watch(s.cfg.Dir, events, notify.Write, notify.Create); err != nil {
		s.mu.Unlock()
		s.logger.WarnContext(ctx, "could not watch for external changes", slog.String("dir", s.cfg.Dir), alog.Error(err))

		return
	}

	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.stopWatch = cancel
	s.mu.Unlock()

	s.workers.Go(func() error {
		defer notify.Stop(events)

		s.watch(wctx, events)

		return nil
	})

	s.logger.Log(ctx, alog.LevelInfo, "watching for external changes", slog.String("dir", s.cfg.Dir))
}

func (s *Store) watch(ctx context.Context, events <-chan notify.EventInfo) {
	prefix := filepath.Base(s.Path())

	for {
		select {
		case <-ctx.Done():
			return
		case ei := <-events:
			if !strings.HasPrefix(filepath.Base(ei.Path()), prefix) {
				continue
			}

			if _, err := s.ProcessRemoteHistory(ctx); err != nil {
				s.logger.WarnContext(ctx, "could not process external changes", alog.Error(err))
			}
		}
	}
}
