package devserver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/photon-dev/photon/internal/classify"
	"github.com/photon-dev/photon/internal/supervisor"
	"github.com/photon-dev/photon/internal/telemetry"
	"github.com/photon-dev/photon/internal/watcher"
)

// processChanges handles batches from the watcher one at a time. Batches
// that queued up while one was handled are merged into the next.
func (s *Server) processChanges(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-s.changeCh:
			changes := append([]watcher.Change(nil), batch...)
			draining := true
			for draining {
				select {
				case next := <-s.changeCh:
					changes = append(changes, next...)
				default:
					draining = false
				}
			}
			func() {
				defer s.guard("change handler")
				s.HandleChanges(ctx, changes)
			}()
		}
	}
}

// HandleChanges applies one batch of file changes: classify, forward the
// invalidations to the worker, restart when needed, rescan, and finally
// tell browsers to reload.
func (s *Server) HandleChanges(ctx context.Context, changes []watcher.Change) classify.Verdict {
	changes = mergeChanges(changes)
	if len(changes) == 0 {
		return classify.Verdict{}
	}

	files := make([]string, 0, len(changes))
	var removed []string
	configChanged := false
	for _, c := range changes {
		files = append(files, c.Path)
		if c.Op == watcher.OpRemove {
			removed = append(removed, c.Path)
		}
		if s.cfg.Path() != "" && c.Path == filepath.Clean(s.cfg.Path()) {
			configChanged = true
		}
	}

	ctx, span := telemetry.StartSpan(ctx, "devserver.changes", attribute.Int("files", len(files)))
	var spanErr error
	defer func() { telemetry.EndSpan(span, spanErr) }()

	verdict := classify.Classify(s.dc.Graph, files, s.entries(), s.cfg.Dev.Middleware)
	if configChanged {
		verdict.Kind = classify.EntryImpacting
		verdict.Trigger = s.cfg.Path()
	}
	span.SetAttributes(attribute.String("kind", verdict.Kind.String()))

	s.metrics.RecordChange(verdict.Kind.String())
	s.logger.Info("files changed",
		zap.Strings("files", files),
		zap.Stringer("kind", verdict.Kind),
		zap.String("trigger", verdict.Trigger),
		zap.Int("invalidated", len(verdict.Invalidated)),
	)

	for _, id := range verdict.Invalidated {
		s.dc.Graph.Invalidate(id)
		s.dc.Transformer.Forget(id)
	}
	// Files the graph has not seen may still sit in the worker's module
	// cache through fetchModule.
	forward := append([]string(nil), verdict.Invalidated...)
	for _, f := range files {
		s.dc.Transformer.Forget(f)
		if !containsString(forward, f) {
			forward = append(forward, f)
		}
	}
	if err := s.sup.InvalidateDepTree(ctx, forward); err != nil {
		s.logger.Warn("invalidateDepTree", zap.Error(err))
	}
	for _, id := range removed {
		if _, err := s.sup.DeleteByModuleID(ctx, id); err != nil {
			s.logger.Warn("deleteByModuleId", zap.String("id", id), zap.Error(err))
		}
		s.dc.Graph.Delete(id)
	}

	// A worker that crashed earlier comes back on the next edit.
	if verdict.NeedsRestart() || !s.workerRunning() {
		if err := s.restartWorker(ctx); err != nil {
			spanErr = err
			s.reportError(err)
			return verdict
		}
	}

	if err := s.rescan(ctx); err != nil {
		spanErr = err
		s.reportError(err)
		return verdict
	}

	for _, f := range files {
		if containsString(removed, f) {
			continue
		}
		if err := settle(ctx, f); err != nil {
			s.logger.Warn("changed file not readable", zap.String("file", f), zap.Error(err))
			fmt.Fprintf(s.out, "cannot read %s: %v\n", f, err)
		}
	}

	path := verdict.Trigger
	if path == "" {
		path = "*"
	}
	s.dc.Hub.FullReload(path)
	return verdict
}

const (
	settleInterval = 20 * time.Millisecond
	settleAttempts = 25
)

// settle waits until file reads back with the same size twice in a row,
// so browsers do not reload onto a half written file.
func settle(ctx context.Context, file string) error {
	last := -1
	var err error
	for i := 0; i < settleAttempts; i++ {
		var data []byte
		data, err = os.ReadFile(file)
		if err == nil {
			if len(data) == last {
				return nil
			}
			last = len(data)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(settleInterval):
		}
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%s is still being written", file)
}

// mergeChanges keeps the last operation per path, in first-seen order.
func mergeChanges(changes []watcher.Change) []watcher.Change {
	index := make(map[string]int, len(changes))
	out := make([]watcher.Change, 0, len(changes))
	for _, c := range changes {
		c.Path = filepath.Clean(c.Path)
		if i, ok := index[c.Path]; ok {
			out[i].Op = c.Op
			continue
		}
		index[c.Path] = len(out)
		out = append(out, c)
	}
	return out
}

func (s *Server) workerRunning() bool {
	return s.sup.State() == supervisor.StateRunning
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
