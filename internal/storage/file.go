package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	logx "rrsched/pkg/logx"
)

// fileStore appends JSON Lines.
//
// Files:
//   - <prefix>.runs.jsonl  (one Run per line)
//   - <prefix>.spans.jsonl (one Span per line)
//
// Each append holds an exclusive flock so concurrent processes sharing a
// history path do not interleave lines.
type fileStore struct {
	log logx.Logger

	mu        sync.Mutex
	runsPath  string
	spansPath string
	runsFile  *os.File
	spansFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	st := &fileStore{log: log, runsPath: prefix + ".runs.jsonl", spansPath: prefix + ".spans.jsonl"}
	var err error
	if st.runsFile, err = openAppend(st.runsPath); err != nil {
		return nil, err
	}
	if st.spansFile, err = openAppend(st.spansPath); err != nil {
		_ = st.runsFile.Close()
		return nil, err
	}
	log.Debug("file store opened", logx.String("runs", st.runsPath), logx.String("spans", st.spansPath))
	return st, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
}

func (s *fileStore) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.runsFile != nil {
		errs = append(errs, s.runsFile.Close())
		s.runsFile = nil
	}
	if s.spansFile != nil {
		errs = append(errs, s.spansFile.Close())
		s.spansFile = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendRun(_ context.Context, r Run) error {
	return s.appendLine(func() *os.File { return s.runsFile }, r)
}

func (s *fileStore) AppendSpan(_ context.Context, sp Span) error {
	return s.appendLine(func() *os.File { return s.spansFile }, sp)
}

func (s *fileStore) appendLine(file func() *os.File, v any) error {
	if s == nil {
		return ErrDisabled
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	f := file()
	if f == nil {
		return ErrDisabled
	}
	if err := lockFile(f); err != nil {
		return fmt.Errorf("lock %s: %w", f.Name(), err)
	}
	defer func() { _ = unlockFile(f) }()
	_, err = f.Write(b)
	return err
}

func (s *fileStore) Spans(ctx context.Context, runID string) ([]Span, error) {
	if s == nil {
		return nil, ErrDisabled
	}
	var out []Span
	err := scanLines(ctx, s.spansPath, func(sp Span) {
		if sp.RunID == runID {
			out = append(out, sp)
		}
	}, s.log)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// Runs collapses repeated lines for one ID to the last one written.
func (s *fileStore) Runs(ctx context.Context, limit int) ([]Run, error) {
	if s == nil {
		return nil, ErrDisabled
	}
	byID := map[string]int{}
	var out []Run
	err := scanLines(ctx, s.runsPath, func(r Run) {
		if i, ok := byID[r.ID]; ok {
			out[i] = r
			return
		}
		byID[r.ID] = len(out)
		out = append(out, r)
	}, s.log)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func scanLines[T any](ctx context.Context, path string, fn func(T), log logx.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return err
		}
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(b, &v); err != nil {
			// A torn trailing line is skipped, not fatal.
			log.Warn("skip malformed history line", logx.String("path", path), logx.Int("line", line), logx.Err(err))
			continue
		}
		fn(v)
	}
	return sc.Err()
}
