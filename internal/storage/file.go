package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "boardbot/pkg/logx"
)

// compactEvery is the number of journal appends between snapshot rewrites.
const compactEvery = 256

// fileStore keeps audit and dedup state in plain files.
//
// Files, for path "data/boardbot.db":
//   - data/boardbot.audit.jsonl  (append-only JSON Lines)
//   - data/boardbot.dedup.json   (snapshot, rewritten on compaction and Close)
//   - data/boardbot.dedup.jsonl  (journal since the last snapshot)
type fileStore struct {
	log logx.Logger

	mu       sync.Mutex
	audit    *os.File
	journal  *os.File
	snapPath string
	dedup    map[string]int64 // unix milli
	appends  int
}

type dedupRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	prefix := filepath.Join(dir, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))

	audit, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	st := &fileStore{
		log:      log,
		audit:    audit,
		snapPath: prefix + ".dedup.json",
		dedup:    map[string]int64{},
	}
	if err := st.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("dedup snapshot unreadable; starting empty", logx.String("path", st.snapPath), logx.Err(err))
	}
	journalPath := prefix + ".dedup.jsonl"
	if err := st.replay(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("dedup journal replay failed", logx.String("path", journalPath), logx.Err(err))
	}
	st.prune(time.Now())

	st.journal, err = os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = audit.Close()
		return nil, err
	}
	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("dedup_keys", len(st.dedup)))
	return st, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.journal != nil {
		errs = append(errs, s.compactLocked(), s.journal.Close())
		s.journal = nil
	}
	if s.audit != nil {
		errs = append(errs, s.audit.Close())
		s.audit = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		return ErrDisabled
	}
	return json.NewEncoder(s.audit).Encode(e)
}

func (s *fileStore) PutDedup(_ context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	rec := dedupRecord{Key: key, Until: until.UnixMilli()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrDisabled
	}
	s.dedup[key] = rec.Until
	if err := json.NewEncoder(s.journal).Encode(rec); err != nil {
		return err
	}
	s.appends++
	if s.appends%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	key = strings.TrimSpace(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[key]
	if !ok || key == "" {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) compactLocked() error {
	s.prune(time.Now())

	tmp := s.snapPath + ".tmp"
	b, err := json.Marshal(s.dedup)
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func (s *fileStore) loadSnapshot() error {
	b, err := os.ReadFile(s.snapPath)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, &s.dedup)
}

func (s *fileStore) replay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r dedupRecord
		if json.Unmarshal(sc.Bytes(), &r) != nil || r.Key == "" {
			continue
		}
		s.dedup[r.Key] = r.Until
	}
	return sc.Err()
}

func (s *fileStore) prune(now time.Time) {
	ms := now.UnixMilli()
	for k, v := range s.dedup {
		if v < ms {
			delete(s.dedup, k)
		}
	}
}
