package filerepository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"stealthdca/internal/models"
	"stealthdca/internal/repository"
)

const (
	SchedulesFile  = "schedules.json"
	ExecutionsFile = "executions.json"
)

// Store keeps schedules and executions as two JSON arrays in one directory.
// Every call re-reads the files so writes from other processes are observed.
// The mutex only serializes writers inside this process.
type Store struct {
	dir string
	mu  sync.Mutex
}

func New(dir string) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("store dir required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

var _ repository.ScheduleRepository = (*Store)(nil)

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) SaveSchedule(ctx context.Context, item *models.Schedule) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.readSchedules()
	if err != nil {
		return err
	}
	item.UpdatedAt = time.Now().UTC()
	replaced := false
	for i := range items {
		if items[i].ID == item.ID {
			items[i] = *item
			replaced = true
			break
		}
	}
	if !replaced {
		items = append(items, *item)
	}
	return s.write(SchedulesFile, items)
}

func (s *Store) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.readSchedules()
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ID == id {
			item := items[i]
			return &item, nil
		}
	}
	return nil, nil
}

func (s *Store) ListSchedules(ctx context.Context, params repository.ListSchedulesParams) ([]models.Schedule, error) {
	s.mu.Lock()
	items, err := s.readSchedules()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]models.Schedule, 0, len(items))
	for _, item := range items {
		if params.Active != nil && item.Active != *params.Active {
			continue
		}
		out = append(out, item)
	}
	return page(out, params.Limit, params.Offset, 500), nil
}

func (s *Store) DeleteSchedule(ctx context.Context, id string) (bool, error) {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.readSchedules()
	if err != nil {
		return false, err
	}
	out := items[:0]
	found := false
	for _, item := range items {
		if item.ID == id {
			found = true
			continue
		}
		out = append(out, item)
	}
	if !found {
		return false, nil
	}
	return true, s.write(SchedulesFile, out)
}

func (s *Store) AppendExecution(ctx context.Context, item *models.Execution) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var items []models.Execution
	if err := s.read(ExecutionsFile, &items); err != nil {
		return err
	}
	items = append(items, *item)
	return s.write(ExecutionsFile, items)
}

func (s *Store) ListExecutions(ctx context.Context, params repository.ListExecutionsParams) ([]models.Execution, error) {
	s.mu.Lock()
	var items []models.Execution
	err := s.read(ExecutionsFile, &items)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]models.Execution, 0, len(items))
	for _, item := range items {
		if params.ScheduleID != nil && strings.TrimSpace(*params.ScheduleID) != "" && item.ScheduleID != strings.TrimSpace(*params.ScheduleID) {
			continue
		}
		if params.Success != nil && item.Success != *params.Success {
			continue
		}
		if params.Since != nil && item.Timestamp.Before(*params.Since) {
			continue
		}
		out = append(out, item)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if params.Asc {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return page(out, params.Limit, params.Offset, 100), nil
}

func (s *Store) Ping(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.dir)
	}
	return nil
}

func (s *Store) readSchedules() ([]models.Schedule, error) {
	var items []models.Schedule
	if err := s.read(SchedulesFile, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// read leaves v untouched when the file is missing or empty.
func (s *Store) read(name string, v any) error {
	b, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// write replaces the whole file through a temp file in the same directory.
func (s *Store) write(name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, filepath.Join(s.dir, name))
}

func page[T any](items []T, limit, offset, fallback int) []T {
	limit = repository.NormalizeLimit(limit, fallback)
	offset = repository.NormalizeOffset(offset)
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
