package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	cronrunner "stealthdca/internal/cron"
	"stealthdca/internal/metrics"
	"stealthdca/internal/models"
	"stealthdca/internal/pipeline"
	"stealthdca/internal/repository"
	"stealthdca/internal/tokens"
)

var (
	ErrNotFound     = errors.New("schedule not found")
	ErrCapReached   = errors.New("schedule reached its execution cap")
	ErrNoHandler    = errors.New("no fire handler configured")
	ErrInvalidAsset = errors.New("invalid asset pair")
)

// FireFunc runs one purchase for a schedule.
type FireFunc func(ctx context.Context, s models.Schedule) (*pipeline.Result, error)

// Observer is told about every execution appended by Fire.
type Observer func(ctx context.Context, s models.Schedule, exec models.Execution)

// Engine drives schedules. The repository is the only source of schedule
// data; the timer set only records which schedules this process fires.
// With a nil Runner every operation works directly against the repository.
type Engine struct {
	Repo     repository.ScheduleRepository
	Runner   *cronrunner.Runner
	Logger   *zap.Logger
	Anchor   Anchor
	OnFire   FireFunc
	Observer Observer
	Now      func() time.Time
	// Tokens, when set, makes Create reject unknown assets and pairs that
	// resolve to the same mint.
	Tokens *tokens.Registry

	mu     sync.Mutex
	timers map[string]timer
	// store serializes read-modify-write sequences on schedule records.
	store  sync.Mutex
	firing sync.Map
}

type timer struct {
	entry  cron.EntryID
	onFire FireFunc
}

func NewEngine(repo repository.ScheduleRepository, runner *cronrunner.Runner, anchor Anchor, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		Repo:   repo,
		Runner: runner,
		Logger: logger,
		Anchor: anchor,
		timers: map[string]timer{},
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// Create persists an active schedule and starts its timer. A nil onFire
// falls back to the engine's OnFire.
func (e *Engine) Create(ctx context.Context, s models.Schedule, onFire FireFunc) (*models.Schedule, error) {
	s.Active = true
	if s.CreatedAt.IsZero() {
		s.CreatedAt = e.now().UTC()
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if _, err := e.Anchor.Spec(s.Frequency); err != nil {
		return nil, err
	}
	if err := e.checkAssets(s); err != nil {
		return nil, err
	}
	if err := e.Repo.SaveSchedule(ctx, &s); err != nil {
		return nil, fmt.Errorf("save schedule: %w", err)
	}
	if err := e.register(s, onFire); err != nil {
		return &s, err
	}
	e.logger().Info("schedule created",
		zap.String("schedule_id", s.ID),
		zap.String("pair", s.FromAsset+"/"+s.ToAsset),
		zap.String("amount", s.Amount.String()),
		zap.String("frequency", string(s.Frequency)),
	)
	return &s, nil
}

func (e *Engine) checkAssets(s models.Schedule) error {
	if e.Tokens == nil {
		return nil
	}
	from, err := e.Tokens.Lookup(s.FromAsset)
	if err != nil {
		return fmt.Errorf("%w: %w (known: %s)", ErrInvalidAsset, err, strings.Join(e.Tokens.Symbols(), ", "))
	}
	to, err := e.Tokens.Lookup(s.ToAsset)
	if err != nil {
		return fmt.Errorf("%w: %w (known: %s)", ErrInvalidAsset, err, strings.Join(e.Tokens.Symbols(), ", "))
	}
	if from.Mint.Equals(to.Mint) {
		return fmt.Errorf("%w: %w: %s and %s are the same mint", ErrInvalidAsset, models.ErrSameAsset, s.FromAsset, s.ToAsset)
	}
	return nil
}

// Pause stops the timer and marks the schedule inactive. Pausing twice is a
// no-op. The bool reports whether the schedule exists.
func (e *Engine) Pause(ctx context.Context, id string) (bool, error) {
	e.unregister(id)

	e.store.Lock()
	defer e.store.Unlock()
	s, err := e.Repo.GetSchedule(ctx, id)
	if err != nil || s == nil {
		return false, err
	}
	if !s.Active {
		return true, nil
	}
	s.Active = false
	if err := e.Repo.SaveSchedule(ctx, s); err != nil {
		return true, err
	}
	e.logger().Info("schedule paused", zap.String("schedule_id", id))
	return true, nil
}

// Resume reactivates a paused schedule. A schedule that used up its
// executions stays inactive and ErrCapReached is returned.
func (e *Engine) Resume(ctx context.Context, id string) (bool, error) {
	e.store.Lock()
	s, err := e.Repo.GetSchedule(ctx, id)
	if err != nil || s == nil {
		e.store.Unlock()
		return false, err
	}
	if s.CapReached() {
		e.store.Unlock()
		return true, ErrCapReached
	}
	if !s.Active {
		s.Active = true
		if err := e.Repo.SaveSchedule(ctx, s); err != nil {
			e.store.Unlock()
			return true, err
		}
	}
	e.store.Unlock()

	if err := e.register(*s, nil); err != nil {
		return true, err
	}
	e.logger().Info("schedule resumed", zap.String("schedule_id", id))
	return true, nil
}

// Cancel stops the timer and removes the record.
func (e *Engine) Cancel(ctx context.Context, id string) (bool, error) {
	e.unregister(id)

	e.store.Lock()
	defer e.store.Unlock()
	ok, err := e.Repo.DeleteSchedule(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		e.logger().Info("schedule cancelled", zap.String("schedule_id", id))
	}
	return ok, nil
}

// Fire runs one execution of the schedule as stored right now. It returns a
// nil execution when the schedule is gone, inactive or out of executions.
func (e *Engine) Fire(ctx context.Context, id string) (*models.Execution, error) {
	return e.fire(ctx, id, nil)
}

func (e *Engine) fire(ctx context.Context, id string, onFire FireFunc) (*models.Execution, error) {
	lock, _ := e.firing.LoadOrStore(id, &sync.Mutex{})
	fl := lock.(*sync.Mutex)
	fl.Lock()
	defer fl.Unlock()

	s, err := e.Repo.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		e.unregister(id)
		metrics.ScheduleFire("missing")
		return nil, nil
	}
	if !s.Active {
		metrics.ScheduleFire("skipped_inactive")
		return nil, nil
	}
	if s.CapReached() {
		metrics.ScheduleFire("cap_reached")
		_, err := e.Pause(ctx, id)
		return nil, err
	}

	if onFire == nil {
		onFire = e.handlerFor(id)
	}
	if onFire == nil {
		onFire = e.OnFire
	}
	if onFire == nil {
		return nil, ErrNoHandler
	}

	started := e.now()
	res, runErr := onFire(ctx, *s)
	exec := executionFor(s.ID, res, runErr, e.now())

	if err := e.Repo.AppendExecution(ctx, &exec); err != nil {
		return &exec, fmt.Errorf("append execution: %w", err)
	}

	updated, err := e.recordOutcome(ctx, id, exec.Success)
	if err != nil {
		return &exec, err
	}
	if updated != nil {
		s = updated
	}

	log := e.logger().With(
		zap.String("schedule_id", id),
		zap.Int("executed", s.ExecutedCount),
		zap.Duration("elapsed", e.now().Sub(started)),
	)
	if exec.Success {
		metrics.ScheduleFire("executed")
		log.Info("schedule fired", zap.String("signature", exec.Signature))
	} else {
		metrics.ScheduleFire("failed")
		log.Warn("schedule fire failed", zap.String("error", exec.Error))
	}
	if e.Observer != nil {
		e.Observer(ctx, *s, exec)
	}
	return &exec, nil
}

// recordOutcome re-reads the schedule so changes made during the run are
// kept, counts a success and deactivates once the cap is reached.
func (e *Engine) recordOutcome(ctx context.Context, id string, success bool) (*models.Schedule, error) {
	if !success {
		return nil, nil
	}
	e.store.Lock()
	defer e.store.Unlock()

	s, err := e.Repo.GetSchedule(ctx, id)
	if err != nil || s == nil {
		return nil, err
	}
	s.ExecutedCount++
	capped := s.CapReached()
	if capped {
		s.Active = false
	}
	if err := e.Repo.SaveSchedule(ctx, s); err != nil {
		return nil, fmt.Errorf("save schedule: %w", err)
	}
	if capped {
		e.unregister(id)
		e.logger().Info("schedule completed", zap.String("schedule_id", id), zap.Int("executed", s.ExecutedCount))
	}
	return s, nil
}

const listPageSize = 200

func executionFor(scheduleID string, res *pipeline.Result, runErr error, at time.Time) models.Execution {
	var stages []byte
	if res != nil {
		stages = res.StagesJSON()
	}
	if runErr == nil && res != nil && res.Success {
		return models.NewSucceededExecution(scheduleID, res.Signature, res.OutputAmount, stages, at)
	}
	if runErr == nil {
		runErr = errors.New("run did not succeed")
	}
	return models.NewFailedExecution(scheduleID, runErr, stages, at)
}

// NextFireTime is nil for inactive schedules.
func (e *Engine) NextFireTime(ctx context.Context, id string) (*time.Time, error) {
	s, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.Active {
		return nil, nil
	}
	next, err := e.next(s.Frequency, e.now())
	if err != nil {
		return nil, err
	}
	return &next, nil
}

func (e *Engine) next(f models.Frequency, now time.Time) (time.Time, error) {
	spec, err := e.Anchor.Spec(f)
	if err != nil {
		return time.Time{}, err
	}
	return cronrunner.Next(spec, now, e.Anchor.location())
}

// Rehydrate starts timers for every active schedule in the repository.
func (e *Engine) Rehydrate(ctx context.Context) (int, error) {
	items, err := e.activeSchedules(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range items {
		if err := e.register(s, nil); err != nil {
			e.logger().Warn("rehydrate schedule failed", zap.String("schedule_id", s.ID), zap.Error(err))
			continue
		}
		n++
	}
	e.logger().Info("schedules rehydrated", zap.Int("count", n))
	return n, nil
}

// activeSchedules pages through the repository until it is exhausted.
func (e *Engine) activeSchedules(ctx context.Context) ([]models.Schedule, error) {
	active := true
	var out []models.Schedule
	for offset := 0; ; offset += listPageSize {
		items, err := e.Repo.ListSchedules(ctx, repository.ListSchedulesParams{
			Active: &active,
			Limit:  listPageSize,
			Offset: offset,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		if len(items) < listPageSize {
			return out, nil
		}
	}
}

// Reconcile aligns the timer set with the repository after outside writes.
func (e *Engine) Reconcile(ctx context.Context) error {
	if e.Runner == nil {
		return nil
	}
	items, err := e.activeSchedules(ctx)
	if err != nil {
		return err
	}
	want := make(map[string]models.Schedule, len(items))
	for _, s := range items {
		want[s.ID] = s
	}

	for _, id := range e.registered() {
		if _, ok := want[id]; !ok {
			e.unregister(id)
			e.logger().Info("timer dropped after external change", zap.String("schedule_id", id))
		}
	}
	for id, s := range want {
		if e.isRegistered(id) {
			continue
		}
		if err := e.register(s, nil); err != nil {
			e.logger().Warn("reconcile schedule failed", zap.String("schedule_id", id), zap.Error(err))
			continue
		}
		e.logger().Info("timer added after external change", zap.String("schedule_id", id))
	}
	return nil
}

func (e *Engine) List(ctx context.Context, params repository.ListSchedulesParams) ([]models.Schedule, error) {
	params.Limit = repository.NormalizeLimit(params.Limit, 100)
	params.Offset = repository.NormalizeOffset(params.Offset)
	return e.Repo.ListSchedules(ctx, params)
}

func (e *Engine) Get(ctx context.Context, id string) (*models.Schedule, error) {
	s, err := e.Repo.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNotFound
	}
	return s, nil
}

// History lists executions newest first.
func (e *Engine) History(ctx context.Context, id string, limit int) ([]models.Execution, error) {
	return e.Repo.ListExecutions(ctx, repository.ListExecutionsParams{
		ScheduleID: &id,
		Limit:      repository.NormalizeLimit(limit, 50),
	})
}

// Registered reports whether this process holds a timer for the schedule.
func (e *Engine) Registered(id string) bool {
	return e.isRegistered(id)
}

func (e *Engine) register(s models.Schedule, onFire FireFunc) error {
	if e.Runner == nil {
		return nil
	}
	spec, err := e.Anchor.Spec(s.Frequency)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timers == nil {
		e.timers = map[string]timer{}
	}
	if t, ok := e.timers[s.ID]; ok {
		if onFire != nil {
			t.onFire = onFire
			e.timers[s.ID] = t
		}
		return nil
	}

	id := s.ID
	entry, err := e.Runner.Add(spec, func(ctx context.Context) {
		if _, err := e.fire(ctx, id, e.handlerFor(id)); err != nil {
			e.logger().Error("schedule fire error", zap.String("schedule_id", id), zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	e.timers[id] = timer{entry: entry, onFire: onFire}
	return nil
}

func (e *Engine) handlerFor(id string) FireFunc {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timers[id].onFire
}

func (e *Engine) unregister(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.timers[id]
	if !ok {
		return
	}
	if e.Runner != nil {
		e.Runner.Remove(t.entry)
	}
	delete(e.timers, id)
}

func (e *Engine) isRegistered(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.timers[id]
	return ok
}

func (e *Engine) registered() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.timers))
	for id := range e.timers {
		out = append(out, id)
	}
	return out
}
