package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"driftd/internal/shared"
	"driftd/pkg/drift"
	"driftd/pkg/retry"
)

// JobFunc представляет функцию задачи планировщика.
type JobFunc = drift.JobFunc

// JobKind - тип расписания задачи.
type JobKind string

const (
	// KindCron - задача по cron-выражению.
	KindCron JobKind = "cron"
	// KindInterval - задача с фиксированным интервалом и компенсацией дрейфа.
	KindInterval JobKind = "interval"
)

// JobState - состояние задачи в реестре.
type JobState string

const (
	StatePending JobState = "pending"
	StateRunning JobState = "running"
	StateStopped JobState = "stopped"
)

// Spec описывает расписание задачи: либо Cron, либо Every.
type Spec struct {
	Cron  string
	Every time.Duration
}

// JobOptions содержит опции для настройки задач.
type JobOptions struct {
	// Name - имя задачи; попадает в события, метрики и историю.
	// Если не задано, генерируется из расписания и ID.
	Name string
	// Timeout - максимальное время одного выполнения (необязательно).
	Timeout time.Duration
	// FailurePolicy - что делать с расписанием после ошибки выполнения.
	FailurePolicy drift.FailurePolicy
	// InitialDelay - задержка перед первым тиком interval-задачи.
	InitialDelay time.Duration
	// Retries - число повторов неудачного выполнения внутри одного тика.
	Retries int
}

// JobHooks содержит необязательные хуки для наблюдаемости.
type JobHooks struct {
	OnJobStart   func(jobName string)
	OnJobFinish  func(jobName string, duration time.Duration, err error)
	OnJobError   func(jobName string, err error)
	OnJobSkipped func(jobName string, instant time.Time)
	OnJobStopped func(jobName string, reason drift.StopReason, err error)
}

// Config содержит конфигурацию планировщика.
type Config struct {
	Logger   *slog.Logger
	JobHooks JobHooks
	// Observers получают события всех задач (метрики, история, алерты).
	Observers []drift.Observer
	// Location - часовой пояс для cron-выражений (UTC по умолчанию).
	Location *time.Location
	// RetryDelay - начальная задержка между повторами выполнения.
	RetryDelay time.Duration
}

// JobInfo - снимок состояния задачи.
type JobInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Kind       JobKind   `json:"kind"`
	Schedule   string    `json:"schedule"`
	State      JobState  `json:"state"`
	Policy     string    `json:"policy"`
	Ticks      uint64    `json:"ticks"`
	Failures   uint64    `json:"failures"`
	Skipped    uint64    `json:"skipped"`
	LastStart  time.Time `json:"last_start,omitzero"`
	LastMS     int64     `json:"last_elapsed_ms"`
	NextWaitMS int64     `json:"next_wait_ms"`
	LastError  string    `json:"last_error,omitempty"`
	StopReason string    `json:"stop_reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// job - запись реестра.
type job struct {
	id      string
	kind    JobKind
	spec    Spec
	drifter drift.Drifter
	opts    JobOptions
	created time.Time

	mu       sync.Mutex
	state    JobState
	token    *drift.Token
	ticks    uint64
	failures uint64
	skipped  uint64
	last     time.Time
	lastDur  time.Duration
	nextWait time.Duration
	lastErr  string
	reason   string

	stopped  chan struct{}
	stopOnce sync.Once
}

func (j *job) markStopped() {
	j.stopOnce.Do(func() { close(j.stopped) })
}

func (j *job) scheduleString() string {
	if j.kind == KindCron {
		return j.spec.Cron
	}
	return "every " + j.spec.Every.String()
}

func (j *job) info() JobInfo {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JobInfo{
		ID:         j.id,
		Name:       j.opts.Name,
		Kind:       j.kind,
		Schedule:   j.scheduleString(),
		State:      j.state,
		Policy:     j.opts.FailurePolicy.String(),
		Ticks:      j.ticks,
		Failures:   j.failures,
		Skipped:    j.skipped,
		LastStart:  j.last,
		LastMS:     j.lastDur.Milliseconds(),
		NextWaitMS: j.nextWait.Milliseconds(),
		LastError:  j.lastErr,
		StopReason: j.reason,
		CreatedAt:  j.created,
	}
}

// Scheduler - реестр периодических задач поверх пакета drift.
// Токен каждой задачи - дочерний к корневому токену реестра.
type Scheduler struct {
	root      *drift.Token
	logger    *slog.Logger
	hooks     JobHooks
	observer  drift.Observer
	location  *time.Location
	retryBase time.Duration

	mu      sync.Mutex
	jobs    map[string]*job
	order   []string
	started bool

	active    sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	stopping  atomic.Bool
}

// New создает новый экземпляр планировщика.
func New(cfg Config) *Scheduler {
	return NewWithContext(context.Background(), cfg)
}

// NewWithContext создает планировщик, который останавливается вместе с parentCtx.
func NewWithContext(parentCtx context.Context, cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	retryBase := cfg.RetryDelay
	if retryBase <= 0 {
		retryBase = 200 * time.Millisecond
	}

	return &Scheduler{
		root:      drift.TokenFromContext(parentCtx),
		logger:    logger.With("component", "scheduler"),
		hooks:     cfg.JobHooks,
		observer:  drift.Observers(cfg.Observers...),
		location:  loc,
		retryBase: retryBase,
		jobs:      make(map[string]*job),
	}
}

// AddCronJob добавляет задачу по cron-расписанию с опциями по умолчанию.
// Примеры расписаний:
//   - "0 30 * * * *" - каждый час в 30 минут
//   - "@hourly" - каждый час
//   - "@every 5m" - каждые 5 минут
func (s *Scheduler) AddCronJob(expr string, fn JobFunc) (string, error) {
	return s.AddCronJobWithOptions(expr, fn, JobOptions{})
}

// AddCronJobWithOptions добавляет задачу по cron-расписанию с указанными опциями.
func (s *Scheduler) AddCronJobWithOptions(expr string, fn JobFunc, opts JobOptions) (string, error) {
	return s.AddDrifter(Spec{Cron: expr}, drift.FromFunc(fn), opts)
}

// AddTickerJob добавляет задачу с фиксированным интервалом с опциями по умолчанию.
func (s *Scheduler) AddTickerJob(interval time.Duration, fn JobFunc) (string, error) {
	return s.AddTickerJobWithOptions(interval, fn, JobOptions{})
}

// AddTickerJobWithOptions добавляет задачу с фиксированным интервалом с указанными опциями.
func (s *Scheduler) AddTickerJobWithOptions(interval time.Duration, fn JobFunc, opts JobOptions) (string, error) {
	return s.AddDrifter(Spec{Every: interval}, drift.FromFunc(fn), opts)
}

// AddDrifter регистрирует задачу. До Start задача ждет в состоянии pending,
// после Start запускается сразу. Неверное cron-выражение возвращается
// синхронно как ошибка валидации.
func (s *Scheduler) AddDrifter(spec Spec, d drift.Drifter, opts JobOptions) (string, error) {
	if d == nil {
		return "", shared.MarkKind(errors.New("drifter is nil"), shared.KindValidation)
	}

	j := &job{
		id:      uuid.NewString(),
		drifter: d,
		opts:    opts,
		spec:    spec,
		created: time.Now().UTC(),
		state:   StatePending,
		stopped: make(chan struct{}),
	}

	switch {
	case spec.Cron != "" && spec.Every != 0:
		return "", shared.MarkKind(errors.New("schedule must be either cron or interval"), shared.KindValidation)
	case spec.Cron != "":
		if _, err := drift.ParseCron(spec.Cron); err != nil {
			s.logger.Error("failed to add cron job", "schedule", spec.Cron, "name", opts.Name, "error", err)
			return "", shared.FromDrift(err)
		}
		j.kind = KindCron
	case spec.Every > 0:
		j.kind = KindInterval
	default:
		return "", shared.MarkKind(fmt.Errorf("interval must be positive, got %s", spec.Every), shared.KindValidation)
	}

	if j.opts.Name == "" {
		j.opts.Name = j.scheduleString() + "#" + j.id[:8]
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping.Load() {
		return "", shared.MarkKind(errors.New("scheduler is stopped"), shared.KindConflict)
	}
	for _, other := range s.jobs {
		if other.opts.Name == j.opts.Name {
			return "", shared.MarkKind(fmt.Errorf("job %q already exists", j.opts.Name), shared.KindConflict)
		}
	}

	s.jobs[j.id] = j
	s.order = append(s.order, j.id)
	if s.started {
		s.launch(j)
	}

	s.logger.Info("job added", "id", j.id, "name", j.opts.Name, "kind", j.kind,
		"schedule", j.scheduleString(), "policy", j.opts.FailurePolicy)
	return j.id, nil
}

// Remove отменяет задачу и удаляет её из реестра.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if ok {
		delete(s.jobs, id)
		s.order = slices.DeleteFunc(s.order, func(v string) bool { return v == id })
	}
	s.mu.Unlock()

	if !ok {
		return notFound(id)
	}
	s.cancelJob(j)
	s.logger.Info("job removed", "id", id, "name", j.opts.Name)
	return nil
}

// Cancel останавливает задачу, оставляя её в реестре для просмотра.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()

	if !ok {
		return notFound(id)
	}
	s.cancelJob(j)
	s.logger.Info("job cancelled", "id", id, "name", j.opts.Name)
	return nil
}

func (s *Scheduler) cancelJob(j *job) {
	j.mu.Lock()
	token := j.token
	if j.state == StatePending {
		// Задача не запускалась: останавливаем без событий.
		j.state = StateStopped
		j.reason = drift.StopCancelled.String()
		j.markStopped()
	}
	j.mu.Unlock()

	if token != nil {
		token.Cancel()
	}
}

// Start запускает все ожидающие задачи. Повторный вызов ничего не делает.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.logger.Info("starting scheduler")

		s.mu.Lock()
		s.started = true
		for _, id := range s.order {
			s.launch(s.jobs[id])
		}
		s.mu.Unlock()

		go func() {
			<-s.root.Done()
			if !s.stopping.Load() {
				s.logger.Info("stopping scheduler due to context cancellation")
			}
		}()
	})
}

// launch запускает цикл drift для задачи. Вызывается под s.mu.
func (s *Scheduler) launch(j *job) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StatePending {
		return
	}

	opts := []drift.Option{
		drift.WithName(j.opts.Name),
		drift.WithParent(s.root),
		drift.WithFailurePolicy(j.opts.FailurePolicy),
		drift.WithLogger(s.logger.With("job_id", j.id)),
		drift.WithLocation(s.location),
		drift.WithObserver(s.jobObserver(j)),
		drift.WithObserver(s.observer),
	}

	d := s.wrap(j)
	s.active.Add(1)

	var token *drift.Token
	switch j.kind {
	case KindCron:
		var err error
		token, err = drift.ScheduleDrifterCron(j.spec.Cron, d, opts...)
		if err != nil {
			// Выражение уже проверено в AddDrifter.
			s.active.Done()
			j.state = StateStopped
			j.lastErr = err.Error()
			j.markStopped()
			return
		}
	default:
		opts = append(opts, drift.WithInitialDelay(j.opts.InitialDelay))
		token = drift.ScheduleDrifter(j.spec.Every, d, opts...)
	}

	j.token = token
	j.state = StateRunning
}

// jobObserver ведёт статистику задачи, вызывает хуки и отмечает остановку.
func (s *Scheduler) jobObserver(j *job) drift.Observer {
	name := j.opts.Name
	return drift.ObserverFunc(func(e drift.Event) {
		switch e.Kind {
		case drift.TickStart:
			j.mu.Lock()
			j.ticks = e.Tick
			j.last = e.Time
			j.mu.Unlock()
			if s.hooks.OnJobStart != nil {
				s.hooks.OnJobStart(name)
			}

		case drift.TickSuccess:
			j.mu.Lock()
			j.lastDur = e.Elapsed
			j.nextWait = e.Wait
			j.lastErr = ""
			j.mu.Unlock()
			if s.hooks.OnJobFinish != nil {
				s.hooks.OnJobFinish(name, e.Elapsed, nil)
			}

		case drift.TickFailure:
			j.mu.Lock()
			j.failures++
			j.lastDur = e.Elapsed
			j.nextWait = e.Wait
			j.lastErr = errString(e.Err)
			j.mu.Unlock()
			if s.hooks.OnJobFinish != nil {
				s.hooks.OnJobFinish(name, e.Elapsed, e.Err)
			}
			if s.hooks.OnJobError != nil {
				s.hooks.OnJobError(name, e.Err)
			}

		case drift.TickSkipped:
			j.mu.Lock()
			j.skipped++
			j.mu.Unlock()
			if s.hooks.OnJobSkipped != nil {
				s.hooks.OnJobSkipped(name, e.Instant)
			}

		case drift.ScheduleStopped:
			j.mu.Lock()
			j.state = StateStopped
			j.reason = e.Reason.String()
			if e.Err != nil {
				j.lastErr = e.Err.Error()
			}
			j.mu.Unlock()
			if s.hooks.OnJobStopped != nil {
				// Паника в хуке не должна помешать отметить остановку.
				func() {
					defer func() { _ = recover() }()
					s.hooks.OnJobStopped(name, e.Reason, e.Err)
				}()
			}
			j.markStopped()
			s.active.Done()
		}
	})
}

// wrap добавляет к выполнению таймаут и повторы из JobOptions.
func (s *Scheduler) wrap(j *job) drift.Drifter {
	once := j.drifter
	if j.opts.Timeout > 0 {
		once = timeoutDrifter{next: once, timeout: j.opts.Timeout, name: j.opts.Name}
	}
	if j.opts.Retries <= 0 {
		return once
	}

	cfg := retry.Config{
		MaxAttempts:  j.opts.Retries + 1,
		InitialDelay: s.retryBase,
		MaxDelay:     10 * s.retryBase,
		Multiplier:   2,
		Jitter:       true,
		OnRetry: func(attempt int, err error, next time.Duration) {
			s.logger.Warn("job attempt failed, retrying",
				"name", j.opts.Name, "attempt", attempt, "next_delay", next, "error", err)
		},
	}
	return drifterFunc(func(token *drift.Token) error {
		return retry.DoWithRetryable(token, cfg, func(context.Context) error {
			return once.Execute(token)
		}, func(error) bool {
			return !token.IsCancelled()
		})
	})
}

type drifterFunc func(token *drift.Token) error

func (f drifterFunc) Execute(token *drift.Token) error { return f(token) }

// timeoutDrifter отменяет дочерний токен выполнения по истечении timeout.
type timeoutDrifter struct {
	next    drift.Drifter
	timeout time.Duration
	name    string
}

func (d timeoutDrifter) Execute(token *drift.Token) error {
	child := token.Child()
	var fired atomic.Bool
	timer := time.AfterFunc(d.timeout, func() {
		fired.Store(true)
		child.Cancel()
	})
	defer timer.Stop()

	err := d.next.Execute(child)
	if fired.Load() && !token.IsCancelled() {
		timeoutErr := fmt.Errorf("job %q timed out after %s: %w", d.name, d.timeout, context.DeadlineExceeded)
		// Отмену дочернего токена таймером не пробрасываем как context.Canceled.
		if err != nil && !errors.Is(err, context.Canceled) {
			timeoutErr = errors.Join(timeoutErr, err)
		}
		return shared.MarkKind(timeoutErr, shared.KindTimeout)
	}
	return err
}

// Stop останавливает планировщик и ждет остановки всех задач.
func (s *Scheduler) Stop() {
	_ = s.StopContext(context.Background())
}

// StopContext отменяет все задачи и ждет, пока каждая сообщит об остановке.
// Если ctx истекает раньше, возвращается ctx.Err(), а задачи, не
// реагирующие на отмену, завершатся в фоне.
func (s *Scheduler) StopContext(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.logger.Info("stopping scheduler")
		s.mu.Lock()
		s.stopping.Store(true)
		s.mu.Unlock()
		s.root.Cancel()

		// Задачи в pending так и не запустятся.
		s.mu.Lock()
		for _, j := range s.jobs {
			s.cancelJob(j)
		}
		s.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.active.Wait()
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop deadline exceeded, jobs will finish in background")
		return ctx.Err()
	}
}

// IsRunning возвращает true, если планировщик запущен и не остановлен.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	return started && !s.root.IsCancelled()
}

// Snapshot возвращает состояние всех задач в порядке добавления.
func (s *Scheduler) Snapshot() []JobInfo {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.order))
	for _, id := range s.order {
		jobs = append(jobs, s.jobs[id])
	}
	s.mu.Unlock()

	out := make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.info())
	}
	return out
}

// Job возвращает состояние задачи по ID.
func (s *Scheduler) Job(id string) (JobInfo, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return JobInfo{}, notFound(id)
	}
	return j.info(), nil
}

// Stopped возвращает канал, закрываемый после остановки задачи.
func (s *Scheduler) Stopped(id string) (<-chan struct{}, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return nil, notFound(id)
	}
	return j.stopped, nil
}

func notFound(id string) error {
	return shared.MarkKind(fmt.Errorf("job %s not found", id), shared.KindNotFound)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
