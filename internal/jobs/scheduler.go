// Package jobs запускает фоновые задачи по расписанию: автопроверку,
// сверку проекций и доставку журнала действий.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/maynagashev/modhub/internal/metrics"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Результаты запуска для метрик.
const (
	resultSuccess = "success"
	resultFailure = "failure"
	resultSkipped = "skipped"
)

// RunFunc выполняет один проход задачи и возвращает число обработанных записей.
type RunFunc func(ctx context.Context) (int, error)

// Job - задача планировщика.
type Job struct {
	Name     string
	Schedule string
	Run      RunFunc
}

// Policy - политика обработки сбоев задач.
type Policy struct {
	// Timeout ограничивает один запуск.
	Timeout time.Duration `mapstructure:"timeout"`
	// FailureThreshold - после стольких сбоев подряд поднимается тревога.
	FailureThreshold int `mapstructure:"failure_threshold"`
	// MaxBackoff ограничивает паузу после серии сбоев.
	MaxBackoff time.Duration `mapstructure:"max_backoff"`
}

func (p Policy) withDefaults() Policy {
	if p.Timeout <= 0 {
		p.Timeout = time.Minute
	}
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = 3
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = time.Hour
	}
	return p
}

type jobState struct {
	job      Job
	interval time.Duration

	failures  int
	notBefore time.Time
}

// Scheduler - обертка над cron с экспоненциальной паузой после сбоев.
type Scheduler struct {
	cron    *cron.Cron
	policy  Policy
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	baseCtx context.Context
	states  map[string]*jobState
}

// NewScheduler создает планировщик.
func NewScheduler(policy Policy, m *metrics.Metrics, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("Scheduler")
	cl := cronLogger{log: log.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		policy:  policy.withDefaults(),
		metrics: m,
		log:     log,
		now:     time.Now,
		baseCtx: context.Background(),
		states:  make(map[string]*jobState),
	}
}

// Add регистрирует задачу. Расписание в формате cron или "@every 5m".
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("у задачи должны быть имя и функция")
	}
	sched, err := cron.ParseStandard(job.Schedule)
	if err != nil {
		return fmt.Errorf("некорректное расписание задачи %s: %w", job.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[job.Name]; ok {
		return fmt.Errorf("задача %s уже зарегистрирована", job.Name)
	}

	next := sched.Next(s.now())
	st := &jobState{job: job, interval: sched.Next(next).Sub(next)}
	s.states[job.Name] = st
	s.cron.Schedule(sched, cron.FuncJob(func() { s.run(st) }))
	s.log.Info("Задача зарегистрирована", zap.String("job", job.Name), zap.String("schedule", job.Schedule))
	return nil
}

// Start запускает планировщик. Отмена ctx прерывает текущие запуски.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
	s.cron.Start()
	s.log.Info("Планировщик запущен", zap.Int("jobs", len(s.states)))
}

// Stop останавливает планировщик и ждет завершения текущих запусков.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("Планировщик остановлен")
}

func (s *Scheduler) run(st *jobState) {
	name := st.job.Name
	now := s.now()

	s.mu.Lock()
	if now.Before(st.notBefore) {
		s.mu.Unlock()
		s.log.Debug("Запуск пропущен из-за паузы после сбоев", zap.String("job", name))
		s.metrics.JobRun(name, resultSkipped)
		return
	}
	base := s.baseCtx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(base, s.policy.Timeout)
	defer cancel()
	n, err := st.job.Run(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		if st.failures > 0 {
			s.log.Info("Задача восстановилась", zap.String("job", name), zap.Int("failures", st.failures))
		}
		st.failures = 0
		st.notBefore = time.Time{}
		s.metrics.JobRun(name, resultSuccess)
		s.log.Debug("Задача выполнена", zap.String("job", name), zap.Int("processed", n))
		return
	}

	st.failures++
	pause := backoff(st.interval, st.failures, s.policy.MaxBackoff)
	if pause > 0 {
		// Половина тика в запас, чтобы последний пропускаемый тик не прошел по границе.
		st.notBefore = now.Add(pause + st.interval/2)
	}
	s.metrics.JobRun(name, resultFailure)
	s.log.Warn("Сбой задачи",
		zap.String("job", name), zap.Int("failures", st.failures),
		zap.Duration("backoff", pause), zap.Error(err))

	if st.failures == s.policy.FailureThreshold {
		s.metrics.JobAlert(name)
		s.log.Error("Задача падает подряд, требуется вмешательство",
			zap.String("job", name), zap.Int("failures", st.failures), zap.Error(err))
	}
}

// backoff возвращает длительность пропускаемых тиков: после n сбоев подряд
// пропускается 2^(n-1)-1 тиков, но не дольше maxPause.
func backoff(interval time.Duration, failures int, maxPause time.Duration) time.Duration {
	if failures <= 1 || interval <= 0 {
		return 0
	}
	pause := interval
	for i := 2; i < failures && pause < maxPause; i++ {
		pause = pause*2 + interval
	}
	return min(pause, maxPause)
}

// cronLogger передает сообщения cron в zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
