// Package scheduler 按 cron 表达式或固定间隔运行后台任务，例如定时刷新弹性表.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/wyfcoding/pricing/config"
	"github.com/wyfcoding/pricing/logging"
	"github.com/wyfcoding/pricing/metrics"
	"github.com/wyfcoding/pricing/xerrors"
)

var (
	// ErrJobNameEmpty 任务名称为空。
	ErrJobNameEmpty = errors.New("job name is empty")
	// ErrJobScheduleInvalid 任务既没有合法的 cron 表达式也没有正的间隔。
	ErrJobScheduleInvalid = errors.New("job schedule is invalid")
	// ErrJobAlreadyExists 任务名称重复。
	ErrJobAlreadyExists = errors.New("job already exists")
	// ErrJobHandlerNil 任务处理函数为空。
	ErrJobHandlerNil = errors.New("job handler is nil")
	// ErrJobNotFound 任务不存在。
	ErrJobNotFound = errors.New("job not found")
	// ErrJobBusy 任务正在运行且不允许并发。
	ErrJobBusy = errors.New("job is already running")
)

// Job 定义定时任务函数原型。
type Job func(ctx context.Context) error

// JobConfig 定义任务调度参数。Spec 非空时优先于 Interval。
type JobConfig struct {
	Name            string        // 任务名称（唯一）。
	Spec            string        // 标准五段 cron 表达式。
	Interval        time.Duration // 固定调度间隔。
	Jitter          time.Duration // 抖动时间，用于打散同一时刻的任务触发。
	Timeout         time.Duration // 单次执行超时。
	Retry           RetryPolicy   // 失败重试策略。
	RunOnStart      bool          // 是否在启动时立即执行一次。
	AllowConcurrent bool          // 是否允许任务并发执行。
}

// FromConfig 由调度配置生成任务参数.
func FromConfig(name string, cfg config.SchedulerConfig) JobConfig {
	retry := DefaultRetryPolicy()
	retry.MaxRetries = cfg.MaxRetries
	return JobConfig{
		Name:       name,
		Spec:       cfg.Spec,
		Timeout:    cfg.Timeout,
		Retry:      retry,
		RunOnStart: cfg.RunOnStart,
	}
}

// Scheduler 负责任务的统一调度与生命周期管理。
type Scheduler struct {
	logger  *slog.Logger
	mu      sync.Mutex
	jobs    map[string]*jobRunner
	stop    chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
	metrics *schedulerMetrics
	now     func() time.Time
}

type jobRunner struct {
	cfg      JobConfig
	schedule cron.Schedule
	handler  Job
	running  int32
}

type schedulerMetrics struct {
	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	jobRunning  *prometheus.GaugeVec
}

// NewScheduler 创建任务调度器，m 为空时不采集指标。
func NewScheduler(logger *logging.Logger, m *metrics.Metrics) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}

	var schedMetrics *schedulerMetrics
	if m != nil {
		schedMetrics = &schedulerMetrics{
			jobRuns: m.NewCounterVec(prometheus.CounterOpts{
				Subsystem: "scheduler",
				Name:      "job_runs_total",
				Help:      "Total number of scheduled job runs",
			}, []string{"job", "status"}),
			jobDuration: m.NewHistogramVec(prometheus.HistogramOpts{
				Subsystem: "scheduler",
				Name:      "job_duration_seconds",
				Help:      "Scheduled job execution duration",
				Buckets:   prometheus.DefBuckets,
			}, []string{"job", "status"}),
			jobRunning: m.NewGaugeVec(prometheus.GaugeOpts{
				Subsystem: "scheduler",
				Name:      "job_running",
				Help:      "Current running jobs",
			}, []string{"job"}),
		}
	}

	return &Scheduler{
		logger:  logger.Logger,
		jobs:    make(map[string]*jobRunner),
		stop:    make(chan struct{}),
		metrics: schedMetrics,
		now:     time.Now,
	}
}

// AddJob 注册一个新的调度任务。
func (s *Scheduler) AddJob(cfg JobConfig, handler Job) error {
	if cfg.Name == "" {
		return ErrJobNameEmpty
	}
	if handler == nil {
		return ErrJobHandlerNil
	}

	var schedule cron.Schedule
	switch {
	case cfg.Spec != "":
		sched, err := cron.ParseStandard(cfg.Spec)
		if err != nil {
			return errors.Join(ErrJobScheduleInvalid, err)
		}
		schedule = sched
	case cfg.Interval > 0:
		schedule = cron.Every(cfg.Interval)
	default:
		return ErrJobScheduleInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[cfg.Name]; exists {
		return ErrJobAlreadyExists
	}
	s.jobs[cfg.Name] = &jobRunner{cfg: cfg, schedule: schedule, handler: handler}
	return nil
}

// Next 返回任务在 after 之后的下一次触发时间.
func (s *Scheduler) Next(name string, after time.Time) (time.Time, error) {
	s.mu.Lock()
	runner, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, ErrJobNotFound
	}
	return runner.schedule.Next(after), nil
}

// RunNow 立即同步执行一次任务，返回最终错误.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	runner, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}
	return s.execute(ctx, runner)
}

// Start 启动调度器并异步运行所有任务。
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, runner := range s.jobs {
		s.wg.Add(1)
		go s.runJob(ctx, runner)
	}
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop 关闭调度器并等待所有任务退出。
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stopped.Do(func() { close(s.stop) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (s *Scheduler) runJob(ctx context.Context, runner *jobRunner) {
	defer s.wg.Done()

	if runner.cfg.RunOnStart {
		_ = s.execute(ctx, runner)
	}

	for {
		next := runner.schedule.Next(s.now())
		wait := next.Sub(s.now())
		if runner.cfg.Jitter > 0 {
			wait += rand.N(runner.cfg.Jitter)
		}
		timer := time.NewTimer(wait)

		select {
		case <-timer.C:
			_ = s.execute(ctx, runner)
		case <-s.stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, runner *jobRunner) error {
	name := runner.cfg.Name
	if !runner.cfg.AllowConcurrent {
		if !atomic.CompareAndSwapInt32(&runner.running, 0, 1) {
			s.logger.Warn("scheduler job skipped (already running)", "job", name)
			s.count(name, "skipped")
			return ErrJobBusy
		}
		defer atomic.StoreInt32(&runner.running, 0)
	}

	execCtx := ctx
	if runner.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, runner.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	if s.metrics != nil {
		s.metrics.jobRunning.WithLabelValues(name).Inc()
	}
	err := runner.cfg.Retry.Do(execCtx, func() error {
		return runner.handler(execCtx)
	}, retryable)
	if s.metrics != nil {
		s.metrics.jobRunning.WithLabelValues(name).Dec()
	}

	status := "success"
	if err != nil {
		status = "failed"
		attrs := []any{"job", name, "error", err}
		if e, ok := xerrors.FromError(err); ok {
			attrs = append(attrs, "code", e.GRPCCode().String())
		}
		s.logger.Error("scheduler job failed", attrs...)
	} else {
		s.logger.Debug("scheduler job succeeded", "job", name, "duration", time.Since(start))
	}
	s.count(name, status)
	if s.metrics != nil {
		s.metrics.jobDuration.WithLabelValues(name, status).Observe(time.Since(start).Seconds())
	}
	return err
}

func (s *Scheduler) count(job, status string) {
	if s.metrics != nil {
		s.metrics.jobRuns.WithLabelValues(job, status).Inc()
	}
}

// retryable 配置、数据与前置条件类错误重试无意义.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if e, ok := xerrors.FromError(err); ok {
		return e.Temporary()
	}
	return true
}
