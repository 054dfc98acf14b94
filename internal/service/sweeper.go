// sweeper.go — координатор фонового обогащения каталога.
//
// Запускается оппортунистически read-трафиком (TryStart): проход стартует,
// только если предыдущий завершился и cooldown истёк. Single-flight guard
// плюс отметка времени — перекрывающихся проходов не бывает.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики фонового обогащения.
var (
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lib_sweep_runs_total",
		Help: "Количество запусков фонового обогащения.",
	})
	sweepSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lib_sweep_skipped_total",
		Help: "Количество пропущенных запусков (идёт проход или cooldown).",
	})
	sweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lib_sweep_duration_seconds",
		Help:    "Длительность прохода фонового обогащения.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
	})
)

// sweepRunner — один проход обогащения. Реализуется EnrichService.
type sweepRunner interface {
	Sweep(ctx context.Context, limit int, forcedProvider string, onlyMissing bool) (*SweepResult, error)
}

// Sweeper — single-flight координатор фонового обогащения.
type Sweeper struct {
	enrich   sweepRunner
	batch    int
	cooldown time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	lastRun time.Time

	// baseCtx живёт от Start до Stop: проход не привязан к HTTP-запросу,
	// который его инициировал
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSweeper создаёт координатор фонового обогащения.
// batch — размер батча одного прохода, cooldown — минимальный интервал
// между проходами.
func NewSweeper(enrich sweepRunner, batch int, cooldown time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		enrich:   enrich,
		batch:    batch,
		cooldown: cooldown,
		logger:   logger.With(slog.String("component", "sweeper")),
	}
}

// Start привязывает координатор к жизненному циклу приложения.
// Вызывается один раз при старте.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.logger.Info("Координатор обогащения запущен",
		slog.Int("batch", s.batch),
		slog.String("cooldown", s.cooldown.String()),
	)
}

// Stop отменяет идущий проход и дожидается его завершения.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.logger.Info("Координатор обогащения остановлен")
}

// TryStart запускает проход в фоне, если он не идёт и cooldown истёк.
// Вызов дешёвый: сам проход выполняется в отдельной горутине,
// read-трафик не блокируется.
func (s *Sweeper) TryStart() {
	s.mu.Lock()
	if s.baseCtx == nil || s.running || time.Since(s.lastRun) < s.cooldown {
		s.mu.Unlock()
		sweepSkippedTotal.Inc()
		return
	}
	s.running = true
	ctx := s.baseCtx
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.runOnce(ctx)
	}()
}

// runOnce выполняет один проход и фиксирует отметку cooldown.
func (s *Sweeper) runOnce(ctx context.Context) {
	start := time.Now()
	sweepRunsTotal.Inc()

	result, err := s.enrich.Sweep(ctx, s.batch, "", true)

	s.mu.Lock()
	s.running = false
	s.lastRun = time.Now()
	s.mu.Unlock()

	sweepDurationSeconds.Observe(time.Since(start).Seconds())

	if err != nil {
		s.logger.Warn("Фоновый проход обогащения завершился ошибкой",
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Debug("Фоновый проход обогащения завершён",
		slog.Int("scanned", result.Scanned),
		slog.Int("matched", result.Matched),
		slog.Int("synthesized", result.Synthesized),
		slog.Duration("duration", time.Since(start)),
	)
}
