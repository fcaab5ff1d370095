// Package service wires configuration, state storage, run history, metrics
// and graph export around the shrinker.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/class-shrinker/internal/export"
	"github.com/class-shrinker/internal/graph"
	"github.com/class-shrinker/internal/metrics"
	"github.com/class-shrinker/internal/report"
	"github.com/class-shrinker/internal/repository"
	"github.com/class-shrinker/internal/shrinker"
	"github.com/class-shrinker/internal/storage"
	"github.com/class-shrinker/pkg/config"
	apperrors "github.com/class-shrinker/pkg/errors"
	"github.com/class-shrinker/pkg/model"
	"github.com/class-shrinker/pkg/utils"
)

// GraphExporter publishes the dependency graph of a run.
type GraphExporter interface {
	Export(ctx context.Context, store *graph.Store) (export.Stats, error)
}

// Option overrides a collaborator that Initialize would otherwise build from
// the configuration.
type Option func(*Service)

// WithStorage sets the state storage.
func WithStorage(st storage.Storage) Option {
	return func(s *Service) {
		s.storage = st
	}
}

// WithRunRepository sets the run history.
func WithRunRepository(r repository.RunRepository) Option {
	return func(s *Service) {
		s.runs = r
	}
}

// WithGraphExporter sets the graph exporter.
func WithGraphExporter(e GraphExporter) Option {
	return func(s *Service) {
		s.exporter = e
	}
}

// WithClock sets the clock used for run timing.
func WithClock(c utils.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// Service is the main application service.
type Service struct {
	config *config.Config
	logger utils.Logger
	clock  utils.Clock

	storage  storage.Storage
	db       *repository.Repositories
	runs     repository.RunRepository
	metrics  *metrics.Collector
	neo4j    *export.Neo4jRunner
	exporter GraphExporter
	rules    shrinker.RuleSet
	shrinker *shrinker.Shrinker
}

// New creates a new Service instance.
func New(cfg *config.Config, logger utils.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, apperrors.New(apperrors.CodeConfigError, "config is nil")
	}
	if logger == nil {
		logger = utils.NewDefaultLogger(utils.LevelInfo, nil)
	}

	s := &Service{
		config: cfg,
		logger: logger,
		clock:  utils.NewRealClock(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Initialize builds every collaborator that was not supplied as an Option.
func (s *Service) Initialize(ctx context.Context) error {
	s.logger.Info("Initializing shrinker service...")

	if err := s.initStorage(); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageError, "failed to initialize storage", err)
	}
	s.logger.Info("Graph state is kept at %s", s.storage.Location(s.stateKey()))
	if err := s.initDatabase(); err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "failed to initialize database", err)
	}
	s.initMetrics()
	if err := s.initExporter(ctx); err != nil {
		return fmt.Errorf("failed to initialize graph export: %w", err)
	}
	if err := s.initRules(); err != nil {
		return apperrors.Wrap(apperrors.CodeConfigError, "failed to initialize keep rules", err)
	}
	s.initShrinker()

	s.logger.Info("Shrinker service initialized")
	return nil
}

func (s *Service) initStorage() error {
	if s.storage != nil {
		return nil
	}
	s.logger.Info("Initializing state storage (%s)...", s.config.Storage.Type)

	if err := storage.ValidateConfig(&s.config.Storage); err != nil {
		return err
	}
	st, err := storage.NewStorage(&s.config.Storage)
	if err != nil {
		return err
	}
	s.storage = st
	return nil
}

func (s *Service) stateKey() string {
	if s.config.Shrinker.StateKey == "" {
		return shrinker.DefaultStateKey
	}
	return s.config.Shrinker.StateKey
}

func (s *Service) initDatabase() error {
	if s.runs != nil || !s.config.Database.Enabled {
		return nil
	}
	s.logger.Info("Connecting to run history database (%s)...", s.config.Database.Type)

	repos, err := repository.Open(&s.config.Database)
	if err != nil {
		return err
	}
	s.db = repos
	s.runs = repos.Runs
	return nil
}

func (s *Service) initMetrics() {
	if !s.config.Metrics.Enabled {
		return
	}
	s.metrics = metrics.NewCollector(s.config.Metrics.Namespace)
}

func (s *Service) initExporter(ctx context.Context) error {
	cfg := &s.config.Export.Neo4j
	if s.exporter != nil || !cfg.Enabled {
		return nil
	}
	s.logger.Info("Connecting to Neo4j at %s...", cfg.URI)

	runner, err := export.NewNeo4jRunner(ctx, cfg)
	if err != nil {
		return err
	}
	s.neo4j = runner
	s.exporter = export.NewExporter(runner, cfg.BatchSize, s.logger)
	return nil
}

func (s *Service) initRules() error {
	rules, err := BuildRules(&s.config.Keep)
	if err != nil {
		return err
	}
	s.rules = rules
	return nil
}

func (s *Service) initShrinker() {
	opts := []shrinker.Option{
		shrinker.WithLogger(s.logger),
		shrinker.WithStateStore(s.storage),
		shrinker.WithClock(s.clock),
	}
	if s.metrics != nil {
		opts = append(opts, shrinker.WithObserver(s.metrics))
	}

	s.shrinker = shrinker.New(shrinker.Options{
		Workers:           s.config.Shrinker.Workers,
		StateKey:          s.config.Shrinker.StateKey,
		CheckDependencies: s.config.Shrinker.CheckDependencies,
		MainDexListPath:   s.config.Shrinker.MainDexListPath,
	}, opts...)
}

// ShrinkRequest describes the inputs of one build step.
type ShrinkRequest struct {
	Mappings  []shrinker.Mapping
	Libraries []string

	// Changes lists changed program files; nil means unknown.
	Changes          map[string]shrinker.FileStatus
	LibrariesChanged bool
}

// Shrink runs the shrinker and reports the outcome to the run history,
// metrics and graph export. Reporting failures are logged; they do not
// fail the shrink.
func (s *Service) Shrink(ctx context.Context, req ShrinkRequest) (*shrinker.Result, error) {
	if s.shrinker == nil {
		return nil, apperrors.New(apperrors.CodeConfigError, "service is not initialized")
	}

	started := s.clock.Now()
	libraries := append(append([]string(nil), s.config.Shrinker.PlatformJars...), req.Libraries...)
	res, err := s.shrinker.Transform(ctx, shrinker.Request{
		Layout:           shrinker.NewLayout(req.Mappings...),
		Libraries:        libraries,
		Rules:            s.rules,
		Incremental:      s.config.Shrinker.Incremental,
		Changes:          req.Changes,
		LibrariesChanged: req.LibrariesChanged,
	})

	// Reporting must outlive a canceled build context.
	reportCtx := context.WithoutCancel(ctx)
	if err != nil {
		s.reportFailure(reportCtx, started, err)
		return nil, err
	}

	run := newRun(res, started)
	s.record(reportCtx, run)
	s.writeMetrics()
	s.export(reportCtx, res)
	s.writeReport(run, res)
	return res, nil
}

func (s *Service) reportFailure(ctx context.Context, started time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RunFailed(err)
		s.writeMetrics()
	}

	status := model.RunStatusFailed
	if apperrors.IsInterrupted(err) || errors.Is(err, context.Canceled) {
		status = model.RunStatusCanceled
	}
	mode := model.RunModeFull
	if s.config.Shrinker.Incremental {
		mode = model.RunModeIncremental
	}
	s.record(ctx, &model.Run{
		Mode:       mode,
		Status:     status,
		Error:      err.Error(),
		DurationMs: s.clock.Since(started).Milliseconds(),
		StartedAt:  started,
	})
}

func (s *Service) record(ctx context.Context, run *model.Run) {
	if s.runs == nil {
		return
	}
	if err := s.runs.SaveRun(ctx, run); err != nil {
		s.logger.Warn("Failed to record run: %v", err)
		return
	}
	s.logger.Debug("Recorded run %d (%s, %s)", run.ID, run.Mode, run.Status)
}

func (s *Service) writeMetrics() {
	if s.metrics == nil || s.config.Metrics.TextfilePath == "" {
		return
	}
	if err := s.metrics.WriteToTextfile(s.config.Metrics.TextfilePath); err != nil {
		s.logger.Warn("Failed to write metrics: %v", err)
	}
}

func (s *Service) export(ctx context.Context, res *shrinker.Result) {
	if s.exporter == nil || res.Store == nil {
		return
	}
	if _, err := s.exporter.Export(ctx, res.Store); err != nil {
		s.logger.Warn("Failed to export dependency graph: %v", err)
	}
}

// writeReport stores the seeds and usage report when a report path is
// configured. Failures are logged only.
func (s *Service) writeReport(run *model.Run, res *shrinker.Result) {
	path := s.config.Shrinker.ReportPath
	if path == "" || res.Store == nil {
		return
	}
	if err := report.Write(path, run, res.Store); err != nil {
		s.logger.Warn("Failed to write shrink report: %v", err)
	}
}

// newRun summarizes res for the run history.
func newRun(res *shrinker.Result, started time.Time) *model.Run {
	run := &model.Run{
		Mode:            model.RunMode(res.Mode.String()),
		Status:          model.RunStatusSucceeded,
		FallbackReason:  res.FallbackReason,
		ProgramClasses:  res.ProgramClasses,
		LibraryClasses:  res.LibraryClasses,
		Nodes:           res.Nodes,
		Edges:           res.Edges,
		KeptClasses:     res.KeptClasses[graph.TargetShrink],
		MainDexClasses:  res.KeptClasses[graph.TargetLegacyMultidex],
		ChangedFiles:    res.ChangedFiles,
		ModifiedClasses: res.ModifiedClasses,
		Collected:       res.Collected,
		Written:         res.Written,
		Deleted:         res.Deleted,
		DurationMs:      res.Duration.Milliseconds(),
		StartedAt:       started,
	}
	for _, p := range res.Phases {
		run.Phases = append(run.Phases, model.PhaseTiming{Name: p.Name, DurationMs: p.Duration.Milliseconds()})
	}
	return run
}

// History returns up to limit recorded runs, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]*model.Run, error) {
	if s.runs == nil {
		return nil, apperrors.New(apperrors.CodeConfigError, "run history is disabled")
	}
	return s.runs.ListRuns(ctx, limit)
}

// HealthCheck verifies the database connection when one is configured.
func (s *Service) HealthCheck(ctx context.Context) error {
	if s.db != nil {
		if err := s.db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database health check failed: %w", err)
		}
	}
	return nil
}

// Close releases the database and Neo4j connections.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}
	if s.neo4j != nil {
		if err := s.neo4j.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close neo4j driver: %w", err))
		}
	}
	return errors.Join(errs...)
}
