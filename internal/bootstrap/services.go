package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/cognitriage-api/config"
	"github.com/target/cognitriage-api/internal/adapters/jobrunner"
	"github.com/target/cognitriage-api/internal/adapters/literature"
	"github.com/target/cognitriage-api/internal/core"
	"github.com/target/cognitriage-api/internal/data"
	"github.com/target/cognitriage-api/internal/domain/triage"
	"github.com/target/cognitriage-api/internal/pipeline"
	"github.com/target/cognitriage-api/internal/service"
)

// LiteratureCachePrefix namespaces cached literature lookups in Redis.
const LiteratureCachePrefix = "cognitriage:literature:"

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Store         *data.MemoryJobStore
	Executor      *pipeline.Executor
	Runner        *jobrunner.Runner
	Submission    *service.SubmissionService
	Query         *service.QueryService
	Literature    *service.LiteratureService
	Observability ObservabilityContainer
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	RedisClient redis.UniversalClient // optional; shares the literature cache across replicas
	Logger      *slog.Logger
}

// NewServices builds the triage pipeline and the services on top of it.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service config is required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	obs := buildObservability(logger, cfg.Observability)

	policy, err := loadPolicy(cfg.Pipeline)
	if err != nil {
		return ServiceContainer{}, err
	}

	retriever, err := newEvidenceRetriever(evidenceDeps{
		cfg:    cfg,
		policy: policy,
		redis:  deps.RedisClient,
		obs:    obs,
		logger: logger,
	})
	if err != nil {
		return ServiceContainer{}, err
	}

	executor, store, err := newPipeline(policy, retriever, obs, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	runner, err := jobrunner.NewRunner(jobrunner.RunnerOptions{
		Executor:        executor,
		Workers:         cfg.Pipeline.Workers,
		QueueSize:       cfg.Pipeline.QueueSize,
		JobTimeout:      cfg.Pipeline.JobTimeout,
		Logger:          logger,
		Metrics:         obs.MetricsSink,
		FailureNotifier: obs.FailureNotifier,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create job runner: %w", err)
	}

	validator, err := service.NewRecordValidator()
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("compile record schemas: %w", err)
	}

	submission, err := service.NewSubmissionService(service.SubmissionServiceOptions{
		Store:      store,
		Scheduler:  runner,
		StageNames: executor.StageNames(),
		Validator:  validator,
		Logger:     logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create submission service: %w", err)
	}

	query, err := service.NewQueryService(service.QueryServiceOptions{Store: store})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create query service: %w", err)
	}

	lit, err := service.NewLiteratureService(service.LiteratureServiceOptions{
		Retriever: retriever,
		Validator: validator,
		Logger:    logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create literature service: %w", err)
	}

	return ServiceContainer{
		Store:         store,
		Executor:      executor,
		Runner:        runner,
		Submission:    submission,
		Query:         query,
		Literature:    lit,
		Observability: obs,
	}, nil
}

func loadPolicy(cfg config.PipelineConfig) (*triage.Policy, error) {
	if cfg.PolicyFile == "" {
		policy, err := triage.DefaultPolicy()
		if err != nil {
			return nil, fmt.Errorf("load default policy: %w", err)
		}
		return policy, nil
	}
	policy, err := triage.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("load policy %s: %w", cfg.PolicyFile, err)
	}
	return policy, nil
}

type evidenceDeps struct {
	cfg    *config.AppConfig
	policy *triage.Policy
	redis  redis.UniversalClient
	obs    ObservabilityContainer
	logger *slog.Logger
}

func newEvidenceRetriever(deps evidenceDeps) (*triage.EvidenceRetriever, error) {
	opts := triage.EvidenceOptions{
		Mode:       deps.cfg.Pipeline.EvidenceMode,
		MaxResults: evidenceMaxResults(deps.policy, deps.cfg.Literature),
		Logger:     deps.logger,
		Metrics:    deps.obs.MetricsSink,
	}

	if deps.cfg.Pipeline.IsLiveEvidence() {
		searcher, err := newLiteratureSearcher(deps)
		if err != nil {
			return nil, err
		}
		opts.Searcher = searcher
	}

	retriever, err := triage.NewEvidenceRetriever(opts)
	if err != nil {
		return nil, fmt.Errorf("create evidence retriever: %w", err)
	}
	deps.logger.Info("evidence retriever ready", "mode", retriever.Mode(), "max_results", opts.MaxResults)
	return retriever, nil
}

// evidenceMaxResults prefers an explicit LITERATURE_MAX_RESULTS over the policy.
func evidenceMaxResults(policy *triage.Policy, lc config.LiteratureConfig) int {
	if lc.MaxResults > 0 {
		return lc.MaxResults
	}
	return policy.Evidence.MaxResults
}

//nolint:ireturn // the searcher is cached or direct depending on Redis availability.
func newLiteratureSearcher(deps evidenceDeps) (core.LiteratureSearcher, error) {
	lc := deps.cfg.Literature
	client, err := literature.NewClient(literature.Config{
		BaseURL:   lc.BaseURL,
		APIKey:    lc.APIKey,
		Tool:      lc.Tool,
		Email:     lc.Email,
		Timeout:   lc.Timeout,
		RateLimit: lc.RateLimit,
		Logger:    deps.logger,
		Metrics:   deps.obs.MetricsSink,
	})
	if err != nil {
		return nil, fmt.Errorf("create literature client: %w", err)
	}

	cacheOpts := literature.CachedSearcherOptions{
		Next:    client,
		TTL:     lc.CacheTTL,
		Logger:  deps.logger,
		Metrics: deps.obs.MetricsSink,
	}
	if deps.redis != nil {
		cacheOpts.Cache = data.NewRedisCacheRepo(deps.redis, LiteratureCachePrefix)
	} else {
		deps.logger.Info("redis not configured; using in-process literature cache", "capacity", lc.MemoryCacheSize)
		cacheOpts.Cache = data.NewMemoryCacheRepo(data.MemoryCacheOptions{Capacity: lc.MemoryCacheSize})
	}

	cached, err := literature.NewCachedSearcher(cacheOpts)
	if err != nil {
		return nil, fmt.Errorf("create literature cache: %w", err)
	}
	return cached, nil
}

func newPipeline(
	policy *triage.Policy,
	retriever *triage.EvidenceRetriever,
	obs ObservabilityContainer,
	logger *slog.Logger,
) (*pipeline.Executor, *data.MemoryJobStore, error) {
	registry, err := triage.NewRegistry(triage.RegistryOptions{Policy: policy, Evidence: retriever})
	if err != nil {
		return nil, nil, fmt.Errorf("build stage registry: %w", err)
	}
	projection, err := triage.NewProjection(policy)
	if err != nil {
		return nil, nil, fmt.Errorf("compile result projection: %w", err)
	}

	store := data.NewMemoryJobStore(data.JobStoreOptions{Logger: logger})
	executor, err := pipeline.NewExecutor(pipeline.ExecutorOptions{
		Store:      store,
		Registry:   registry,
		Projection: projection,
		Logger:     logger,
		Metrics:    obs.MetricsSink,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create executor: %w", err)
	}
	return executor, store, nil
}

// ServiceOrchestrationConfig contains dependencies for running services.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

// startHTTPServerIfEnabled starts the HTTP server if enabled.
func startHTTPServerIfEnabled(deps *serviceStartupDeps) *http.Server {
	if deps == nil || deps.cfg == nil || !deps.enabledServices[config.ServiceModeHTTP] {
		return nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		Config:   deps.cfg.Config,
		Services: deps.cfg.Services,
		Logger:   deps.logger,
		ErrCh:    deps.errCh,
	})
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				deps.logger.WarnContext(ctx, "dropping background service error",
					"service", descriptor.name, "error", errMsg)
			}
		}
	}()

	deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}
		handles = append(handles, backgroundServiceHandle{mode: svc.mode, name: svc.name, done: done})
	}

	return handles
}

func newExecutorBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeExecutor,
		name: "triage executor",
		start: func(ctx context.Context) error {
			runner := deps.cfg.Services.Runner
			if runner == nil {
				return errors.New("job runner not configured")
			}
			return runner.Run(ctx)
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newExecutorBackgroundService(deps),
	}
}

// ServiceStartupResult holds the results of starting all services.
type ServiceStartupResult struct {
	HTTPServer *http.Server
	Background []backgroundServiceHandle
}

// startServices starts all enabled services and returns their completion channels.
func startServices(deps *serviceStartupDeps) ServiceStartupResult {
	return ServiceStartupResult{
		Background: startBackgroundServices(deps, buildBackgroundServices(deps)),
		HTTPServer: startHTTPServerIfEnabled(deps),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	if enabledServices[config.ServiceModeHTTP] && !enabledServices[config.ServiceModeExecutor] {
		logger.Warn("executor disabled; submitted jobs stay queued until the queue fills")
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	result := startServices(&serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	})

	return waitForShutdown(shutdownConfig{
		cancel:      cancel,
		errCh:       errCh,
		httpServer:  result.HTTPServer,
		query:       cfg.Services.Query,
		logger:      logger,
		backgrounds: result.Background,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	size := errorChannelCapacity(enabled) + 1
	if size < 1 {
		return 1
	}
	return size
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	cancel      context.CancelFunc
	errCh       <-chan error
	httpServer  *http.Server
	query       *service.QueryService
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop stops intake first, then lets the runner finish in-flight jobs
// and fail whatever is still queued.
func gracefulStop(cfg shutdownConfig) error {
	var httpErr error
	if cfg.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWaitTimeout)
		httpErr = ShutdownHTTPServer(ShutdownConfig{
			Context: shutdownCtx,
			Server:  cfg.httpServer,
			Logger:  cfg.logger,
		})
		cancel()
	}

	if cfg.cancel != nil {
		cfg.cancel()
	}

	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	logFinalStats(cfg.query, cfg.logger)
	return httpErr
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}

func logFinalStats(query *service.QueryService, logger *slog.Logger) {
	if query == nil {
		return
	}
	stats, err := query.Stats(context.Background())
	if err != nil {
		logger.Warn("collect job stats", "error", err)
		return
	}
	logger.Info("job totals at shutdown", "stats", stats)
}
