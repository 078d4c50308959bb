package api

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TonniChopper/DeutschLearner/internal/audit"
	"github.com/TonniChopper/DeutschLearner/internal/config"
	"github.com/TonniChopper/DeutschLearner/internal/domain"
	"github.com/TonniChopper/DeutschLearner/internal/exercise"
	"github.com/TonniChopper/DeutschLearner/internal/generative"
	"github.com/TonniChopper/DeutschLearner/internal/leveltest"
	"github.com/TonniChopper/DeutschLearner/internal/llm"
	"github.com/TonniChopper/DeutschLearner/internal/profile"
	"github.com/TonniChopper/DeutschLearner/internal/repository"
	"github.com/TonniChopper/DeutschLearner/internal/storage/sqlite"
)

// App holds all application dependencies
type App struct {
	Config     *config.Config
	Exercises  *exercise.Service
	LevelTests *leveltest.Service
	Profiles   *profile.Service
	LLM        *llm.Registry
	Sink       audit.Sink

	db        *sqlite.DB
	pool      *pgxpool.Pool
	auditConn *audit.Connection
}

// repositories groups the storage-backend implementations behind the
// domain interfaces
type repositories struct {
	exercises       domain.ExerciseRepository
	tests           domain.LevelTestRepository
	profiles        domain.ProfileRepository
	experience      domain.ExperienceRepository
	recommendations domain.RecommendationRepository
}

// NewApp creates a new application instance with all dependencies wired
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	app := &App{Config: cfg}

	repos, err := app.initStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Initialize LLM registry
	app.LLM = llm.NewRegistry()
	if err := initLLMProviders(app.LLM, cfg); err != nil {
		app.Close()
		return nil, fmt.Errorf("init LLM providers: %w", err)
	}

	provider, err := app.LLM.Default()
	if err != nil {
		app.Close()
		return nil, err
	}

	resilientCfg := llm.DefaultResilientConfig()
	resilientCfg.Logger = logger
	resilient := llm.NewResilientProvider(provider, resilientCfg)

	prompts := generative.DefaultPromptSet()
	if cfg.PromptsPath != "" {
		prompts, err = generative.LoadPromptSet(cfg.PromptsPath)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("load prompts: %w", err)
		}
	}
	client := generative.NewService(resilient, prompts)

	// Initialize audit sink
	if cfg.RabbitMQURL != "" {
		conn, err := audit.NewConnection(cfg.RabbitMQURL)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("connect audit queue: %w", err)
		}
		app.auditConn = conn
		app.Sink = audit.NewQueueSink(conn, logger)
	} else {
		app.Sink = audit.NewLogSink(logger)
	}

	// Initialize services
	app.Profiles = profile.NewService(repos.profiles, repos.experience, logger)
	app.Exercises = exercise.NewService(repos.exercises, repos.recommendations, app.Profiles, client, app.Sink, logger)
	app.LevelTests = leveltest.NewService(repos.tests, app.Profiles, client, app.Sink, logger)

	return app, nil
}

// initStorage opens the configured backend, runs migrations, and builds
// the repository set
func (a *App) initStorage(ctx context.Context, cfg *config.Config) (*repositories, error) {
	switch cfg.StorageBackend {
	case config.StoragePostgres:
		pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := repository.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		a.pool = pool
		return &repositories{
			exercises:       repository.NewExerciseRepository(pool),
			tests:           repository.NewLevelTestRepository(pool),
			profiles:        repository.NewProfileRepository(pool),
			experience:      repository.NewExperienceRepository(pool),
			recommendations: repository.NewRecommendationRepository(pool),
		}, nil

	default:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		a.db = db
		return &repositories{
			exercises:       sqlite.NewExerciseStore(db),
			tests:           sqlite.NewLevelTestStore(db),
			profiles:        sqlite.NewProfileStore(db),
			experience:      sqlite.NewExperienceStore(db),
			recommendations: sqlite.NewRecommendationStore(db),
		}, nil
	}
}

// initLLMProviders sets up generative providers based on configuration
func initLLMProviders(registry *llm.Registry, cfg *config.Config) error {
	switch cfg.LLMProvider {
	case "deepseek":
		provider := llm.NewDeepSeekProvider(llm.DeepSeekConfig{
			APIKey:  cfg.LLMAPIKey,
			BaseURL: cfg.LLMBaseURL,
			Model:   cfg.LLMModel,
		})
		registry.Register("deepseek", provider)
		return registry.SetDefault("deepseek")

	case "openai":
		provider := llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:  cfg.LLMAPIKey,
			BaseURL: cfg.LLMBaseURL,
			Model:   cfg.LLMModel,
		})
		registry.Register("openai", provider)
		return registry.SetDefault("openai")

	default:
		return fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}
}

// Ping checks storage connectivity
func (a *App) Ping(ctx context.Context) error {
	if a.pool != nil {
		return a.pool.Ping(ctx)
	}
	if a.db != nil {
		return a.db.PingContext(ctx)
	}
	return nil
}

// Close cleans up application resources
func (a *App) Close() error {
	var firstErr error
	if a.auditConn != nil {
		if err := a.auditConn.Close(); err != nil {
			firstErr = err
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
