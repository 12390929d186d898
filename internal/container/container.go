// Package container wires configuration, storage, and services into one
// dependency graph used by main and the router.
package container

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"idcore/internal/audit"
	"idcore/internal/config"
	"idcore/internal/crypto"
	"idcore/internal/gdpr"
	"idcore/internal/oauth"
	"idcore/internal/repository"
	"idcore/internal/service"
	"idcore/internal/token"
	"idcore/pkg/database"
	"idcore/pkg/logger"
	"idcore/pkg/redis"
)

// Container holds all application dependencies
type Container struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          *database.PostgresDB
	RedisClient *redis.Client

	Repos    *repository.Repositories
	Crypto   crypto.Service
	Recorder *audit.Recorder
	Tokens   *token.Service
	OAuth    *oauth.Manager
	Cache    *service.ProfileCache
	Users    *service.UserService
	GDPR     *gdpr.Manager
	Sweeper  *gdpr.Sweeper
}

// New creates a new dependency injection container. It connects to Postgres
// and Redis and wires every service on top of them.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Container, error) {
	db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	redisClient, err := redis.NewClient(cfg.RedisURL, cfg.Environment, log.Logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	cryptoSvc, err := crypto.NewVersionedService(keyConfigs(cfg.EncryptionKeys),
		cfg.EncryptionRotationWindow, clockwork.NewRealClock())
	if err != nil {
		redisClient.Close()
		db.Close()
		return nil, err
	}

	c := build(cfg, log, db, redisClient, cryptoSvc, clockwork.NewRealClock())

	log.WithFields(map[string]interface{}{
		"providers":      c.OAuth.Providers(),
		"retention_days": cfg.RetentionDays,
		"purge_interval": cfg.PurgeInterval.String(),
	}).Info("Container initialized")

	return c, nil
}

// build wires the dependency graph on top of already-connected resources.
func build(
	cfg *config.Config,
	log *logger.Logger,
	db *database.PostgresDB,
	redisClient *redis.Client,
	cryptoSvc crypto.Service,
	clock clockwork.Clock,
) *Container {
	zlog := log.Logger

	repos := &repository.Repositories{
		User:         repository.NewPostgresUserRepository(db),
		Session:      repository.NewPostgresSessionRepository(db),
		Audit:        repository.NewPostgresAuditRepository(db),
		Verification: repository.NewPostgresVerificationRepository(db),
		Connection:   repository.NewPostgresConnectionRepository(db),
		Activity:     repository.NewPostgresActivityRepository(db),
	}

	recorder := audit.NewRecorder(repos.Audit, zlog)

	tokens := token.NewService(repos.Session, repos.User, cryptoSvc, redisClient,
		recorder, cfg.JWTSecret, cfg.JWTTTL, cfg.RefreshTTL, zlog, clock)

	states := oauth.NewStateStore(redisClient, cfg.OAuthStateTTL, clock)
	cache := service.NewProfileCache(redisClient, zlog)

	oauthManager := oauth.NewManager(buildProviders(cfg), states, repos.User,
		repos.Activity, tokens, cache, recorder, zlog, clock)

	users := service.NewUserService(repos.User, repos.Verification, repos.Activity,
		cryptoSvc, tokens, cache, recorder, zlog, clock)

	retention := time.Duration(cfg.RetentionDays) * 24 * time.Hour
	gdprManager := gdpr.NewManager(repos.User, repos.Session, repos.Verification,
		repos.Connection, repos.Activity, cryptoSvc, tokens, cache, recorder,
		zlog, clock, retention)
	sweeper := gdpr.NewSweeper(repos.User, tokens, recorder, zlog, clock, cfg.PurgeInterval)

	return &Container{
		Config:      cfg,
		Logger:      log,
		DB:          db,
		RedisClient: redisClient,
		Repos:       repos,
		Crypto:      cryptoSvc,
		Recorder:    recorder,
		Tokens:      tokens,
		OAuth:       oauthManager,
		Cache:       cache,
		Users:       users,
		GDPR:        gdprManager,
		Sweeper:     sweeper,
	}
}

// buildProviders registers every provider that has credentials configured.
func buildProviders(cfg *config.Config) []oauth.Provider {
	var providers []oauth.Provider
	if cfg.Google.Configured() {
		providers = append(providers, oauth.NewGoogleProvider(cfg.Google))
	}
	if cfg.LinkedIn.Configured() {
		providers = append(providers, oauth.NewLinkedInProvider(cfg.LinkedIn))
	}
	return providers
}

func keyConfigs(entries []config.KeyEntry) []crypto.KeyConfig {
	keys := make([]crypto.KeyConfig, 0, len(entries))
	for _, entry := range entries {
		keys = append(keys, crypto.KeyConfig{Version: entry.Version, Hex: entry.Material})
	}
	return keys
}

// Close releases the container's connections.
func (c *Container) Close() {
	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			c.Logger.WithError(err).Warn("Failed to close Redis connection")
		}
	}
	if c.DB != nil {
		c.DB.Close()
	}
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logger.Logger {
	return c.Logger
}

// GetConfig returns the configuration
func (c *Container) GetConfig() *config.Config {
	return c.Config
}
