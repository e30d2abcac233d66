// Package app wires configuration, storage, billing and the HTTP API into a running service.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/microapp-studio/runcore/internal/billing"
	"github.com/microapp-studio/runcore/internal/config"
	"github.com/microapp-studio/runcore/internal/db"
	relayhttp "github.com/microapp-studio/runcore/internal/http"
	"github.com/microapp-studio/runcore/internal/http/api/front"
	"github.com/microapp-studio/runcore/internal/logging"
	"github.com/microapp-studio/runcore/internal/metrics"
	"github.com/microapp-studio/runcore/internal/modelregistry"
	"github.com/microapp-studio/runcore/internal/provider"
	"github.com/microapp-studio/runcore/internal/quota"
	"github.com/microapp-studio/runcore/internal/run"
	"github.com/microapp-studio/runcore/internal/settings"
	"github.com/microapp-studio/runcore/internal/util"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// settingsRefreshInterval is how often runtime overrides are reloaded from the settings table.
const settingsRefreshInterval = 30 * time.Second

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(conn) }()
	if errMigrate := db.Migrate(conn.WithContext(ctx)); errMigrate != nil {
		return errMigrate
	}
	log.Infof("migrations applied (dialect=%s)", db.DialectName(conn))
	return nil
}

// RunServer boots the run API and its background workers, blocking until ctx is done.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	appCfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logCloser, errLog := logging.Setup(logging.Options{
		Level:      appCfg.Logging.Level,
		File:       appCfg.Logging.File,
		MaxSizeMB:  appCfg.Logging.MaxSizeMB,
		MaxBackups: appCfg.Logging.MaxBackups,
		MaxAgeDays: appCfg.Logging.MaxAgeDays,
	})
	if errLog != nil {
		return fmt.Errorf("setup logging: %w", errLog)
	}
	defer func() { _ = logCloser.Close() }()
	if !config.ConfigExists(configPath) {
		log.Infof("config file %s not found, using environment only", configPath)
	}
	if strings.TrimSpace(appCfg.JWT.Secret) == "" {
		return fmt.Errorf("jwt.secret (JWT_SECRET) is required")
	}

	conn, err := db.Open(appCfg.Database.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(conn) }()
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errSettings := settings.RefreshDBConfigSnapshot(ctx, conn); errSettings != nil {
		log.WithError(errSettings).Warn("settings: initial load failed")
	} else if keys := settings.Keys(); len(keys) > 0 {
		log.Infof("settings: runtime overrides loaded: %s", strings.Join(keys, ", "))
	}
	settings.StartRefresher(ctx, conn, settingsRefreshInterval)

	runMetrics := metrics.Default()
	subs := billing.NewSubscriptionStore(conn, appCfg.Billing.FreePlanCredits)
	ledgerOpts := []billing.LedgerOption{billing.WithLedgerMetrics(runMetrics)}
	redisClient, errRedis := openRedis(ctx, appCfg.Redis)
	if errRedis != nil {
		return errRedis
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		ledgerOpts = append(ledgerOpts, billing.WithLocker(billing.NewRedisLocker(redisClient)))
	}
	ledger := billing.NewLedger(conn, subs, ledgerOpts...)

	gate := quota.NewGate(conn, subs,
		billing.NewPlanClassifier(appCfg.Billing.IndividualPriceIDs, appCfg.Billing.EnterprisePriceIDs),
		quota.Limits{
			GuestSessionLimit:     appCfg.Billing.GuestSessionLimit,
			FreePlanMicroappLimit: appCfg.Billing.FreePlanMicroappLimit,
		})
	registry := modelregistry.Default()
	dispatcher := provider.NewDispatcher(appCfg.Providers,
		provider.WithHTTPClient(provider.NewHTTPClient()),
		provider.WithMetrics(runMetrics))
	logProviders(appCfg.Providers)

	orchestrator := run.NewOrchestrator(run.Deps{
		DB:           conn,
		Registry:     registry,
		Provider:     dispatcher,
		Gate:         gate,
		Ledger:       ledger,
		Metrics:      runMetrics,
		DefaultModel: appCfg.Models.Default,
	})

	billing.NewCycleCloser(conn, appCfg.Billing.CycleCloseInterval.Std()).Start(ctx)

	engine := relayhttp.NewEngine(newFrontDeps(conn, appCfg, registry, orchestrator, gate), nil)
	log.Infof("starting run API with config=%s", configPath)
	return relayhttp.Serve(ctx, appCfg.Server.Addr, engine)
}

func newFrontDeps(conn *gorm.DB, cfg config.Config, registry *modelregistry.Registry, orchestrator *run.Orchestrator, gate *quota.Gate) front.Deps {
	return front.Deps{
		DB:       conn,
		JWT:      cfg.JWT,
		Registry: registry,
		Executor: orchestrator,
		Runs:     run.NewStore(conn),
		Gate:     gate,
	}
}

// openRedis returns nil when no redis address is configured.
func openRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		log.Info("redis not configured, using in-process owner locks")
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if errPing := client.Ping(pingCtx).Err(); errPing != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, errPing)
	}
	log.Infof("redis owner locks enabled (addr=%s)", addr)
	return client, nil
}

func logProviders(cfg config.ProvidersConfig) {
	families := map[string]config.ProviderConfig{
		"openai":     cfg.OpenAI,
		"anthropic":  cfg.Anthropic,
		"gemini":     cfg.Gemini,
		"perplexity": cfg.Perplexity,
		"deepseek":   cfg.DeepSeek,
	}
	for _, name := range []string{"openai", "anthropic", "gemini", "perplexity", "deepseek"} {
		pc := families[name]
		if strings.TrimSpace(pc.APIKey) == "" {
			log.Warnf("provider %s: no api key configured", name)
			continue
		}
		log.WithFields(log.Fields{"provider": name, "api_key": util.HideAPIKey(pc.APIKey), "base_url": pc.BaseURL}).Info("provider configured")
	}
}
