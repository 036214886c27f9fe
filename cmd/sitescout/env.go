package main

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"github.com/ChamsBouzaiene/sitescout/internal/config"
	"github.com/ChamsBouzaiene/sitescout/internal/controller"
	"github.com/ChamsBouzaiene/sitescout/internal/lockstore"
	"github.com/ChamsBouzaiene/sitescout/internal/oracle"
	"github.com/ChamsBouzaiene/sitescout/internal/probe"
	"github.com/ChamsBouzaiene/sitescout/internal/sandbox"
	"github.com/ChamsBouzaiene/sitescout/internal/store"
)

// runtimeEnv bundles the wired collaborators of one CLI invocation. Every
// component degrades independently: a missing oracle key, Docker daemon, or
// Chrome binary reduces capability instead of aborting the run.
type runtimeEnv struct {
	Client   oracle.Client
	Executor sandbox.Executor
	Prober   probe.Prober
	Fallback probe.Prober
	Locks    lockstore.Store
	Journal  *store.Store
	Reports  *store.ReportIndex
	Config   *config.Config

	closers []func()
}

func (r *runtimeEnv) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// ControllerOptions maps the wired environment onto controller options.
func (r *runtimeEnv) ControllerOptions() controller.Options {
	return controller.Options{
		Oracle:         r.Client,
		Executor:       r.Executor,
		Prober:         r.Prober,
		FallbackProber: r.Fallback,
		Locks:          r.Locks,
		Journal:        r.Journal,
		Reports:        r.Reports,
		LockPolicy:     r.Config.LockPolicy,
	}
}

// loadUserConfig reads the configuration file, layered under environment
// variables. Never fails: a broken file degrades to env-only configuration.
func loadUserConfig() *config.Config {
	cfgManager, err := config.NewManager()
	if err != nil {
		log.Printf("WARNING: failed to initialize config manager: %v", err)
		cfg := &config.Config{}
		cfg.ApplyEnvOverrides()
		return cfg
	}

	cfg, err := cfgManager.Load()
	if err != nil {
		log.Printf("WARNING: failed to load user config: %v", err)
		cfg = &config.Config{}
		cfg.ApplyEnvOverrides()
	}
	return cfg
}

func prepareRuntimeEnv(ctx context.Context, cfg *config.Config, dataDirFlag string, noBrowser bool) (*runtimeEnv, error) {
	env := &runtimeEnv{Config: cfg}
	populateProviderEnv(env.Config)

	// Oracle client. Without one the controller plans with the built-in
	// template extractor and repairs are unavailable.
	client, err := oracle.NewClientFromEnv()
	if err != nil {
		log.Printf("WARNING: no oracle available (%v); using template planning only", err)
	} else {
		log.Printf("Oracle ready: %s", client.Model())
		env.Client = client
	}

	// Sandbox: Docker when available, host subprocess otherwise.
	env.Executor = sandbox.NewDefaultExecutor()

	// Probers: headless Chrome first, plain HTTP as fallback.
	httpProber := probe.NewHTTPProber(0)
	if noBrowser {
		env.Prober = httpProber
	} else {
		chrome, err := probe.NewChromeProber(0)
		if err != nil {
			log.Printf("WARNING: headless browser unavailable (%v); probing over plain HTTP", err)
			env.Prober = httpProber
		} else {
			env.Prober = chrome
			env.Fallback = httpProber
			env.closers = append(env.closers, chrome.Close)
		}
	}

	// Site locks and the seen-set: Redis when configured, in-process
	// otherwise.
	if env.Config.RedisAddr != "" {
		redis, err := lockstore.NewRedisStore(ctx, env.Config.RedisAddr, os.Getenv("SCOUT_REDIS_PASSWORD"), 0)
		if err != nil {
			log.Printf("WARNING: redis unreachable at %s (%v); using in-process locks", env.Config.RedisAddr, err)
			env.Locks = lockstore.NewMemoryStore()
		} else {
			env.Locks = redis
			env.closers = append(env.closers, func() {
				if err := redis.Close(); err != nil {
					log.Printf("WARNING: failed to close redis client: %v", err)
				}
			})
		}
	} else {
		env.Locks = lockstore.NewMemoryStore()
	}

	// Journal and report index live side by side in the data directory.
	dataDir := dataDirFlag
	if dataDir == "" {
		dataDir = env.Config.DataDir
	}
	if dataDir == "" {
		if configDir, err := os.UserConfigDir(); err == nil {
			dataDir = filepath.Join(configDir, "sitescout")
		}
	}
	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Printf("WARNING: failed to create data dir %s: %v; persistence disabled", dataDir, err)
		} else {
			dbPath := filepath.Join(dataDir, "scout.db")
			journal, err := store.NewStore(ctx, dbPath)
			if err != nil {
				log.Printf("WARNING: failed to open journal at %s: %v", dbPath, err)
			} else {
				env.Journal = journal
				env.closers = append(env.closers, func() {
					if err := journal.Close(); err != nil {
						log.Printf("WARNING: failed to close journal: %v", err)
					}
				})
			}

			reports, err := store.NewReportIndex(dbPath)
			if err != nil {
				log.Printf("WARNING: failed to open report index: %v", err)
			} else {
				env.Reports = reports
				env.closers = append(env.closers, func() {
					if err := reports.Close(); err != nil {
						log.Printf("WARNING: failed to close report index: %v", err)
					}
				})
			}
		}
	}

	return env, nil
}

// populateProviderEnv projects config-file credentials into the provider
// environment variables. Explicit config wins over stale shell state, so a
// saved setup survives an inherited environment.
func populateProviderEnv(cfg *config.Config) {
	if cfg.LLMProvider != "" {
		os.Setenv("LLM_PROVIDER", cfg.LLMProvider)
	}
	if cfg.APIKey == "" {
		return
	}

	switch cfg.LLMProvider {
	case "openai":
		os.Setenv("OPENAI_API_KEY", cfg.APIKey)
		if cfg.Model != "" {
			os.Setenv("OPENAI_MODEL", cfg.Model)
		}
		if cfg.BaseURL != "" {
			os.Setenv("OPENAI_BASE_URL", cfg.BaseURL)
		}
	case "anthropic":
		os.Setenv("ANTHROPIC_API_KEY", cfg.APIKey)
		if cfg.Model != "" {
			os.Setenv("ANTHROPIC_MODEL", cfg.Model)
		}
	case "kimi":
		os.Setenv("KIMI_API_KEY", cfg.APIKey)
		if cfg.Model != "" {
			os.Setenv("KIMI_MODEL", cfg.Model)
		}
	case "deepseek":
		os.Setenv("DEEPSEEK_API_KEY", cfg.APIKey)
		if cfg.Model != "" {
			os.Setenv("DEEPSEEK_MODEL", cfg.Model)
		}
	case "groq":
		os.Setenv("GROQ_API_KEY", cfg.APIKey)
		if cfg.Model != "" {
			os.Setenv("GROQ_MODEL", cfg.Model)
		}
	}
}
