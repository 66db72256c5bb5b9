package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/flarepage/internal/dispatch"
	"github.com/good-yellow-bee/flarepage/internal/engine"
	"github.com/good-yellow-bee/flarepage/internal/escalation"
	"github.com/good-yellow-bee/flarepage/internal/metrics"
	"github.com/good-yellow-bee/flarepage/internal/notifier"
	"github.com/good-yellow-bee/flarepage/internal/oncall"
	"github.com/good-yellow-bee/flarepage/internal/storage"
	"github.com/good-yellow-bee/flarepage/internal/timerq"
	"github.com/good-yellow-bee/flarepage/pkg/config"
)

var (
	configFile string
	opsAddr    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "flarepage-server",
	Short: "FlarePage Server - Incident correlation and escalation engine",
	Long: `FlarePage Server deduplicates incoming alerts into incidents,
walks escalation policies, and pages on-call responders through the
configured notification channels.`,
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("flarepage-server %s\n", config.Version)
		fmt.Printf("  commit: %s\n", config.Commit)
		fmt.Printf("  built:  %s\n", config.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&opsAddr, "ops-address", "", "metrics/health listen address")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		return fmt.Errorf("--config is required")
	}

	cfg, err := LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Override with CLI flags
	if opsAddr != "" {
		cfg.Server.OpsAddress = opsAddr
	}
	cfg.Verbose = verbose

	// Auto-create data directory
	dbDir := filepath.Dir(cfg.Database.Path)
	if err := os.MkdirAll(dbDir, 0750); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	// Incident store
	store := storage.NewSQLiteStorage(cfg.Database.Path)
	if err := store.Open(); err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	log.Printf("database initialized at %s", cfg.Database.Path)

	// Optional alert archive
	var archive *storage.AlertArchive
	if cfg.Archive.Enabled {
		archive = storage.NewAlertArchive(&storage.ArchiveConfig{
			Addresses:     cfg.Archive.Addresses,
			Database:      cfg.Archive.Database,
			Username:      cfg.Archive.Username,
			Password:      cfg.Archive.Password,
			RetentionDays: cfg.Archive.RetentionDays,
		})
		if err := archive.Open(); err != nil {
			return fmt.Errorf("open alert archive: %w", err)
		}
		defer archive.Close()

		if err := archive.Migrate(); err != nil {
			return fmt.Errorf("migrate alert archive: %w", err)
		}
		log.Printf("alert archive connected at %v", cfg.Archive.Addresses)
	}

	// Escalation policies and on-call schedules
	policies, err := escalation.LoadPoliciesFromFile(cfg.Escalation.PoliciesFile)
	if err != nil {
		return fmt.Errorf("load policies: %w", err)
	}
	log.Printf("loaded %d escalation policies from %s", policies.Len(), cfg.Escalation.PoliciesFile)

	directory, err := oncall.LoadDirectoryFromFile(cfg.Escalation.SchedulesFile)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}

	// Notification channel adapters
	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	defer registry.Close()
	log.Printf("notification channels: %v", registry.Channels())

	// Setup signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Timer queue drives both escalation and delivery retries
	timers := timerq.New(&timerq.Options{Workers: cfg.Escalation.TimerWorkers})
	timers.Start(ctx)
	defer timers.Close()

	dispatcher := dispatch.NewDispatcher(dispatch.Config{
		MaxAttempts:    cfg.Dispatch.MaxAttempts,
		AdapterTimeout: cfg.Dispatch.AdapterTimeout,
	}, timers, store.Attempts(), registry)

	scheduler := escalation.NewScheduler(timers, directory, store.Preferences(), dispatcher)

	eng := engine.New(store, policies, scheduler, dispatcher, archive, &engine.Options{
		EventBufferSize: cfg.Escalation.EventBuffer,
	})
	defer eng.Close()

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	// Ops server
	ops := metrics.NewServer(cfg.Server.OpsAddress, store)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ops.Start()
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return ops.Shutdown(shutdownCtx)
	})

	// Config file watcher
	if cfg.Escalation.WatchFiles {
		watcher, err := escalation.NewConfigWatcher(map[string]escalation.ReloadFunc{
			cfg.Escalation.PoliciesFile:  policies.ReloadFromFile,
			cfg.Escalation.SchedulesFile: directory.ReloadFromFile,
		})
		if err != nil {
			return fmt.Errorf("watch config files: %w", err)
		}
		g.Go(func() error {
			watcher.Run(gctx)
			return nil
		})
	}

	// Engine event drain
	g.Go(func() error {
		consumeEvents(gctx, eng, cfg.Verbose)
		return nil
	})

	// Timer queue depth gauge
	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				metrics.TimerQueueDepth.Set(float64(timers.Len()))
			}
		}
	})

	log.Printf("flarepage server started (version %s)", config.Version)

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}

	log.Println("shutting down")
	return nil
}

// buildRegistry constructs the notifier registry from the configured
// adapter blocks. Validation already happened in LoadConfig, so
// constructor errors here mean a programming mistake.
func buildRegistry(cfg *Config) (*notifier.Registry, error) {
	registry := notifier.NewRegistryWithRateLimit(notifier.RateLimitConfig{
		MaxPerWindow: cfg.Notifiers.RateLimit.MaxPerMinute,
		Window:       time.Minute,
		Enabled:      !cfg.Notifiers.RateLimit.Disabled,
	})

	if cfg.Notifiers.Email != nil {
		email, err := notifier.NewEmailNotifier(*cfg.Notifiers.Email)
		if err != nil {
			return nil, fmt.Errorf("email notifier: %w", err)
		}
		registry.Register(email)
	}
	if cfg.Notifiers.Slack != nil {
		registry.Register(notifier.NewSlackNotifier(*cfg.Notifiers.Slack))
	}
	if cfg.Notifiers.SMS != nil {
		sms, err := notifier.NewSMSNotifier(*cfg.Notifiers.SMS)
		if err != nil {
			return nil, fmt.Errorf("sms notifier: %w", err)
		}
		registry.Register(sms)
	}
	if cfg.Notifiers.Push != nil {
		push, err := notifier.NewPushNotifier(*cfg.Notifiers.Push)
		if err != nil {
			return nil, fmt.Errorf("push notifier: %w", err)
		}
		registry.Register(push)
	}

	return registry, nil
}

// consumeEvents drains the engine event stream. Events back the log
// trail today; an API layer would fan them out to subscribers.
func consumeEvents(ctx context.Context, eng *engine.Engine, verbose bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eng.Events():
			if !ok {
				return
			}
			logEvent(event, verbose)
		}
	}
}

func logEvent(event *engine.Event, verbose bool) {
	switch event.Type {
	case engine.EventNotification:
		if event.Attempt == nil {
			return
		}
		if verbose || event.Attempt.Terminal() {
			log.Printf("notification %s: incident=%s level=%d user=%s channel=%s status=%s",
				event.Attempt.ID, event.Attempt.IncidentID, event.Attempt.Level,
				event.Attempt.UserID, event.Attempt.Channel, event.Attempt.Status)
		}
	default:
		if event.Incident == nil {
			return
		}
		log.Printf("%s: incident=%s number=%d service=%s severity=%s status=%s level=%d",
			event.Type, event.Incident.ID, event.Incident.Number, event.Incident.ServiceID,
			event.Incident.Severity, event.Incident.Status, event.Incident.EscalationLevel)
	}
}
