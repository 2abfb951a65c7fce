package cmd

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	"github.com/wapilot/wapilot/agent"
	"github.com/wapilot/wapilot/appointment"
	"github.com/wapilot/wapilot/contextsummary"
	"github.com/wapilot/wapilot/conversation"
	"github.com/wapilot/wapilot/core/config"
	"github.com/wapilot/wapilot/core/database"
	"github.com/wapilot/wapilot/followups"
	"github.com/wapilot/wapilot/inbound"
	"github.com/wapilot/wapilot/infrastructure/coordination"
	"github.com/wapilot/wapilot/infrastructure/valkey"
	"github.com/wapilot/wapilot/integrations/metawa"
	"github.com/wapilot/wapilot/integrations/transcribe"
	"github.com/wapilot/wapilot/integrations/wasender"
	"github.com/wapilot/wapilot/knowledge"
	"github.com/wapilot/wapilot/llm"
	"github.com/wapilot/wapilot/media"
	"github.com/wapilot/wapilot/orchestrator"
	"github.com/wapilot/wapilot/outbound"
	"github.com/wapilot/wapilot/reminders"
	"github.com/wapilot/wapilot/scheduler"
	"github.com/wapilot/wapilot/summaries"
	"github.com/wapilot/wapilot/template"
	"github.com/wapilot/wapilot/tools"
)

var (
	cfg *config.Config
	db  *gorm.DB

	vkClient *valkey.Client
	store    coordination.Store

	workerPool      *inbound.WorkerPool
	dispatcher      *inbound.Dispatcher
	webhookHandlers *inbound.Handlers
	schedulerSvc    *scheduler.Scheduler
)

var rootCmd = &cobra.Command{
	Use:   "wapilot",
	Short: "Multi-tenant WhatsApp AI agent platform",
	Long: `WaPilot connects WhatsApp Business numbers to AI agents: inbound
webhooks are batched per conversation, answered by an LLM with tool access
(calendar, knowledge base, media catalog) and followed up proactively by the
background scheduler.`,
}

func init() {
	// .env is optional; real deployments set environment variables directly.
	_ = godotenv.Load()

	time.Local = time.UTC

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	initFlags()
	cobra.OnInitialize(initApp)
}

func initFlags() {
	rootCmd.PersistentFlags().StringP("port", "p", "", "HTTP port, overrides APP_PORT | example: --port=8000")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "enable debug logging | example: --debug=true")
	rootCmd.PersistentFlags().String("db-driver", "", `database driver (sqlite or postgres), overrides DB_DRIVER`)
	rootCmd.PersistentFlags().String("db-name", "", `database name, or file path for sqlite, overrides DB_NAME`)

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		logrus.Fatalf("[APP] Failed to bind flags: %v", err)
	}
}

func initApp() {
	var err error
	cfg, err = config.LoadConfig()
	if err != nil {
		logrus.Fatalf("[APP] Failed to load configuration: %v", err)
	}

	// Flags win over environment.
	if port := viper.GetString("port"); port != "" {
		cfg.App.Port = port
	}
	if viper.GetBool("debug") {
		cfg.App.Debug = true
	}
	if driver := viper.GetString("db-driver"); driver != "" {
		cfg.Database.Driver = driver
	}
	if name := viper.GetString("db-name"); name != "" {
		cfg.Database.Name = name
	}

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfg.App.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if cfg.Database.Driver == "sqlite" || cfg.Database.Driver == "" {
		if err := os.MkdirAll("storages", 0o755); err != nil {
			logrus.Errorln(err)
		}
	}

	db, err = database.NewDatabase(cfg)
	if err != nil {
		logrus.Fatalf("[DB] %v", err)
	}

	ctx := context.Background()

	// Repositories
	agentRepo := agent.NewGormRepository(db)
	convRepo := conversation.NewGormRepository(db)
	aptRepo := appointment.NewGormRepository(db)
	knRepo := knowledge.NewGormRepository(db)
	mediaRepo := media.NewGormRepository(db)
	tmplRepo := template.NewGormRepository(db)
	ctxSumRepo := contextsummary.NewGormRepository(db)
	remRepo := reminders.NewGormRepository(db)
	sumRepo := summaries.NewGormRepository(db)
	fuRepo := followups.NewGormRepository(db)

	migrators := []interface {
		Init(context.Context) error
	}{
		agentRepo, convRepo, aptRepo, knRepo, mediaRepo,
		tmplRepo, ctxSumRepo, remRepo, sumRepo, fuRepo,
	}
	for _, m := range migrators {
		if err := m.Init(ctx); err != nil {
			logrus.Fatalf("[DB] Migration failed: %v", err)
		}
	}

	// Coordination store: Valkey when reachable, in-memory otherwise. The
	// in-memory store is fine for a single instance; timers and batches just
	// do not survive a restart.
	if cfg.Database.ValkeyEnabled {
		vkClient, err = valkey.NewClient(valkey.Config{
			Address:   cfg.Database.ValkeyAddress,
			Password:  cfg.Database.ValkeyPassword,
			DB:        cfg.Database.ValkeyDB,
			KeyPrefix: cfg.Database.ValkeyKeyPrefix,
		})
		if err != nil {
			logrus.WithError(err).Warn("[VALKEY] Unavailable, using in-memory coordination")
			store = coordination.NewMemoryStore()
		} else {
			store = coordination.NewValkeyStore(vkClient)
		}
	} else {
		store = coordination.NewMemoryStore()
	}

	// LLM providers
	pool := llm.NewKeyPool(map[string][]string{
		"anthropic": cfg.APIKeys.Anthropic,
		"openai":    cfg.APIKeys.OpenAI,
		"gemini":    cfg.APIKeys.Google,
	})
	factory := llm.NewFactory(pool)

	openaiKey := ""
	if len(cfg.APIKeys.OpenAI) > 0 {
		openaiKey = cfg.APIKeys.OpenAI[0]
	}

	// Domain services
	embedder := knowledge.NewOpenAIEmbedder(openaiKey)
	knService := knowledge.NewService(knRepo, embedder)
	mediaService := media.NewService(mediaRepo, embedder)

	metaClient := metawa.NewClient()
	wsClient := wasender.NewClient()
	sender := outbound.NewDispatcher(metaClient, wsClient)

	calendar := appointment.NewCalendarClient(cfg.Google.ClientID, cfg.Google.ClientSecret)
	notifier := appointment.NewWebhookNotifier(convRepo)
	aptService := appointment.NewService(aptRepo, agentRepo, calendar, notifier)

	executor := tools.NewExecutor(convRepo, knService, aptService, mediaService)
	summaryRunner := contextsummary.NewRunner(ctxSumRepo, convRepo, agentRepo, factory, store)

	orch := orchestrator.New(
		agentRepo, convRepo, knService, mediaService, aptService,
		factory, executor, ctxSumRepo, summaryRunner, sender,
	)

	// Background engines
	remEngine := reminders.NewEngine(remRepo, agentRepo, aptRepo, convRepo, factory, sender)
	sumEngine := summaries.NewEngine(sumRepo, agentRepo, convRepo, factory)
	fuEngine := followups.NewEngine(fuRepo, remRepo, agentRepo, convRepo, tmplRepo, factory, store, sender)

	orch.SetFollowupHook(fuEngine)
	aptService.SetListener(remEngine)
	notifier.SetSummaryFunc(sumEngine.InlineSummary)

	var transcriber *transcribe.Transcriber
	if openaiKey != "" {
		transcriber = transcribe.New(openaiKey, cfg.AI.TranscriptionModel)
	} else {
		logrus.Warn("[APP] No OpenAI key configured, voice transcription disabled")
	}

	// Inbound pipeline
	workerPool = inbound.NewWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize)
	dispatcher = inbound.NewDispatcher(agentRepo, convRepo, orch, transcriber, metaClient, wsClient, workerPool, store)
	webhookHandlers = inbound.NewHandlers(agentRepo, dispatcher)

	schedulerSvc = scheduler.New(store, remEngine, sumEngine, fuEngine)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// StopApp releases shared resources on shutdown.
func StopApp() {
	logrus.Info("[APP] Stopping application...")

	if workerPool != nil {
		workerPool.Close()
	}
	if vkClient != nil {
		vkClient.Close()
	}
	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	logrus.Info("[APP] Application stopped cleanly.")
}
