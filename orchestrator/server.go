package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"tangled.sh/tangled.sh/provisioner/flow"
	"tangled.sh/tangled.sh/provisioner/log"
	"tangled.sh/tangled.sh/provisioner/notifier"
	"tangled.sh/tangled.sh/provisioner/orchestrator/approval"
	"tangled.sh/tangled.sh/provisioner/orchestrator/bootstrap"
	"tangled.sh/tangled.sh/provisioner/orchestrator/config"
	"tangled.sh/tangled.sh/provisioner/orchestrator/db"
	"tangled.sh/tangled.sh/provisioner/orchestrator/engine"
	"tangled.sh/tangled.sh/provisioner/orchestrator/queue"
	"tangled.sh/tangled.sh/provisioner/rbac"
	"tangled.sh/tangled.sh/provisioner/telemetry"
	"tangled.sh/tangled.sh/provisioner/webhook"
)

const serviceName = "orchestrator"

type Orchestrator struct {
	db        *db.DB
	e         *rbac.Enforcer
	l         *slog.Logger
	n         *notifier.Notifier
	eng       *engine.Engine
	parser    *flow.Parser
	q         queue.Queue
	boot      *bootstrap.Scheduler
	providers *webhook.Registry
	cfg       *config.Config
	t         *telemetry.Telemetry
	rdb       *redis.Client

	deliveries metric.Int64Counter
}

func Command() *cli.Command {
	return &cli.Command{
		Name:   "server",
		Usage:  "run the job orchestrator",
		Action: Run,
		Description: `
Environment variables:
	ORCHESTRATOR_SERVER_HOSTNAME            (required)
	ORCHESTRATOR_SERVER_LISTEN_ADDR         (default: 0.0.0.0:6560)
	ORCHESTRATOR_SERVER_DB_PATH             (default: orchestrator.db)
	ORCHESTRATOR_SERVER_DEV                 (default: false)
	ORCHESTRATOR_SERVER_LOG_LEVEL           (default: debug)
	ORCHESTRATOR_QUEUE_PROVIDER             (memory or redis, default: memory)
	ORCHESTRATOR_QUEUE_SIZE                 (default: 100)
	ORCHESTRATOR_QUEUE_WORKERS              (default: 2)
	ORCHESTRATOR_QUEUE_REDIS_ADDR           (default: localhost:6379)
	ORCHESTRATOR_QUEUE_REDIS_KEY            (default: orchestrator:tasks)
	ORCHESTRATOR_WEBHOOKS_REGISTER_ATTEMPTS (default: 3)
	ORCHESTRATOR_WEBHOOKS_REGISTER_DELAY    (default: 1s)
	ORCHESTRATOR_WEBHOOKS_BITBUCKET_API_URL (default: https://api.bitbucket.org/2.0)
	ORCHESTRATOR_FLOW_CACHE_SIZE            (default: 1000)
`,
	}
}

func Run(ctx context.Context, cmd *cli.Command) error {
	logger := log.FromContext(ctx)

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log.SetLevel(logger, cfg.Server.LogLevel)

	t, err := telemetry.NewTelemetry(ctx, serviceName, versioninfo.Short(), cfg.Server.Dev)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		if err := t.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	o, err := New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer o.Close()
	o.t = t

	// task workers run in the background until the server stops
	o.q.Start(ctx)
	defer o.q.Stop()

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: o.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("starting orchestrator", "address", cfg.Server.ListenAddr, "version", versioninfo.Short())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		return err
	}

	return nil
}

// New wires the orchestrator's stores, engine, queue and providers. The
// queue is not started.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Orchestrator, error) {
	d, err := db.Make(cfg.Server.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to setup db: %w", err)
	}

	e, err := rbac.NewEnforcer(cfg.Server.DBPath)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to setup rbac enforcer: %w", err)
	}
	e.E.EnableAutoSave(true)

	parser, err := flow.NewParser(cfg.Flow.CacheSize, log.SubLogger(logger, "flow"))
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to setup flow parser: %w", err)
	}

	n := notifier.New()
	gate := approval.NewGate(e, logger)

	eng, err := engine.New(d, parser, gate, n, log.SubLogger(logger, "engine"))
	if err != nil {
		parser.Close()
		d.Close()
		return nil, err
	}

	o := &Orchestrator{
		db:     d,
		e:      e,
		l:      logger,
		n:      n,
		eng:    eng,
		parser: parser,
		cfg:    cfg,
	}

	mux := queue.NewMux()
	qLogger := log.SubLogger(logger, "queue")
	switch cfg.Queue.Provider {
	case "redis":
		o.rdb = redis.NewClient(&redis.Options{Addr: cfg.Queue.RedisAddr})
		o.q = queue.NewRedisQueue(o.rdb, cfg.Queue.RedisKey, cfg.Queue.Workers, mux.Run, qLogger)
	default:
		o.q = queue.NewMemoryQueue(cfg.Queue.Size, cfg.Queue.Workers, mux.Run, qLogger)
	}

	o.boot = bootstrap.NewScheduler(o.q, d, log.SubLogger(logger, "bootstrap"))
	mux.Handle(bootstrap.TaskKind, o.boot.Handle)

	client := &http.Client{Timeout: 30 * time.Second}
	o.providers = webhook.NewRegistry(
		webhook.NewGitHub(client, logger),
		webhook.NewBitbucket(client, cfg.Webhooks.BitbucketApiUrl, logger),
	)

	o.deliveries, err = otel.Meter(serviceName).Int64Counter(
		"orchestrator.webhook.deliveries",
		metric.WithDescription("webhook deliveries by provider and verification result"),
	)
	if err != nil {
		o.Close()
		return nil, err
	}

	return o, nil
}

func (o *Orchestrator) Close() error {
	o.parser.Close()
	var errs []error
	if o.rdb != nil {
		errs = append(errs, o.rdb.Close())
	}
	errs = append(errs, o.db.Close())
	return errors.Join(errs...)
}

func (o *Orchestrator) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(o.RequestLogger)
	if o.t != nil {
		r.Use(o.t.RequestInFlight())
		r.Use(o.t.RequestDuration())
	}

	r.Get("/version", o.Version)
	r.HandleFunc("/events", o.Events)

	r.Route("/organizations", func(r chi.Router) {
		r.Post("/", o.CreateOrganization)

		r.Route("/{org}", func(r chi.Router) {
			r.Use(o.ResolveOrganization)
			r.Get("/templates", o.ListTemplates)
			r.Post("/workspaces", o.CreateWorkspace)
			r.Post("/jobs", o.CreateJob)

			r.Route("/teams/{team}/members", func(r chi.Router) {
				r.Get("/", o.ListTeamMembers)
				r.Post("/", o.AddTeamMember)
				r.Delete("/", o.RemoveTeamMember)
			})
		})
	})

	r.Route("/jobs/{job}", func(r chi.Router) {
		r.Use(o.ResolveJob)
		r.Get("/", o.GetJob)
		r.Post("/materialize", o.Materialize)
		r.Get("/next", o.NextStep)
		r.Get("/current-step", o.CurrentStep)
		r.Post("/approve", o.Approve)
	})

	r.Post("/steps/{step}/status", o.UpdateStepStatus)

	r.Post("/workspaces/{workspace}/webhook", o.RegisterWebhook)
	r.Post("/webhook/v1/{webhook}", o.ReceiveWebhook)

	return r
}
