package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"rentme-deposits/internal/app/commands"
	"rentme-deposits/internal/app/dto"
	depositsapp "rentme-deposits/internal/app/handlers/deposits"
	"rentme-deposits/internal/app/middleware"
	appoutbox "rentme-deposits/internal/app/outbox"
	"rentme-deposits/internal/app/policies"
	"rentme-deposits/internal/app/queries"
	"rentme-deposits/internal/domain/claims"
	"rentme-deposits/internal/domain/deposit"
	"rentme-deposits/internal/domain/inspection"
	"rentme-deposits/internal/infra/broker/kafka"
	"rentme-deposits/internal/infra/config"
	mongostore "rentme-deposits/internal/infra/db/mongo"
	"rentme-deposits/internal/infra/db/postgres"
	"rentme-deposits/internal/infra/inbox"
	"rentme-deposits/internal/infra/obs"
	infraoutbox "rentme-deposits/internal/infra/outbox"
	"rentme-deposits/internal/infra/payments"
	"rentme-deposits/internal/infra/storage/memory"
	"rentme-deposits/internal/infra/storage/s3"
)

type application struct {
	commands commands.Bus
	queries  queries.Bus
	metrics  *obs.Metrics
	queue    infraoutbox.Queue
	inbox    kafka.Inbox
	stores   stores
	probes   []func(context.Context) error
	closers  []func(context.Context) error
}

type stores struct {
	ledger   deposit.Repository
	evidence inspection.Repository
	claims   claims.Reader
	seed     fixtureSink
}

func buildApplication(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *application, err error) {
	app := &application{metrics: obs.NewMetrics()}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	var mc *mongostore.Client
	if cfg.MongoURI != "" {
		if mc, err = mongostore.New(ctx, cfg.MongoURI, cfg.MongoDB); err != nil {
			return nil, err
		}
		app.onClose(mc.Close)
		app.probes = append(app.probes, mc.Ping)
	}

	if app.stores, err = app.openStores(ctx, cfg, mc); err != nil {
		return nil, err
	}
	if cfg.FixturesPath != "" {
		if err := loadFixtures(ctx, cfg.FixturesPath, app.stores.seed, logger); err != nil {
			return nil, err
		}
	}

	var (
		box   appoutbox.Outbox
		idems middleware.IdempotencyStore
	)
	if mc != nil {
		outboxStore := infraoutbox.NewStore(mc.DB)
		idemStore := mongostore.NewIdempotencyStore(mc.DB, cfg.IdempotencyTTL)
		inboxStore := inbox.NewStore(mc.DB, cfg.KafkaGroupID, 0)
		if err := mongostore.EnsureIndexes(ctx, outboxStore, idemStore, inboxStore); err != nil {
			return nil, err
		}
		box, idems, app.queue, app.inbox = outboxStore, idemStore, outboxStore, inboxStore
	} else {
		box, idems, app.inbox = memory.NewOutbox(), memory.NewIdempotencyStore(cfg.IdempotencyTTL), memory.NewInbox()
	}

	gateway, err := app.buildGateway(cfg, logger)
	if err != nil {
		return nil, err
	}

	var archive policies.ReportArchive
	if cfg.ArchiveEnabled() {
		if archive, err = s3.NewReportArchive(s3.Config{
			Endpoint:  cfg.S3Endpoint,
			UseSSL:    cfg.S3UseSSL,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
		}, logger); err != nil {
			return nil, err
		}
	}

	releaser := &depositsapp.Releaser{
		Ledger:         app.stores.ledger,
		Evidence:       app.stores.evidence,
		Claims:         app.stores.claims,
		Gateway:        gateway,
		Outbox:         box,
		Metrics:        app.metrics,
		Logger:         logger,
		GatewayTimeout: cfg.GatewayTimeout,
	}

	commandBus := commands.NewInMemoryBus()
	commands.Register[depositsapp.ReleaseDepositCommand, *depositsapp.ReleaseDepositResult](commandBus, &depositsapp.ReleaseDepositHandler{
		Releaser:    releaser,
		ClaimWindow: cfg.DefaultClaimWindow,
	})
	commands.Register[depositsapp.SweepDepositsCommand, *depositsapp.SweepResult](commandBus, &depositsapp.SweepDepositsHandler{
		Releaser:     releaser,
		ClaimWindow:  cfg.DefaultClaimWindow,
		DefaultLimit: cfg.SweepLimit,
		Concurrency:  cfg.SweepConcurrency,
		Archive:      archive,
	})

	queryBus := queries.NewInMemoryBus()
	queries.Register[depositsapp.GetDepositQuery, dto.DepositView](queryBus, &depositsapp.GetDepositHandler{
		Releaser:    releaser,
		ClaimWindow: cfg.DefaultClaimWindow,
	})

	pipeline := middleware.Pipeline{Logger: logger, Idempotency: idems, Outbox: box}
	app.commands = pipeline.Commands(commandBus)
	app.queries = pipeline.Queries(queryBus)
	logger.Info("application ready",
		"store", cfg.StoreDriver, "gateway", cfg.GatewayMode, "commands", commandBus.Keys(),
		"kafka", cfg.KafkaEnabled(), "archive", cfg.ArchiveEnabled())
	return app, nil
}

func (a *application) openStores(ctx context.Context, cfg config.Config, mc *mongostore.Client) (stores, error) {
	switch cfg.StoreDriver {
	case config.StoreMongo:
		ledger := mongostore.NewLedgerStore(mc.DB)
		evidence := mongostore.NewEvidenceStore(mc.DB)
		claimStore := mongostore.NewClaimStore(mc.DB)
		if err := mongostore.EnsureIndexes(ctx, ledger, evidence, claimStore); err != nil {
			return stores{}, err
		}
		return stores{
			ledger: ledger, evidence: evidence, claims: claimStore,
			seed: fixtureSink{entry: ledger.Upsert, evidence: evidence.Upsert, claim: claimStore.Save},
		}, nil
	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return stores{}, err
		}
		a.onClose(func(context.Context) error { db.Close(); return nil })
		a.probes = append(a.probes, db.Ping)
		if err := db.Migrate(ctx); err != nil {
			return stores{}, err
		}
		ledger := postgres.NewLedgerStore(db)
		evidence := postgres.NewEvidenceStore(db)
		claimStore := postgres.NewClaimStore(db)
		return stores{
			ledger: ledger, evidence: evidence, claims: claimStore,
			seed: fixtureSink{entry: ledger.Upsert, evidence: evidence.Upsert, claim: claimStore.Save},
		}, nil
	default:
		return memoryStores(), nil
	}
}

func memoryStores() stores {
	ledger := memory.NewLedger()
	evidence := memory.NewEvidenceStore()
	claimStore := memory.NewClaimStore()
	return stores{
		ledger: ledger, evidence: evidence, claims: claimStore,
		seed: fixtureSink{
			entry:    func(_ context.Context, e *deposit.Entry) error { ledger.Put(e); return nil },
			evidence: func(_ context.Context, ev *inspection.ReturnEvidence) error { evidence.Put(ev); return nil },
			claim:    func(_ context.Context, c *claims.Claim) error { claimStore.File(c); return nil },
		},
	}
}

func (a *application) buildGateway(cfg config.Config, logger *slog.Logger) (policies.PaymentGateway, error) {
	var gateway policies.PaymentGateway
	switch cfg.GatewayMode {
	case config.GatewayHTTP:
		gateway = &payments.Processor{
			Client:  &http.Client{Timeout: cfg.GatewayTimeout},
			BaseURL: cfg.GatewayURL,
			APIKey:  cfg.GatewayAPIKey,
			Logger:  logger,
		}
	case config.GatewaySandbox:
		logger.Warn("using the sandbox payment gateway; no money moves")
		gateway = payments.NewSandbox()
	default:
		return nil, fmt.Errorf("unsupported gateway mode %q", cfg.GatewayMode)
	}
	if cfg.RedisAddr == "" || cfg.GatewayRateLimit <= 0 {
		return gateway, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	a.onClose(func(context.Context) error { return rdb.Close() })
	return &payments.RateLimited{
		Next:     gateway,
		Redis:    rdb,
		Capacity: cfg.GatewayRateLimit,
		Interval: time.Second,
		Logger:   logger,
	}, nil
}

func (a *application) ready(ctx context.Context) error {
	for _, probe := range a.probes {
		if err := probe(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *application) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *application) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		slog.Default().Warn("shutdown incomplete", "error", err)
	}
}
