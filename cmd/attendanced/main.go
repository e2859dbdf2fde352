package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/Spok95/school-attendance/internal/app"
	"github.com/Spok95/school-attendance/internal/config"
	"github.com/Spok95/school-attendance/internal/ctxutil"
	"github.com/Spok95/school-attendance/internal/db"
	"github.com/Spok95/school-attendance/internal/importer"
	"github.com/Spok95/school-attendance/internal/jobs"
	"github.com/Spok95/school-attendance/internal/logging"
	"github.com/Spok95/school-attendance/internal/notify"
	"github.com/Spok95/school-attendance/internal/observability"
	"github.com/Spok95/school-attendance/internal/scan"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	lg, err := logging.Init(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer lg.Closer()

	flush, err := observability.InitSentry(cfg.SentryDSN, cfg.Env, "attendanced")
	if err != nil {
		lg.Base.Warn("sentry init failed", zap.Error(err))
	}
	defer flush()

	ctxutil.DefaultCollaboratorTimeout = cfg.ScanTimeout

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		lg.Base.Fatal("db connect", zap.Error(err))
	}
	defer func() { _ = database.Close() }()

	if err := db.Migrate(database); err != nil {
		lg.Base.Fatal("db migrate", zap.Error(err))
	}

	directory := &db.Directory{DB: database}
	ledger := &db.Ledger{DB: database, Loc: cfg.Location}
	occupancy := &db.Occupancy{DB: database, Loc: cfg.Location}

	session := scan.NewSession(directory, ledger, occupancy, lg.Base)
	if cfg.TelegramToken != "" {
		tg, err := notify.NewTelegram(cfg.TelegramToken, lg.Base)
		if err != nil {
			lg.Base.Warn("telegram notifier disabled", zap.Error(err))
		} else {
			session.WithNotifier(tg)
		}
	}

	engine := importer.NewEngine(&db.Applier{DB: database}, lg.Base)

	api := &app.API{
		Session:   session,
		Engine:    engine,
		Ledger:    ledger,
		Directory: directory,
		ImportDir: cfg.ImportDir,
		Loc:       cfg.Location,
		Log:       lg.Base,
		JobCtx:    ctx,
	}
	app.StartHTTP(ctx, cfg.HTTPAddr, database, api)
	lg.Base.Info("attendanced up", zap.String("addr", cfg.HTTPAddr), zap.String("env", cfg.Env))

	runner := jobs.New(ctx)
	runner.Every(cfg.ReconcileEvery, "occupancy_reconcile", func(ctx context.Context) error {
		drifted, err := occupancy.Reconcile(ctx)
		if err != nil {
			observability.CaptureErr(err)
			return err
		}
		if len(drifted) > 0 {
			lg.Base.Warn("bus occupancy drift corrected", zap.Strings("bus_ids", drifted))
		}
		return nil
	})

	<-ctx.Done()
	lg.Base.Info("shutting down")
}
