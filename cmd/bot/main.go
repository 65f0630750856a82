package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mymmrac/telego"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"vipgate-bot/internal/bot"
	"vipgate-bot/internal/config"
	"vipgate-bot/internal/database"
	"vipgate-bot/internal/logger"
	"vipgate-bot/internal/membership"
	"vipgate-bot/internal/metrics"
	"vipgate-bot/internal/notify"
	"vipgate-bot/internal/payment"
	"vipgate-bot/internal/server"
	"vipgate-bot/internal/worker"
)

func main() {
	// Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Could not load config: %v", err)
	}

	logg := logger.New(cfg.AppEnv)
	metrics.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to Database
	db, err := database.ConnectPostgres(cfg, logg)
	if err != nil {
		logg.Error("Could not connect to database", "err", err)
		os.Exit(1)
	}

	// Connect to Redis
	rdb, err := database.ConnectRedis(ctx, cfg, logg)
	if err != nil {
		logg.Error("Could not connect to redis", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	var gateway membership.Gateway
	switch cfg.PaymentProvider {
	case config.ProviderManual:
		gateway = payment.NewManualGateway(cfg.WalletAddress, cfg.ManualCurrency, cfg.PriceCurrency, cfg.PaymentTTL,
			payment.NewRedisPendingTable(rdb))
	default:
		gateway = payment.NewClient(payment.ClientConfig{
			APIURL:        cfg.NowPaymentsURL,
			APIKey:        cfg.NowPaymentsKey,
			PriceCurrency: cfg.PriceCurrency,
			PayCurrency:   cfg.PayCurrency,
			PaymentTTL:    cfg.PaymentTTL,
			Timeout:       cfg.GatewayTimeout,
		})
	}
	logg.Info("Payment gateway selected", "gateway", gateway.Name())

	subscribers := database.NewSubscriberStore(db)
	ledger := database.NewPaymentLedger(db)

	tg, err := telego.NewBot(cfg.BotToken)
	if err != nil {
		logg.Error("Could not create bot", "err", err)
		os.Exit(1)
	}
	notifier := notify.New(tg, cfg.GroupID, cfg.GroupInviteLink, logg)

	controller := membership.NewController(gateway, ledger, subscribers, notifier, membership.ControllerConfig{
		Period:       cfg.SubscriptionPeriod(),
		AdmitPartial: cfg.AdmitPartial,
		PollTimeout:  2 * cfg.GatewayTimeout,
	}, logg)
	approver := membership.NewApprover(cfg.OperatorID, subscribers, ledger, notifier, cfg.SubscriptionPeriod(), logg)
	sweeper := worker.NewSweeper(subscribers, notifier, rdb, worker.Options{
		Interval:     cfg.SweepInterval,
		InitialDelay: cfg.SweepInitialDelay,
		ReminderLead: cfg.ReminderLead,
	}, logg)

	tgBot := bot.NewBot(tg, controller, approver, subscribers, sweeper, bot.Config{
		Price:         cfg.PriceAmount,
		PriceCurrency: cfg.PriceCurrency,
		PeriodDays:    cfg.SubscriptionDays,
	}, logg)

	httpServer := server.New(cfg.HTTPAddr, cfg.MetricsAllowedCIDRs, prometheus.DefaultGatherer, logg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tgBot.Start(gctx) })
	g.Go(func() error { return sweeper.Start(gctx) })
	g.Go(func() error { return httpServer.Start(gctx) })

	logg.Info("Service started successfully")
	if err := g.Wait(); err != nil {
		logg.Error("Service stopped with error", "err", err)
		os.Exit(1)
	}
	logg.Info("Service stopped")
}
