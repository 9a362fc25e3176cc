package main

import (
	"fmt"
	"os"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"

	"github.com/parcelbroker/parcelbroker/acceptance"
	apiv1 "github.com/parcelbroker/parcelbroker/api/v1"
	"github.com/parcelbroker/parcelbroker/candidate"
	"github.com/parcelbroker/parcelbroker/capacity"
	"github.com/parcelbroker/parcelbroker/chat"
	"github.com/parcelbroker/parcelbroker/config"
	"github.com/parcelbroker/parcelbroker/database"
	"github.com/parcelbroker/parcelbroker/fairness"
	"github.com/parcelbroker/parcelbroker/ledger"
	"github.com/parcelbroker/parcelbroker/matching"
	"github.com/parcelbroker/parcelbroker/metrics"
	"github.com/parcelbroker/parcelbroker/notify"
	"github.com/parcelbroker/parcelbroker/rebalance"
	"github.com/parcelbroker/parcelbroker/util"
)

var log = logging.Logger("parcelbroker")

var appVersion = "dev"

func main() {
	cfg := config.NewParcelBroker(appVersion)

	app := cli.NewApp()
	app.Name = "parcelbroker"
	app.Usage = "capacity-aware parcel delivery matching engine"
	app.Version = appVersion
	app.Flags = getAppFlags(cfg)
	app.Action = func(cctx *cli.Context) error {
		return run(cctx, cfg)
	}
	app.Commands = []*cli.Command{
		{
			Name:  "setup",
			Usage: "writes a default configuration file",
			Flags: getSetupFlags(cfg),
			Action: func(cctx *cli.Context) error {
				configFile := cctx.String("config")
				if dbConn := cctx.String("database"); dbConn != "" {
					cfg.DatabaseConnString = dbConn
				}
				return cfg.Save(configFile)
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("could not run parcelbroker app: %+v", err)
	}
}

func run(cctx *cli.Context, cfg *config.ParcelBroker) error {
	if err := logging.SetLogLevel("*", util.LogLevel); err != nil {
		return err
	}

	configFile := cctx.String("config")
	if err := cfg.Load(configFile); err != nil && err != config.ErrNotInitialized {
		return err
	}
	overrideSetOptions(cctx, cfg)

	db, err := database.Open(cfg.DatabaseConnString)
	if err != nil {
		return err
	}

	if cfg.Jaeger.EnableTracing {
		tp, err := metrics.NewJaegerTraceProvider("parcelbroker", cfg.Jaeger.ProviderUrl, cfg.Jaeger.SamplerRatio)
		if err != nil {
			return err
		}
		otel.SetTracerProvider(tp)
	}

	slog := log.SugaredLogger

	var index fairness.Index
	if cfg.RedisConnString != "" {
		opts, err := redis.ParseURL(cfg.RedisConnString)
		if err != nil {
			return fmt.Errorf("parsing redis connection string: %w", err)
		}
		index = fairness.NewRedisIndex(redis.NewClient(opts), cfg)
	} else {
		log.Warnf("no redis configured, fairness index is process-local")
		index = fairness.NewMemoryIndex()
	}

	registry := prometheus.NewRegistry()
	m := metrics.New()
	m.Register(registry)

	finder := candidate.NewFinder(db, &slog)
	gate := capacity.NewGate(db, cfg, &slog)
	selector := fairness.NewSelector(cfg, index, &slog)
	notifier := notify.NewNotifier(db, notify.LogSender{Log: &slog}, m, &slog)
	ledgerMgr := ledger.NewManager(db, &slog)
	chatMgr := chat.NewManager(db, &slog)
	rebalancer := rebalance.NewManager(db, cfg, finder, gate, ledgerMgr, notifier, m, &slog)
	acceptMgr := acceptance.NewManager(db, cfg, rebalancer, chatMgr, notifier, m, &slog)
	matcher := matching.NewManager(db, cfg, finder, gate, selector, ledgerMgr, notifier, m, &slog)

	e := echo.New()
	e.HideBanner = true
	apiv1.NewAPIV1(cfg, db, matcher, acceptMgr, gate, index, registry, &slog).RegisterRoutes(e)

	log.Infof("parcelbroker listening on %s", cfg.ApiListen)
	return e.Start(cfg.ApiListen)
}

// overrideSetOptions applies the flags the operator set explicitly on top
// of the loaded config file.
func overrideSetOptions(cctx *cli.Context, cfg *config.ParcelBroker) {
	if cctx.IsSet("database") {
		cfg.DatabaseConnString = cctx.String("database")
	}
	if cctx.IsSet("redis") {
		cfg.RedisConnString = cctx.String("redis")
	}
	if cctx.IsSet("apilisten") {
		cfg.ApiListen = cctx.String("apilisten")
	}
	if cctx.IsSet("max-deliverer-capacity") {
		cfg.Matching.MaxDelivererCapacity = cctx.Int("max-deliverer-capacity")
	}
	if cctx.IsSet("distribution-strategy") {
		cfg.Matching.Strategy = config.DistributionStrategy(strings.ToLower(cctx.String("distribution-strategy")))
	}
	if cctx.Bool("disable-matching") {
		cfg.Matching.Enabled = false
	}
	if cctx.Bool("disable-rebalancing") {
		cfg.Matching.RebalancingEnabled = false
	}
	if cctx.Bool("disable-redistribution") {
		cfg.Matching.RedistributionEnabled = false
	}
}
