package main

import (
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/parcelbroker/parcelbroker/config"
	"github.com/parcelbroker/parcelbroker/util"
	"github.com/urfave/cli/v2"
)

func getAppFlags(cfg *config.ParcelBroker) []cli.Flag {
	hDir, err := homedir.Dir()
	if err != nil {
		log.Fatalf("could not determine homedir for parcelbroker app: %+v", err)
	}

	return []cli.Flag{
		util.FlagLogLevel,
		&cli.StringFlag{
			Name:  "config",
			Usage: "specify configuration file location",
			Value: filepath.Join(hDir, ".parcelbroker"),
		},
		&cli.StringFlag{
			Name:    "database",
			Usage:   "specify connection string for parcelbroker database",
			Value:   cfg.DatabaseConnString,
			EnvVars: []string{"PARCELBROKER_DATABASE"},
		},
		&cli.StringFlag{
			Name:    "redis",
			Usage:   "redis connection string for the shared fairness index",
			Value:   cfg.RedisConnString,
			EnvVars: []string{"PARCELBROKER_REDIS"},
		},
		&cli.StringFlag{
			Name:    "apilisten",
			Usage:   "address for the api server to listen on",
			Value:   cfg.ApiListen,
			EnvVars: []string{"PARCELBROKER_API_LISTEN"},
		},
		&cli.IntFlag{
			Name:    "max-deliverer-capacity",
			Usage:   "maximum simultaneously active responses per deliverer",
			Value:   cfg.Matching.MaxDelivererCapacity,
			EnvVars: []string{"PARCELBROKER_MAX_DELIVERER_CAPACITY"},
		},
		&cli.StringFlag{
			Name:    "distribution-strategy",
			Usage:   "round_robin, least_loaded or random",
			Value:   string(cfg.Matching.Strategy),
			EnvVars: []string{"PARCELBROKER_DISTRIBUTION_STRATEGY"},
		},
		&cli.BoolFlag{
			Name:  "disable-matching",
			Usage: "master switch, disables all automatic matching",
		},
		&cli.BoolFlag{
			Name:  "disable-rebalancing",
			Usage: "disables post-acceptance capacity rebalancing",
		},
		&cli.BoolFlag{
			Name:  "disable-redistribution",
			Usage: "disables automatic re-routing of declined matches",
		},
	}
}

func getSetupFlags(cfg *config.ParcelBroker) []cli.Flag {
	hDir, err := homedir.Dir()
	if err != nil {
		log.Fatalf("could not determine homedir for parcelbroker app: %+v", err)
	}

	return []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "specify configuration file location",
			Value: filepath.Join(hDir, ".parcelbroker"),
		},
		&cli.StringFlag{
			Name:  "database",
			Usage: "specify connection string for parcelbroker database",
			Value: cfg.DatabaseConnString,
		},
	}
}
