package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/utils"

	"github.com/livekit/quality-manager/pkg/config"
	"github.com/livekit/quality-manager/pkg/service"
	"github.com/livekit/quality-manager/pkg/telemetry/prometheus"
	"github.com/livekit/quality-manager/version"
)

const nodeStatsInterval = 30 * time.Second

var baseFlags = []cli.Flag{
	&cli.StringSliceFlag{
		Name:  "bind",
		Usage: "IP address to listen on, use flag multiple times to specify multiple addresses",
	},
	&cli.StringFlag{
		Name:  "config",
		Usage: "path to quality manager config file",
	},
	&cli.StringFlag{
		Name:    "config-body",
		Usage:   "quality manager config in YAML, typically passed in as an environment var in a container",
		EnvVars: []string{"QUALITY_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "env",
		Usage:   "deployment environment reported with metrics",
		Value:   "dev",
		EnvVars: []string{"QUALITY_ENV"},
	},
	&cli.StringFlag{
		Name:    "redis-host",
		Usage:   "host (incl. port) to redis server",
		EnvVars: []string{"REDIS_HOST"},
	},
	&cli.StringFlag{
		Name:    "redis-password",
		Usage:   "password to redis",
		EnvVars: []string{"REDIS_PASSWORD"},
	},
	&cli.StringFlag{
		Name:    "postgres-dsn",
		Usage:   "postgres connection string of the subscription directory",
		EnvVars: []string{"POSTGRES_DSN"},
	},
	// debugging flags
	&cli.StringFlag{
		Name:  "memprofile",
		Usage: "write memory profile to `file`",
	},
	&cli.BoolFlag{
		Name:  "dev",
		Usage: "sets log-level to debug and console formatter",
	},
	&cli.BoolFlag{
		Name:   "disable-strict-config",
		Usage:  "disables strict config parsing",
		Hidden: true,
	},
}

func main() {
	generatedFlags, err := config.GenerateCLIFlags(baseFlags, true)
	if err != nil {
		fmt.Println(err)
	}

	app := &cli.App{
		Name:        "quality-manager",
		Usage:       "Subscription-aware adaptive streaming quality service",
		Description: "run without subcommands to start the server",
		Flags:       append(baseFlags, generatedFlags...),
		Action:      startServer,
		Commands: []*cli.Command{
			{
				Name:      "invoke",
				Usage:     "handles a single action envelope and prints the response",
				ArgsUsage: "[file]",
				Action:    invokeAction,
			},
			{
				Name:   "tiers",
				Usage:  "print subscription tier entitlements",
				Action: printTiers,
			},
			{
				Name:   "sessions",
				Usage:  "list active streaming sessions of a user",
				Action: listSessions,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "user",
						Usage:    "user id",
						Required: true,
					},
				},
			},
			{
				Name:   "help-verbose",
				Usage:  "prints app help, including all generated configuration flags",
				Action: helpVerbose,
			},
		},
		Version: version.Version,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func getConfig(c *cli.Context) (*config.Config, error) {
	confString, err := getConfigString(c.String("config"), c.String("config-body"))
	if err != nil {
		return nil, err
	}

	conf, err := config.NewConfig(confString, !c.Bool("disable-strict-config"), c, baseFlags)
	if err != nil {
		return nil, err
	}
	config.InitLoggerFromConfig(conf)

	if confString == "" && conf.Development {
		logger.Infow("starting in development mode")
		// bind to localhost only when running without a config
		if conf.BindAddresses == nil {
			conf.BindAddresses = []string{
				"127.0.0.1",
				"::1",
			}
		}
	}
	return conf, nil
}

func startServer(c *cli.Context) error {
	memProfile := c.String("memprofile")

	conf, err := getConfig(c)
	if err != nil {
		return err
	}

	if memProfile != "" {
		if f, err := os.Create(memProfile); err != nil {
			return err
		} else {
			defer func() {
				// run memory profile at termination
				runtime.GC()
				_ = pprof.WriteHeapProfile(f)
				_ = f.Close()
			}()
		}
	}

	nodeID := utils.NewGuid(utils.NodePrefix)
	prometheus.Init(nodeID, c.String("env"))

	server, err := service.InitializeServer(conf, prometheus.NewQualityMetrics())
	if err != nil {
		return err
	}
	logger.Infow("quality manager initialized",
		"nodeID", nodeID,
		"version", version.Version,
		"admission", conf.Quality.Admission,
		"directory", conf.Directory.Kind,
		"redis", conf.Redis.IsConfigured(),
	)

	done := make(chan struct{})
	defer close(done)
	go reportNodeStats(done)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		sig := <-sigChan
		logger.Infow("exit requested, shutting down", "signal", sig)
		server.Stop()
	}()

	return server.Start()
}

func reportNodeStats(done <-chan struct{}) {
	ticker := time.NewTicker(nodeStatsInterval)
	defer ticker.Stop()

	var stats *prometheus.NodeStats
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			updated, err := prometheus.GetUpdatedNodeStats(stats)
			if err != nil {
				logger.Warnw("could not update node stats", err)
				continue
			}
			stats = updated
			logger.Debugw("node stats",
				"cpuLoad", stats.CPULoad,
				"memoryLoad", stats.MemoryLoad,
				"actions", stats.ActionsHandled,
				"sessionsAdmitted", stats.SessionsAdmitted,
				"sessionsRejected", stats.SessionsRejected,
			)
		}
	}
}

func getConfigString(configFile string, inConfigBody string) (string, error) {
	if inConfigBody != "" || configFile == "" {
		return inConfigBody, nil
	}

	outConfigBody, err := os.ReadFile(configFile)
	if err != nil {
		return "", err
	}

	return string(outConfigBody), nil
}
