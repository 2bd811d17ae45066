package commands

import (
	"github.com/urfave/cli/v2"

	"github.com/livekit/quality-manager/cmd/cli/client"
	"github.com/livekit/quality-manager/pkg/quality"
	"github.com/livekit/quality-manager/pkg/service"
)

var (
	ActionCommands = []*cli.Command{
		{
			Name:   "config",
			Usage:  "fetch the quality config of a user",
			Before: createClient,
			Action: getQualityConfig,
			Flags: []cli.Flag{
				hostFlag,
				userFlag,
				tierFlag,
			},
		},
		{
			Name:   "access",
			Usage:  "request a playback session",
			Before: createClient,
			Action: validateStreamAccess,
			Flags: []cli.Flag{
				hostFlag,
				userFlag,
				tierFlag,
				streamFlag,
				&cli.StringFlag{
					Name:     "quality",
					Usage:    "requested quality, e.g. 720p",
					Required: true,
				},
			},
		},
		{
			Name:   "metrics",
			Usage:  "report viewer telemetry",
			Before: createClient,
			Action: updateViewerMetrics,
			Flags: append([]cli.Flag{
				hostFlag,
				userFlag,
				streamFlag,
			}, metricFlags...),
		},
		{
			Name:   "optimize",
			Usage:  "request a quality recommendation",
			Before: createClient,
			Action: optimizeQuality,
			Flags: append([]cli.Flag{
				hostFlag,
				userFlag,
				streamFlag,
			}, metricFlags...),
		},
	}

	metricFlags = []cli.Flag{
		&cli.Float64Flag{
			Name:  "buffer-ratio",
			Usage: "fraction of playback time spent buffering",
		},
		&cli.Float64Flag{
			Name:  "startup-time",
			Usage: "startup time in milliseconds",
		},
		&cli.IntFlag{
			Name: "rebuffer-count",
		},
		&cli.IntFlag{
			Name: "quality-switches",
		},
		&cli.StringFlag{
			Name:  "current-quality",
			Usage: "quality currently playing",
		},
		&cli.Float64Flag{
			Name:  "bandwidth",
			Usage: "client bandwidth estimate in bps",
		},
	}

	qualityClient *client.QualityClient
)

func createClient(c *cli.Context) error {
	qualityClient = client.NewQualityClient(c.String("host"))
	return nil
}

func getQualityConfig(c *cli.Context) error {
	return send(c, &service.ActionRequest{
		Action:           service.ActionGetQualityConfig,
		UserID:           c.String("user"),
		SubscriptionTier: quality.Tier(c.String("tier")),
	})
}

func validateStreamAccess(c *cli.Context) error {
	return send(c, &service.ActionRequest{
		Action:           service.ActionValidateStreamAccess,
		UserID:           c.String("user"),
		SubscriptionTier: quality.Tier(c.String("tier")),
		RequestedQuality: quality.Level(c.String("quality")),
		StreamID:         c.String("stream"),
	})
}

func updateViewerMetrics(c *cli.Context) error {
	return send(c, &service.ActionRequest{
		Action:   service.ActionUpdateViewerMetrics,
		UserID:   c.String("user"),
		StreamID: c.String("stream"),
		Metrics:  metricsFromFlags(c),
	})
}

func optimizeQuality(c *cli.Context) error {
	return send(c, &service.ActionRequest{
		Action:         service.ActionOptimizeQuality,
		UserID:         c.String("user"),
		StreamID:       c.String("stream"),
		CurrentMetrics: metricsFromFlags(c),
	})
}

// metricsFromFlags only sets the fields given on the command line so the
// server sees the others as absent.
func metricsFromFlags(c *cli.Context) *service.MetricsReport {
	m := &service.MetricsReport{
		CurrentQuality: quality.Level(c.String("current-quality")),
	}
	if c.IsSet("buffer-ratio") {
		v := c.Float64("buffer-ratio")
		m.BufferRatio = &v
	}
	if c.IsSet("startup-time") {
		v := c.Float64("startup-time")
		m.StartupTime = &v
	}
	if c.IsSet("rebuffer-count") {
		v := c.Int("rebuffer-count")
		m.RebufferCount = &v
	}
	if c.IsSet("quality-switches") {
		v := c.Int("quality-switches")
		m.QualitySwitches = &v
	}
	if c.IsSet("bandwidth") {
		v := c.Float64("bandwidth")
		m.BandwidthEstimate = &v
	}
	return m
}

func send(c *cli.Context, req *service.ActionRequest) error {
	res, err := qualityClient.Do(c.Context, req)
	if err != nil {
		return err
	}
	return PrintResult(c.App.Writer, res)
}
