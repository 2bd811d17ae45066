package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/livekit/quality-manager/pkg/config"
	"github.com/livekit/quality-manager/pkg/quality"
	"github.com/livekit/quality-manager/pkg/service"
	"github.com/livekit/quality-manager/pkg/telemetry/prometheus"
)

// invokeAction reads an action envelope from the file argument, or stdin when
// none is given, and prints the response envelope.
func invokeAction(c *cli.Context) error {
	payload, err := readPayload(c.Args().First(), c.App.Reader)
	if err != nil {
		return errors.Wrap(err, "read payload")
	}

	conf, err := getConfig(c)
	if err != nil {
		return errors.Wrap(err, "get config")
	}

	sink := prometheus.NewQualityMetrics()
	manager, err := service.InitializeQualityManager(conf, sink)
	if err != nil {
		return errors.Wrap(err, "initialize")
	}

	res := service.NewActionHandler(manager, sink).Invoke(c.Context, payload)
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, string(out))
	return err
}

func readPayload(path string, stdin io.Reader) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func printTiers(c *cli.Context) error {
	table := tablewriter.NewWriter(c.App.Writer)
	table.SetRowLine(true)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{
		"Tier", "Max Resolution", "Max Bitrate",
		"Qualities", "Streams", "Priority",
		"Buffer / Switch\nThreshold", "Session\nBuffer",
	})
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_CENTER, tablewriter.ALIGN_CENTER, tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_CENTER, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_CENTER,
		tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT,
	})

	for _, row := range tierRows() {
		table.Append(row)
	}
	table.Render()
	return nil
}

func tierRows() [][]string {
	rows := make([][]string, 0, len(quality.Tiers()))
	for _, tier := range quality.Tiers() {
		p := quality.PolicyFor(tier)

		qualities := make([]string, 0, len(p.AllowedQualities))
		for _, q := range p.AllowedQualities {
			qualities = append(qualities, string(q))
		}

		rows = append(rows, []string{
			string(p.Tier),
			string(p.MaxResolution),
			strings.TrimSpace(humanize.SIWithDigits(float64(p.MaxBitrate), 1, "bps")),
			strings.Join(qualities, ", "),
			strconv.Itoa(p.ConcurrentStreamLimit),
			strconv.FormatBool(p.PriorityAccess),
			fmt.Sprintf("%.2f / %.2f", p.BufferThreshold, p.QualitySwitchThreshold),
			fmt.Sprintf("%s\n%s", p.MaxSessionDuration, p.BufferSize),
		})
	}
	return rows
}

func listSessions(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return errors.Wrap(err, "get config")
	}

	if err := requireSharedStore(conf); err != nil {
		return err
	}

	manager, err := service.InitializeQualityManager(conf, nil)
	if err != nil {
		return errors.Wrap(err, "initialize")
	}

	ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
	defer cancel()
	sessions, err := manager.ActiveSessions(ctx, c.String("user"))
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(c.App.Writer)
	table.SetRowLine(true)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Session", "Stream", "Quality", "Tier", "Started", "Expires"})

	now := time.Now()
	for _, s := range sessions {
		table.Append([]string{
			s.SessionID,
			s.StreamID,
			string(s.Quality),
			string(s.SubscriptionTier),
			humanize.RelTime(s.StartTime, now, "ago", "from now"),
			s.ExpiresAt.UTC().Format("2006-01-02 15:04:05"),
		})
	}
	table.Render()
	return nil
}

// requireSharedStore rejects configs without redis: the local store lives in
// the server process and cannot be read from here.
func requireSharedStore(conf *config.Config) error {
	if !conf.Redis.IsConfigured() {
		return errors.New("sessions are kept in the server process when redis is not configured, set redis.address to list them")
	}
	return nil
}

func helpVerbose(c *cli.Context) error {
	generatedFlags, err := config.GenerateCLIFlags(baseFlags, false)
	if err != nil {
		return err
	}

	c.App.Flags = append(baseFlags, generatedFlags...)
	return cli.ShowAppHelp(c)
}
