package commands

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/manifoldco/promptui"
	"github.com/urfave/cli/v2"

	"github.com/livekit/quality-manager/pkg/quality"
	"github.com/livekit/quality-manager/pkg/service"
)

var (
	InteractiveCommands = []*cli.Command{
		{
			Name:   "interactive",
			Usage:  "build and send actions from prompts",
			Before: createClient,
			Action: runInteractive,
			Flags: []cli.Flag{
				hostFlag,
			},
		},
	}

	interactiveActions = []string{
		service.ActionGetQualityConfig,
		service.ActionValidateStreamAccess,
		service.ActionUpdateViewerMetrics,
		service.ActionOptimizeQuality,
		"quit",
	}
)

func runInteractive(c *cli.Context) error {
	userID, err := promptText("user id")
	if err != nil {
		return err
	}

	for {
		req, err := promptAction(userID)
		if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if req == nil {
			return nil
		}
		if err := send(c, req); err != nil {
			fmt.Fprintln(c.App.ErrWriter, err)
		}
	}
}

func promptAction(userID string) (*service.ActionRequest, error) {
	actionPrompt := promptui.Select{
		Label: "select action",
		Items: interactiveActions,
	}
	_, action, err := actionPrompt.Run()
	if err != nil {
		return nil, err
	}

	req := &service.ActionRequest{
		Action: action,
		UserID: userID,
	}
	switch action {
	case service.ActionGetQualityConfig:
		req.SubscriptionTier, err = promptTier()
	case service.ActionValidateStreamAccess:
		if req.SubscriptionTier, err = promptTier(); err != nil {
			return nil, err
		}
		if req.RequestedQuality, err = promptLevel("requested quality"); err != nil {
			return nil, err
		}
		req.StreamID, err = promptText("stream id")
	case service.ActionUpdateViewerMetrics:
		if req.StreamID, err = promptText("stream id"); err != nil {
			return nil, err
		}
		req.Metrics, err = promptMetrics()
	case service.ActionOptimizeQuality:
		if req.StreamID, err = promptText("stream id"); err != nil {
			return nil, err
		}
		req.CurrentMetrics, err = promptMetrics()
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

func promptTier() (quality.Tier, error) {
	p := promptui.Select{
		Label: "subscription tier",
		Items: quality.Tiers(),
	}
	_, tier, err := p.Run()
	return quality.Tier(tier), err
}

func promptLevel(label string) (quality.Level, error) {
	p := promptui.Select{
		Label: label,
		Items: quality.PolicyFor(quality.TierPlatinum).AllowedQualities,
	}
	_, level, err := p.Run()
	return quality.Level(level), err
}

func promptMetrics() (*service.MetricsReport, error) {
	bufferRatio, err := promptFloat("buffer ratio (0-1)")
	if err != nil {
		return nil, err
	}
	startupTime, err := promptFloat("startup time (ms)")
	if err != nil {
		return nil, err
	}
	rebuffers, err := promptInt("rebuffer count")
	if err != nil {
		return nil, err
	}
	switches, err := promptInt("quality switches")
	if err != nil {
		return nil, err
	}
	current, err := promptLevel("current quality")
	if err != nil {
		return nil, err
	}
	return &service.MetricsReport{
		BufferRatio:     &bufferRatio,
		StartupTime:     &startupTime,
		RebufferCount:   &rebuffers,
		QualitySwitches: &switches,
		CurrentQuality:  current,
	}, nil
}

func promptText(label string) (string, error) {
	p := promptui.Prompt{
		Label: label,
		Validate: func(s string) error {
			if s == "" {
				return errors.New("required")
			}
			return nil
		},
	}
	return p.Run()
}

func promptFloat(label string) (float64, error) {
	p := promptui.Prompt{
		Label: label,
		Validate: func(s string) error {
			_, err := strconv.ParseFloat(s, 64)
			return err
		},
	}
	s, err := p.Run()
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(s, 64)
}

func promptInt(label string) (int, error) {
	p := promptui.Prompt{
		Label: label,
		Validate: func(s string) error {
			_, err := strconv.Atoi(s)
			return err
		},
	}
	s, err := p.Run()
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(s)
}
