package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/quality-manager/cmd/cli/commands"
	"github.com/livekit/quality-manager/version"
)

// command line util that exercises a running quality server
func main() {
	app := &cli.App{
		Name:    "quality-cli",
		Usage:   "send quality actions to a quality manager",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "log requests and retries",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("verbose") {
				logger.InitFromConfig(logger.Config{Level: "debug"}, "quality-cli")
			}
			return nil
		},
	}

	app.Commands = append(app.Commands, commands.ActionCommands...)
	app.Commands = append(app.Commands, commands.InteractiveCommands...)

	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
