package commands

import (
	"bytes"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v2"

	"github.com/livekit/quality-manager/cmd/cli/client"
)

var (
	hostFlag = &cli.StringFlag{
		Name:    "host",
		Value:   "http://localhost:8080",
		EnvVars: []string{"QUALITY_HOST"},
	}
	userFlag = &cli.StringFlag{
		Name:     "user",
		Usage:    "user id",
		Required: true,
	}
	tierFlag = &cli.StringFlag{
		Name:  "tier",
		Usage: "subscription tier claimed by the caller",
	}
	streamFlag = &cli.StringFlag{
		Name:     "stream",
		Usage:    "stream id",
		Required: true,
	}
)

// PrintResult writes the status line and the indented body.
func PrintResult(w io.Writer, res *client.Result) error {
	var out bytes.Buffer
	if err := json.Indent(&out, res.Body, "", "  "); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d\n%s\n", res.StatusCode, out.String())
	return err
}
