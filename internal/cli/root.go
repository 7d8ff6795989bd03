// Package cli implements the mediaflow command-line interface. Commands share
// the server's configuration and database, but run jobs in the foreground.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/vrsandeep/mediaflow/internal/core"
	"github.com/vrsandeep/mediaflow/internal/models"
)

// Opener builds the application for one command invocation.
type Opener func(deps core.Deps) (*core.App, error)

type env struct {
	open Opener
	out  io.Writer
}

// NewRootCommand returns the mediaflow command tree. open is usually core.Open.
func NewRootCommand(open Opener, out io.Writer) *cobra.Command {
	e := &env{open: open, out: out}
	root := &cobra.Command{
		Use:           "mediaflow",
		Short:         "Download, transcode and follow online media",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.SetOut(out)

	root.AddCommand(
		e.downloadCommand(),
		e.transcodeCommand(),
		e.sourcesCommand(),
		e.versionCheckCommand(),
	)
	return root
}

// Execute runs the CLI against the real configuration.
func Execute(ctx context.Context) error {
	return NewRootCommand(core.Open, os.Stdout).ExecuteContext(ctx)
}

func (e *env) app(progress models.ProgressSink) (*core.App, error) {
	app, err := e.open(core.Deps{Progress: progress})
	if err != nil {
		return nil, fmt.Errorf("failed to set up application: %w", err)
	}
	return app, nil
}
