package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/vrsandeep/mediaflow/internal/launcher"
)

func (e *env) versionCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version-check",
		Short: "Show which external tools are used and their versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := e.app(nil)
			if err != nil {
				return err
			}
			defer app.Close()

			bins := app.Config().Binaries
			t := table.NewWriter()
			t.SetOutputMirror(e.out)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Tool", "Path", "Packaged", "Version", "Status"})

			var failed bool
			for _, name := range []string{bins.Downloader, bins.Transcoder, bins.Prober} {
				b, err := app.Resolver().Resolve(name)
				if err != nil {
					failed = true
					t.AppendRow(table.Row{name, "", false, "", err.Error()})
					continue
				}
				var v string
				if name == bins.Downloader {
					v, err = launcher.CheckMinVersion(cmd.Context(), b, bins.MinDownloaderVersion)
				} else {
					v, err = launcher.Version(cmd.Context(), b)
				}
				status := "ok"
				if err != nil {
					failed = true
					status = err.Error()
				}
				t.AppendRow(table.Row{name, b.Path, b.Packaged, v, status})
			}
			t.Render()
			if failed {
				return fmt.Errorf("some tools are missing or unsupported")
			}
			return nil
		},
	}
}
