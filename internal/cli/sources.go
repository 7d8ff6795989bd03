package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/vrsandeep/mediaflow/internal/args"
	"github.com/vrsandeep/mediaflow/internal/models"
	"github.com/vrsandeep/mediaflow/internal/subscription"
	"github.com/vrsandeep/mediaflow/internal/util"
)

func (e *env) sourcesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage followed channels and playlists",
	}
	cmd.AddCommand(e.sourcesListCommand(), e.sourcesAddCommand(), e.sourcesCheckCommand())
	return cmd
}

func (e *env) sourcesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List followed sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := e.app(nil)
			if err != nil {
				return err
			}
			defer app.Close()

			sources, err := app.Store().GetAllSources()
			if err != nil {
				return fmt.Errorf("failed to list sources: %w", err)
			}
			if len(sources) == 0 {
				fmt.Fprintln(e.out, "No sources followed")
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(e.out)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"ID", "Name", "Locator", "Interval", "Auto", "Last Checked", "Watermark"})
			for _, src := range sources {
				checked := "never"
				if src.LastCheckedAt != nil {
					checked = src.LastCheckedAt.Local().Format(time.DateTime)
				}
				t.AppendRow(table.Row{src.ID, src.Name, src.Locator, src.Interval, src.AutoDownload, checked, src.LastSeenItemID})
			}
			t.Render()
			return nil
		},
	}
}

func (e *env) sourcesAddCommand() *cobra.Command {
	var (
		src      models.FollowedSource
		interval time.Duration
		folder   string
	)
	cmd := &cobra.Command{
		Use:   "add LOCATOR",
		Short: "Follow a channel or playlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			app, err := e.app(nil)
			if err != nil {
				return err
			}
			defer app.Close()

			src.Locator = argv[0]
			if err := args.CheckValue("locator", src.Locator); err != nil {
				return err
			}
			if src.Name == "" {
				src.Name = src.Locator
			}
			src.Interval = interval
			if src.Interval <= 0 {
				src.Interval = app.Config().Polling.DefaultInterval()
			}
			if folder != "" {
				rel, err := util.OutputFolder(app.Config().Download.Dir, folder)
				if err != nil {
					return err
				}
				src.FolderPath = &rel
			}
			if src.Filter.MaxDuration > 0 && src.Filter.MinDuration > src.Filter.MaxDuration {
				return fmt.Errorf("min duration %s exceeds max duration %s", src.Filter.MinDuration, src.Filter.MaxDuration)
			}

			created, err := app.Store().CreateSource(&src)
			if err != nil {
				return fmt.Errorf("failed to add source: %w", err)
			}
			fmt.Fprintf(e.out, "Following %q as source %d\n", created.Name, created.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&src.Name, "name", "", "display name")
	f.DurationVar(&interval, "interval", 0, "check interval (default from config)")
	f.BoolVar(&src.AutoDownload, "auto-download", false, "download new items automatically")
	f.StringVar(&src.Quality, "quality", "", "quality for automatic downloads")
	f.StringVar(&src.Format, "format", "", "format for automatic downloads")
	f.StringVar(&folder, "folder", "", "folder under the download directory")
	f.DurationVar(&src.Filter.MinDuration, "min-duration", 0, "skip items shorter than this")
	f.DurationVar(&src.Filter.MaxDuration, "max-duration", 0, "skip items longer than this")
	f.StringSliceVar(&src.Filter.Include, "include", nil, "keep only titles containing one of these keywords")
	f.StringSliceVar(&src.Filter.Exclude, "exclude", nil, "drop titles containing any of these keywords")
	f.IntVar(&src.Filter.MaxItems, "max-items", 0, "maximum new items per check")
	return cmd
}

func (e *env) sourcesCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check ID",
		Short: "Check a source for new items now",
		Long: `Check a source for new items now. New items are recorded and the
watermark advances, but automatic downloads only run inside the server.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			id, err := strconv.ParseInt(argv[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid source ID %q", argv[0])
			}
			app, err := e.app(nil)
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.Polling().CheckNow(cmd.Context(), id)
			if err != nil {
				return err
			}
			if result.State == subscription.StateNoChange {
				fmt.Fprintln(e.out, "No new items")
				return nil
			}
			fmt.Fprintf(e.out, "%d new items (watermark %s)\n", len(result.NewItems), result.Watermark)
			for _, item := range result.NewItems {
				fmt.Fprintf(e.out, "  %s  %s\n", item.ItemID, item.Title)
			}
			return nil
		},
	}
}
