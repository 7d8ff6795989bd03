package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vrsandeep/mediaflow/internal/args"
	"github.com/vrsandeep/mediaflow/internal/job"
	"github.com/vrsandeep/mediaflow/internal/models"
)

// progressPrinter writes one line per progress update.
type progressPrinter struct {
	mu   sync.Mutex
	out  io.Writer
	last models.ProgressUpdate
}

func (p *progressPrinter) Progress(u models.ProgressUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if u == p.last {
		return
	}
	p.last = u
	if u.Status.IsTerminal() {
		fmt.Fprintf(p.out, "%s: %s\n", u.Status, u.Message)
		return
	}
	line := fmt.Sprintf("[%5.1f%%]", u.Percent)
	if u.ItemCount > 1 {
		line += fmt.Sprintf(" item %d/%d", u.ItemIndex, u.ItemCount)
	}
	if u.SizeBytes > 0 {
		line += " " + units.HumanSize(float64(u.SizeBytes))
	}
	if u.Speed != "" {
		line += " at " + u.Speed
	}
	if u.ETA != "" {
		line += " ETA " + u.ETA
	}
	if u.Title != "" {
		line += " " + u.Title
	}
	fmt.Fprintln(p.out, line)
}

func printOutcome(w io.Writer, o models.JobOutcome) {
	fmt.Fprintf(w, "job %s %s\n", o.JobID, o.Status)
	for _, p := range o.ArtifactPaths {
		fmt.Fprintf(w, "  %s\n", p)
	}
	if o.SizeBytes > 0 {
		fmt.Fprintf(w, "  size: %s\n", units.HumanSize(float64(o.SizeBytes)))
	}
	if o.ErrorMessage != "" {
		fmt.Fprintf(w, "  error (%s): %s\n", o.ErrorKind, o.ErrorMessage)
	}
}

// runJob runs req in the foreground. SIGINT cancels the job; the outcome is
// still printed and recorded.
func (e *env) runJob(ctx context.Context, req models.JobRequest) error {
	printer := &progressPrinter{out: e.out}
	app, err := e.app(printer)
	if err != nil {
		return err
	}
	defer app.Close()

	cfg := app.Config()
	if req.Kind == models.JobKindDownload {
		if req.OutputDir == "" {
			req.OutputDir = cfg.Download.Dir
		}
		if req.OutputTemplate == "" {
			req.OutputTemplate = cfg.Download.OutputTemplate
		}
		if _, err := args.BuildDownload(req, args.NetworkPolicy{}); err != nil {
			return err
		}
	} else if _, err := args.BuildTranscode(req); err != nil {
		return err
	}
	req.ID = uuid.NewString()

	token := job.NewCancelToken()
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		token.Cancel()
	}()

	outcome := app.Controller().Run(ctx, req, token)
	printOutcome(e.out, outcome)
	if outcome.Status != models.JobStatusFinished {
		return fmt.Errorf("job %s", outcome.Status)
	}
	return nil
}

func (e *env) downloadCommand() *cobra.Command {
	var req models.JobRequest
	var subs string
	cmd := &cobra.Command{
		Use:   "download URL",
		Short: "Download a video, audio track or playlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			req.Kind = models.JobKindDownload
			req.Locator = argv[0]
			req.Subtitles = models.SubtitleMode(subs)
			return e.runJob(cmd.Context(), req)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&req.Quality, "quality", "q", "best", `"best", "audio" or a maximum height such as 720`)
	f.StringVarP(&req.Format, "format", "f", "", "container or audio format")
	f.StringVar(&req.Codec, "codec", "", "preferred video codec")
	f.StringVar(&subs, "subs", string(models.SubtitlesNone), "subtitles: none, embed, separate or auto")
	f.StringSliceVar(&req.SubtitleLangs, "sub-langs", nil, "subtitle languages")
	f.BoolVar(&req.Playlist, "playlist", false, "download the whole playlist")
	f.IntVar(&req.PlaylistStart, "playlist-start", 0, "first playlist item (1-based)")
	f.IntVar(&req.PlaylistEnd, "playlist-end", 0, "last playlist item")
	f.StringVarP(&req.OutputDir, "output-dir", "o", "", "output directory (default from config)")
	f.StringVar(&req.OutputTemplate, "template", "", "output file name template")
	return cmd
}

func (e *env) transcodeCommand() *cobra.Command {
	var req models.JobRequest
	cmd := &cobra.Command{
		Use:   "transcode FILE",
		Short: "Convert a local media file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			req.Kind = models.JobKindTranscode
			req.Locator = argv[0]
			return e.runJob(cmd.Context(), req)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&req.Format, "format", "f", "mp4", "target container or audio format")
	f.StringVar(&req.Codec, "codec", "", "target video codec")
	f.StringVarP(&req.Output, "output", "o", "", "output path (default: <name>-transcoded.<ext> next to the input)")
	return cmd
}
