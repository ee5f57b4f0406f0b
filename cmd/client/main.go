package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"vidstream/internal/client"
	"vidstream/internal/core/domain"
	"vidstream/pkg/config"
	"vidstream/pkg/logger"
	"vidstream/pkg/utils"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	address := flag.String("server", "", "server address, overrides client.server_address")
	video := flag.String("video", "", "id or title of the video to stream")
	list := flag.Bool("list", false, "print the catalog and exit")
	reportEvery := flag.Duration("report-every", 0, "send a spontaneous playback report at this interval")
	flag.Parse()

	if *configPath == "" {
		*configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *address != "" {
		cfg.Client.ServerAddress = *address
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	code := run(cfg, zapLogger.Sugar(), *video, *list, *reportEvery)
	zapLogger.Sync()
	os.Exit(code)
}

func run(cfg *config.Config, log *zap.SugaredLogger, want string, list bool, reportEvery time.Duration) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalogs := make(chan []domain.VideoSummary, 1)
	opts := client.OptionsFromConfig(cfg)
	opts.OnCatalog = func(videos []domain.VideoSummary) {
		select {
		case <-catalogs:
		default:
		}
		catalogs <- videos
	}
	presenter, _ := opts.Presenter.(*client.ClockPresenter)

	c := client.New(opts, log)
	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	var report <-chan time.Time
	if reportEvery > 0 {
		ticker := time.NewTicker(reportEvery)
		defer ticker.Stop()
		report = ticker.C
	}
	progress := time.NewTicker(time.Second)
	defer progress.Stop()

	for {
		select {
		case err := <-runErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Errorw("client stopped", "error", err)
				return 1
			}
			return 0

		case <-ctx.Done():
			c.Close()
			return waitRun(runErr, log)

		case videos := <-catalogs:
			printCatalog(videos)
			if list {
				c.Close()
				return waitRun(runErr, log)
			}
			if want == "" {
				continue
			}
			summary, ok := c.Lookup(want)
			if !ok {
				log.Errorw("video not in catalog", "video", want)
				c.Close()
				waitRun(runErr, log)
				return 1
			}
			if err := c.Select(summary.ID); err != nil {
				log.Warnw("select failed", "video", summary.Title, "error", err)
			}

		case <-report:
			if err := c.ReportPlayback(); err != nil {
				log.Debugw("playback report skipped", "error", err)
			}

		case <-progress.C:
			if c.StreamActive() {
				log.Infow("playing",
					"position", utils.FormatDuration(utils.Seconds(c.CurrentTime())),
					"duration", utils.FormatDuration(utils.Seconds(c.TotalTime())),
					"download_complete", c.DownloadComplete(),
				)
			}
			if presenter != nil && c.DownloadComplete() {
				if p := presenter.Last(); p != nil && p.Finished() {
					log.Info("playback finished")
					c.Close()
					return waitRun(runErr, log)
				}
			}
		}
	}
}

func waitRun(runErr <-chan error, log *zap.SugaredLogger) int {
	select {
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, domain.ErrClientClosed) {
			log.Errorw("client stopped", "error", err)
			return 1
		}
		return 0
	case <-time.After(5 * time.Second):
		log.Warn("client did not stop in time")
		return 1
	}
}

func printCatalog(videos []domain.VideoSummary) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSIZE")
	for _, v := range videos {
		fmt.Fprintf(w, "%s\t%s\t%s\n", v.ID, utils.TruncateString(v.Title, 48), utils.HumanBytes(v.Size))
	}
	w.Flush()
	if len(videos) == 0 {
		fmt.Println("(catalog is empty)")
	}
}
