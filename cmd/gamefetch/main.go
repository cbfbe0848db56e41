package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/game_downloader/internal/downloader"
	"github.com/italolelis/game_downloader/internal/logctx"
	"github.com/italolelis/game_downloader/internal/transfer"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.App{
		Name:      "gamefetch",
		Usage:     "download one file with pause and resume support",
		ArgsUsage: "URL",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "destination file, defaults to the URL's file name",
			},
			&cli.BoolFlag{
				Name:  "resume",
				Usage: "continue from an existing partial file",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Value: time.Second,
				Usage: "how often progress is printed",
			},
			&cli.StringFlag{
				Name:  "user-agent",
				Value: "game-downloader/1.0",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "log debug output to stderr",
			},
		},
		Action: fetch,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func fetch(c *cli.Context) error {
	rawURL := c.Args().First()
	if rawURL == "" {
		return errors.New("missing URL")
	}

	dest := c.String("output")
	if dest == "" {
		u, err := url.Parse(rawURL)
		if err != nil {
			return fmt.Errorf("parsing url: %w", err)
		}

		dest = path.Base(u.Path)
		if dest == "." || dest == "/" {
			return errors.New("cannot derive a file name from the URL, use --output")
		}
	}

	level := slog.LevelWarn
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	ctx := logctx.WithLogger(c.Context, logger)

	updates := make(chan downloader.Snapshot, 1)
	sink := func(s downloader.Snapshot) {
		// Keep only the latest snapshot; progress lines are sampled anyway.
		select {
		case <-updates:
		default:
		}
		updates <- s
	}

	manager := downloader.NewManager(ctx, transfer.NewHTTPClient(transfer.ClientConfig{
		DialTimeout:           30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}), sink, nil, downloader.Settings{
		ProgressInterval: c.Duration("interval"),
		UserAgent:        c.String("user-agent"),
	})

	req := downloader.Request{Name: path.Base(dest), URL: rawURL, DestPath: dest}

	var (
		id  string
		err error
	)

	if c.Bool("resume") {
		if id, err = manager.Restore(req); err == nil {
			manager.Resume(id)
		}
	} else {
		id, err = manager.Start(req)
	}

	if err != nil {
		return err
	}

	final, err := wait(ctx, manager, id, updates)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if serr := manager.Shutdown(shutdownCtx); serr != nil {
		logger.Error("failed to stop download manager", "err", serr)
	}

	if err != nil {
		snap, _ := manager.Get(id)
		fmt.Fprintf(os.Stderr, "\npaused at %s, rerun with --resume to continue\n", humanize.Bytes(uint64(snap.Transferred)))

		return nil
	}

	switch final.Status {
	case downloader.StatusCompleted:
		fmt.Printf("\ndownloaded %s to %s\n", humanize.Bytes(uint64(final.Transferred)), final.DestPath)

		return nil
	default:
		return fmt.Errorf("download %s: %s", final.Status, final.Error)
	}
}

// wait prints progress until the download is terminal. It returns ctx's
// error when interrupted, leaving the download running for Shutdown to pause.
func wait(ctx context.Context, m *downloader.Manager, id string, updates <-chan downloader.Snapshot) (downloader.Snapshot, error) {
	for {
		select {
		case <-ctx.Done():
			return downloader.Snapshot{}, ctx.Err()
		case s := <-updates:
			if s.ID != id {
				continue
			}

			printProgress(s)

			if s.Status.Terminal() {
				return s, nil
			}
		}
	}
}

func printProgress(s downloader.Snapshot) {
	if s.Total > 0 {
		fmt.Printf("\r%3d%%  %s / %s  %s/s  eta %s    ",
			s.Percent,
			humanize.Bytes(uint64(s.Transferred)),
			humanize.Bytes(uint64(s.Total)),
			humanize.Bytes(uint64(s.Speed)),
			time.Duration(s.ETA*float64(time.Second)).Round(time.Second),
		)

		return
	}

	fmt.Printf("\r%s  %s/s    ", humanize.Bytes(uint64(s.Transferred)), humanize.Bytes(uint64(s.Speed)))
}
