// Command shorts generates short-form videos on demand, on a schedule, or
// behind an HTTP API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/urfave/cli/v3"

	"shorts-pipeline/events"
	"shorts-pipeline/scheduler"
	"shorts-pipeline/server"
	"shorts-pipeline/types"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	common := []cli.Flag{
		&cli.StringFlag{Name: "config", Usage: "YAML config file", Value: "config.yaml"},
		&cli.StringFlag{Name: "env", Usage: "dotenv file with credentials", Value: ".env"},
		&cli.BoolFlag{Name: "json", Usage: "JSON log output"},
	}
	jobFlags := []cli.Flag{
		&cli.StringFlag{Name: "topic", Usage: "topic; empty picks a trending story"},
		&cli.StringFlag{Name: "category", Usage: "Standard or Top5", Value: types.CategoryStandard},
		&cli.FloatFlag{Name: "duration", Usage: "requested length in seconds", Value: 30},
		&cli.StringFlag{Name: "ratio", Usage: "aspect ratio", Value: types.Ratio9x16},
		&cli.StringFlag{Name: "language", Value: "en"},
		&cli.StringFlag{Name: "country", Value: "US"},
		&cli.StringFlag{Name: "owner", Usage: "owner id", Value: "local"},
		&cli.BoolFlag{Name: "publish", Usage: "upload to YouTube when done"},
	}

	app := &cli.Command{
		Name:  "shorts",
		Usage: "short-form video generation pipeline",
		Flags: common,
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "generate one video now",
				Flags: append(append([]cli.Flag{}, jobFlags...),
					&cli.StringFlag{Name: "voice", Usage: "voice id override"},
					&cli.StringFlag{Name: "music", Usage: "music search term"},
					&cli.StringFlag{Name: "publish-at", Usage: "RFC3339 time to schedule the upload"},
				),
				Action: runAction,
			},
			{
				Name:   "serve",
				Usage:  "run the HTTP API, the job worker and the scheduler",
				Action: serveAction,
			},
			{
				Name:  "schedule",
				Usage: "manage recurring generation",
				Commands: []*cli.Command{
					{
						Name:   "add",
						Usage:  "create a schedule entry",
						Flags:  append(append([]cli.Flag{}, jobFlags...), scheduleFlags()...),
						Action: scheduleAddAction,
					},
					{
						Name:  "next",
						Usage: "print upcoming runs of a recurrence without saving it",
						Flags: append(scheduleFlags(),
							&cli.IntFlag{Name: "count", Value: 5},
						),
						Action: scheduleNextAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatalf("%+v", err)
	}
}

func scheduleFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "recurrence", Usage: "daily, weekly or monthly", Required: true},
		&cli.StringFlag{Name: "at", Usage: "local time of day, HH:MM", Required: true},
		&cli.StringFlag{Name: "timezone", Value: "UTC"},
		&cli.StringFlag{Name: "start", Usage: "first date, YYYY-MM-DD"},
		&cli.StringFlag{Name: "end", Usage: "last date, YYYY-MM-DD"},
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	req := server.JobRequest{
		OwnerID:         cmd.String("owner"),
		Category:        cmd.String("category"),
		DurationSeconds: cmd.Float("duration"),
		AspectRatio:     cmd.String("ratio"),
		Language:        cmd.String("language"),
		Country:         cmd.String("country"),
		Topic:           cmd.String("topic"),
		VoiceID:         cmd.String("voice"),
		MusicTerm:       cmd.String("music"),
		Publish:         cmd.Bool("publish"),
	}
	if s := cmd.String("publish-at"); s != "" {
		at, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return errors.Wrap(err, "--publish-at")
		}
		req.PublishAt = &at
	}
	if err := req.Validate(); err != nil {
		return err
	}

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	job := req.Job(time.Now())
	stop, done := printEvents(a.events.Open(job.ID))
	res, err := a.pipeline.Run(ctx, job)
	stop()
	<-done
	if err != nil {
		return err
	}
	return printJSON(res)
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	go a.queue.Start(ctx, a.cfg.Queue.PollInterval)
	go a.sched.Run(ctx)

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           server.New(a.queue, a.store, a.sched, a.events).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.log.Infow("listening", "addr", srv.Addr, "queue", a.cfg.Queue.Backend, "store", a.cfg.Store.Backend)
	return serveHTTP(ctx, srv)
}

func scheduleEntry(cmd *cli.Command) *types.ScheduleEntry {
	return &types.ScheduleEntry{
		OwnerID:         cmd.String("owner"),
		Recurrence:      cmd.String("recurrence"),
		TimeOfDay:       cmd.String("at"),
		Timezone:        cmd.String("timezone"),
		StartDate:       cmd.String("start"),
		EndDate:         cmd.String("end"),
		Category:        cmd.String("category"),
		DurationSeconds: cmd.Float("duration"),
		AspectRatio:     cmd.String("ratio"),
		Language:        cmd.String("language"),
		Country:         cmd.String("country"),
		Topic:           cmd.String("topic"),
		Publish:         cmd.Bool("publish"),
	}
}

func scheduleAddAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	entry := scheduleEntry(cmd)
	if err := a.sched.Create(ctx, entry); err != nil {
		return err
	}
	return printJSON(entry)
}

func scheduleNextAction(_ context.Context, cmd *cli.Command) error {
	entry := scheduleEntry(cmd)
	now := time.Now()
	if err := scheduler.PinStart(entry, now); err != nil {
		return err
	}
	next, err := scheduler.ComputeNextRun(entry, now)
	if err != nil {
		return err
	}
	entry.NextRun = next
	entry.Active = true
	for i := 0; i < int(cmd.Int("count")) && entry.Active; i++ {
		fmt.Println(entry.NextRun.Format(time.RFC3339))
		if err := scheduler.Advance(entry, now); err != nil {
			return err
		}
	}
	return nil
}

// printEvents writes each phase event to stderr as one JSON line. The
// returned channel closes once every received event is written.
func printEvents(stream *events.Stream) (func(), <-chan struct{}) {
	done := make(chan struct{})
	ch, stop := stream.Subscribe()
	go func() {
		defer close(done)
		enc := json.NewEncoder(os.Stderr)
		for ev := range ch {
			ev.History = nil
			_ = enc.Encode(ev)
		}
	}()
	return stop, done
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
