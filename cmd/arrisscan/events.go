package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"arrismon/internal/export"
	"arrismon/internal/scrape"
	logx "arrismon/pkg/logx"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "scrape the event log, optionally export new entries to Loki",
	RunE:  doEvents,
}

var (
	flagEventsJSON bool
	flagSnapshot   string
	flagDelta      bool
	flagLokiURL    string
	flagLokiJob    string
	flagLokiSource string
)

func init() {
	fl := eventsCmd.Flags()
	fl.BoolVar(&flagEventsJSON, "json", false, "print the events as JSON on stdout")
	fl.StringVar(&flagSnapshot, "snapshot", envDefault("ARRIS_EVENTS_SNAPSHOT", "arris_snapshot.json"), "path to the snapshot file")
	fl.BoolVar(&flagDelta, "delta", envBool("ARRIS_EVENTS_DELTA", true), "return only events newer than the snapshot")
	fl.StringVar(&flagLokiURL, "loki-url", envDefault("ARRIS_EVENTS_LOKI_URL", ""), "Loki export URL")
	fl.StringVar(&flagLokiJob, "loki-job", envDefault("ARRIS_EVENTS_LOKI_JOB", export.DefaultLokiJob), "Loki job label")
	fl.StringVar(&flagLokiSource, "loki-source", envDefault("ARRIS_EVENTS_LOKI_SOURCE", export.DefaultLokiSource), "Loki source label")
}

func doEvents(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	client, err := newModemClient()
	if err != nil {
		return err
	}
	events, err := client.Events(ctx)
	if err != nil {
		return err
	}

	out := events
	if len(events) > 0 {
		if flagDelta {
			snap, err := scrape.LoadSnapshot(flagSnapshot)
			if err != nil {
				log.Warn("snapshot unreadable, treating every event as new", logx.Err(err))
			}
			out = scrape.NewEvents(events, snap)
		}
		if err := scrape.SaveSnapshot(flagSnapshot, events); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
	}
	log.Info("events scraped", logx.Int("total", len(events)), logx.Int("new", len(out)))

	if flagEventsJSON {
		if err := printJSON(out); err != nil {
			return err
		}
	}

	if flagLokiURL != "" {
		loki := export.NewLoki(export.LokiConfig{
			URL:    flagLokiURL,
			Job:    flagLokiJob,
			Source: flagLokiSource,
		}, log.Named("loki"))
		if err := loki.Push(ctx, out); err != nil {
			return err
		}
		fmt.Printf("Exported %d to Loki\n", len(out))
	}
	return nil
}
