// arrismond periodically runs the arrisscan CLI against an Arris cable
// modem: status and event scrapes on a short interval, a flock-guarded
// speedtest on a long one. It never parses the scraper's output; exit
// status is the whole contract.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arrismon/internal/app"
)

func main() {
	var (
		cfgPath string
		runs    int
	)
	flag.StringVar(&cfgPath, "config", os.Getenv("ARRIS_CONFIG"), "path to config file (yaml or json; empty = env and defaults)")
	flag.IntVar(&runs, "runs", 0, "print the N most recent scraper runs and exit")
	flag.Parse()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if runs > 0 {
		err := printRuns(a, runs)
		_ = a.Stop(context.Background(), app.StopAppStop)
		if err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
			os.Exit(1)
		}
		return
	}

	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)

	if err := a.Start(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		_ = a.Stop(context.Background(), app.StopFatalError)
		os.Exit(1)
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigc:
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		} else {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		// A loop died underneath us (fail-together).
		reason = app.StopFatalError
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Stop(stopCtx, reason)

	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func printRuns(a *app.App, n int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	recs, err := a.RecentRuns(ctx, n)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("no recorded runs (storage disabled or empty)")
		return nil
	}
	for _, r := range recs {
		line := fmt.Sprintf("%s  %-10s exit=%-3d ok=%-5v took=%dms",
			r.At.Format(time.RFC3339), r.Task, r.ExitCode, r.OK, r.TookMS)
		if r.Error != "" {
			line += "  err=" + r.Error
		}
		fmt.Println(line)
	}
	return nil
}
