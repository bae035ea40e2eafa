// arrisscan scrapes an Arris cable modem's web UI: channel diagnostics,
// the event log (with delta tracking between runs), and a speedtest.
// Results print as JSON on stdout and can be shipped to InfluxDB and
// Loki. arrismond runs this binary on a schedule and reads nothing but
// its exit status.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"arrismon/internal/export"
	"arrismon/internal/scrape"
	logx "arrismon/pkg/logx"
)

var (
	flagModemURL string
	flagTimezone string
	flagUsername string
	flagPassword string
	flagVerbose  bool

	log = logx.Nop()
)

var rootCmd = &cobra.Command{
	Use:           "arrisscan",
	Short:         "Arris modem scraping and export tool",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		level := "info"
		if flagVerbose {
			level = "debug"
		}
		// Stdout carries data; logs go to stderr.
		log = logx.NewConsoleTo(os.Stderr, level)
	},
}

func main() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagModemURL, "modem-url", envDefault("ARRIS_MODEM_URL", "https://192.168.100.1/"), "base URL of the modem")
	pf.StringVar(&flagTimezone, "timezone", envDefault("ARRIS_TIMEZONE", ""), "IANA timezone of the modem clock (empty = host local)")
	pf.StringVar(&flagUsername, "username", envDefault("ARRIS_USERNAME", ""), "modem username (CM3500B)")
	pf.StringVar(&flagPassword, "password", envDefault("ARRIS_PASSWORD", ""), "modem password (CM3500B)")
	pf.BoolVar(&flagVerbose, "verbose", false, "debug logging")

	rootCmd.AddCommand(statusCmd, eventsCmd, speedtestCmd)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "arrisscan:", err)
		os.Exit(1)
	}
}

func newModemClient() (*scrape.Client, error) {
	return scrape.NewClient(scrape.Options{
		BaseURL:  flagModemURL,
		Timezone: flagTimezone,
		Username: flagUsername,
		Password: flagPassword,
	}, log.Named("scrape"))
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func envDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return b
}

// influxFlags is the --influx-* flag set shared by status and speedtest.
// Each command reads its own env prefix so the two exports can target
// different buckets.
type influxFlags struct {
	url, token, org, bucket string
}

func (f *influxFlags) register(cmd *cobra.Command, envPrefix string) {
	fl := cmd.Flags()
	fl.StringVar(&f.url, "influx-url", envDefault(envPrefix+"_URL", ""), "InfluxDB URL")
	fl.StringVar(&f.token, "influx-token", envDefault(envPrefix+"_TOKEN", ""), "InfluxDB token")
	fl.StringVar(&f.org, "influx-org", envDefault(envPrefix+"_ORG", ""), "InfluxDB org")
	fl.StringVar(&f.bucket, "influx-bucket", envDefault(envPrefix+"_BUCKET", ""), "InfluxDB bucket")
}

func (f *influxFlags) config() export.InfluxConfig {
	return export.InfluxConfig{URL: f.url, Token: f.token, Org: f.org, Bucket: f.bucket}
}
