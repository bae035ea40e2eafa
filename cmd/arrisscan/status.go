package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"arrismon/internal/export"
	logx "arrismon/pkg/logx"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "scrape channel diagnostics, optionally export to InfluxDB",
	RunE:  doStatus,
}

var (
	flagStatusJSON bool
	statusInflux   influxFlags
)

func init() {
	statusCmd.Flags().BoolVar(&flagStatusJSON, "json", false, "print the status as JSON on stdout")
	statusInflux.register(statusCmd, "ARRIS_STATUS_INFLUX")
}

func doStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	client, err := newModemClient()
	if err != nil {
		return err
	}
	status, err := client.Status(ctx)
	if err != nil {
		return err
	}
	log.Info("status scraped",
		logx.Int("us_channels", len(status.US)),
		logx.Int("ds_channels", len(status.DS)),
		logx.Int("ofdm_streams", len(status.DSOFDM)),
	)

	if flagStatusJSON {
		if err := printJSON(status); err != nil {
			return err
		}
	}

	inf, err := export.NewInflux(statusInflux.config(), log.Named("influx"))
	if err != nil {
		return err
	}
	if inf != nil {
		defer inf.Close()
		if err := inf.WriteStatus(ctx, status); err != nil {
			return err
		}
		fmt.Println("Exported status to InfluxDB")
	}
	return nil
}
