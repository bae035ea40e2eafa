package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"arrismon/internal/export"
	"arrismon/internal/speedtest"
	logx "arrismon/pkg/logx"
)

var speedtestCmd = &cobra.Command{
	Use:   "speedtest",
	Short: "run a speedtest, optionally export the result to InfluxDB",
	RunE:  doSpeedtest,
}

var (
	flagSpeedtestJSON bool
	flagSpeedtestPath string
	speedtestInflux   influxFlags
)

func init() {
	fl := speedtestCmd.Flags()
	fl.BoolVar(&flagSpeedtestJSON, "json", false, "print the result as JSON on stdout")
	fl.StringVar(&flagSpeedtestPath, "speedtest-path", envDefault("ARRIS_SPEEDTEST_PATH", ""), "path to the Ookla speedtest binary (empty = built-in engine)")
	speedtestInflux.register(speedtestCmd, "ARRIS_SPEEDTEST_INFLUX")
}

func doSpeedtest(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	var (
		res *speedtest.Result
		err error
	)
	if flagSpeedtestPath != "" {
		log.Info("running ookla speedtest", logx.String("path", flagSpeedtestPath))
		res, err = speedtest.RunOokla(ctx, flagSpeedtestPath)
	} else {
		log.Info("running built-in speedtest")
		res, err = speedtest.RunNative(ctx, speedtest.NativeConfig{})
	}
	if err != nil {
		// The CLI printed something that is not a measurement (a log
		// line, a license prompt). Nothing to export, nothing broken.
		if errors.Is(err, speedtest.ErrNoResult) {
			log.Warn("speedtest finished without a result", logx.Err(err))
			return nil
		}
		return err
	}
	log.Info("speedtest finished",
		logx.Float64("download_mbps", res.DownloadMbps()),
		logx.Float64("upload_mbps", res.UploadMbps()),
		logx.Float64("ping_ms", res.PingMs),
	)

	if flagSpeedtestJSON {
		if err := printJSON(res); err != nil {
			return err
		}
	}

	inf, err := export.NewInflux(speedtestInflux.config(), log.Named("influx"))
	if err != nil {
		return err
	}
	if inf != nil {
		defer inf.Close()
		if err := inf.WriteSpeedtest(ctx, res); err != nil {
			return err
		}
		fmt.Println("Exported speedtest to InfluxDB")
	}
	return nil
}
