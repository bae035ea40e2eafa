package export

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"arrismon/internal/scrape"
	"arrismon/internal/speedtest"
	logx "arrismon/pkg/logx"
)

// InfluxConfig locates an InfluxDB v2 endpoint. A set URL makes the other
// three fields mandatory.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Enabled reports whether an endpoint is configured at all.
func (c InfluxConfig) Enabled() bool { return c.URL != "" }

// Validate enforces the all-or-nothing rule on the endpoint fields.
func (c InfluxConfig) Validate() error {
	if c.URL == "" {
		return nil
	}
	var missing []string
	if c.Token == "" {
		missing = append(missing, "token")
	}
	if c.Org == "" {
		missing = append(missing, "org")
	}
	if c.Bucket == "" {
		missing = append(missing, "bucket")
	}
	if len(missing) > 0 {
		return fmt.Errorf("influx url requires: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Influx writes channel status and speedtest measurements to InfluxDB v2
// through the blocking write API.
type Influx struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	log    logx.Logger
}

// NewInflux validates cfg and opens a client. A config without a URL yields
// (nil, nil) so callers can treat export as optional.
func NewInflux(cfg InfluxConfig, log logx.Logger) (*Influx, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled() {
		return nil, nil
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Influx{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:    log.Named("influx"),
	}, nil
}

// Close releases the underlying client.
func (i *Influx) Close() { i.client.Close() }

// WriteStatus writes one point per upstream and downstream channel. All
// points of one export share a single timestamp so they graph as one sample.
func (i *Influx) WriteStatus(ctx context.Context, status *scrape.Status) error {
	ts := time.Now().UTC()

	for _, ch := range status.US {
		p := influxdb2.NewPointWithMeasurement("arris_us_channel").
			AddTag("ucid", strconv.Itoa(ch.UCID)).
			AddTag("channel_type", ch.ChannelType).
			AddTag("modulation", ch.Modulation).
			AddField("freq_mhz", ch.FreqMHz).
			AddField("power_dbmv", ch.PowerDBmV).
			AddField("symbol_rate_ksym", ch.SymbolRateKSym).
			SetTime(ts)
		if err := i.write.WritePoint(ctx, p); err != nil {
			return fmt.Errorf("write us channel %d: %w", ch.UCID, err)
		}
	}

	for _, ch := range status.DS {
		p := influxdb2.NewPointWithMeasurement("arris_ds_channel").
			AddTag("dcid", strconv.Itoa(ch.DCID)).
			AddTag("modulation", ch.Modulation).
			AddField("freq_mhz", ch.FreqMHz).
			AddField("power_dbmv", ch.PowerDBmV).
			AddField("snr_db", ch.SNRdB).
			AddField("octets", ch.Octets).
			AddField("corrected", ch.Corrected).
			AddField("uncorrected", ch.Uncorrected).
			SetTime(ts)
		if err := i.write.WritePoint(ctx, p); err != nil {
			return fmt.Errorf("write ds channel %d: %w", ch.DCID, err)
		}
	}

	i.log.Debug("status written",
		logx.Int("us_channels", len(status.US)),
		logx.Int("ds_channels", len(status.DS)))
	return nil
}

// WriteSpeedtest writes a single point for one speedtest run, timestamped
// with the run's own timestamp.
func (i *Influx) WriteSpeedtest(ctx context.Context, res *speedtest.Result) error {
	p := influxdb2.NewPointWithMeasurement("arris_speedtest").
		AddTag("isp", res.ISP).
		AddTag("server_id", strconv.Itoa(res.ServerID)).
		AddTag("server_name", res.ServerName).
		AddTag("server_location", res.ServerLocation).
		AddField("ping_latency_ms", res.PingMs).
		AddField("ping_jitter_ms", res.JitterMs).
		AddField("packet_loss_pct", res.PacketLossPct).
		AddField("download_mbps", res.DownloadMbps()).
		AddField("upload_mbps", res.UploadMbps()).
		AddField("download_bytes", res.DownloadBytes).
		AddField("upload_bytes", res.UploadBytes)
	if res.ResultURL != "" {
		p = p.AddField("result_url", res.ResultURL)
	}
	p = p.SetTime(res.Timestamp)

	if err := i.write.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("write speedtest: %w", err)
	}

	i.log.Debug("speedtest written", logx.Float64("download_mbps", res.DownloadMbps()))
	return nil
}
