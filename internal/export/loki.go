// Package export ships scraped modem data to external sinks: events to Loki,
// status and speedtest measurements to InfluxDB.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"arrismon/internal/scrape"
	logx "arrismon/pkg/logx"
)

// Loki label defaults.
const (
	DefaultLokiJob    = "arris-scraper"
	DefaultLokiSource = "arris-modem"
)

// LokiConfig locates a Loki instance and names the stream labels.
type LokiConfig struct {
	URL    string
	Job    string
	Source string
}

// Loki pushes modem events to a Loki instance as a single labelled stream.
type Loki struct {
	url    string
	job    string
	source string
	http   *http.Client
	limit  *rate.Limiter
	log    logx.Logger
}

// NewLoki builds a pusher for cfg. Empty labels fall back to the defaults.
func NewLoki(cfg LokiConfig, log logx.Logger) *Loki {
	job := cfg.Job
	if job == "" {
		job = DefaultLokiJob
	}
	source := cfg.Source
	if source == "" {
		source = DefaultLokiSource
	}
	return &Loki{
		url:    strings.TrimRight(cfg.URL, "/"),
		job:    job,
		source: source,
		http:   &http.Client{Timeout: 10 * time.Second},
		limit:  rate.NewLimiter(rate.Limit(2), 1),
		log:    log.Named("loki"),
	}
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

type lokiPayload struct {
	Streams []lokiStream `json:"streams"`
}

// Push sends events as one stream, each line formatted "<level>: <description>"
// and timestamped with nanosecond epoch.
func (l *Loki) Push(ctx context.Context, events []scrape.Event) error {
	if len(events) == 0 {
		return nil
	}

	values := make([][2]string, 0, len(events))
	for _, ev := range events {
		ts := strconv.FormatInt(ev.Timestamp.UnixNano(), 10)
		values = append(values, [2]string{ts, fmt.Sprintf("%d: %s", ev.Level, ev.Description)})
	}
	payload := lokiPayload{Streams: []lokiStream{{
		Stream: map[string]string{"job": l.job, "source": l.source},
		Values: values,
	}}}

	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if err := l.limit.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url+"/loki/api/v1/push", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Loki answers 204 on success. 400 means the entries predate retention,
	// which the modem's epoch-dated rows legitimately can; count it as pushed.
	if resp.StatusCode != http.StatusBadRequest && resp.StatusCode/100 != 2 {
		return fmt.Errorf("loki push: unexpected status %s", resp.Status)
	}

	l.log.Debug("events pushed", logx.Int("count", len(values)))
	return nil
}
