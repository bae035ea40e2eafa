package speedtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrNoResult is returned when the Ookla CLI ran fine but emitted something
// other than a final result document (interrupted run, license prompt, ...).
var ErrNoResult = errors.New("speedtest produced no result")

// RunOokla executes the Ookla speedtest CLI at path and parses its JSON
// output. The subprocess is bound to ctx: cancelling ctx kills it.
func RunOokla(ctx context.Context, path string) (*Result, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("speedtest binary path is empty")
	}

	cmd := exec.CommandContext(ctx, path, "--accept-license", "--accept-gdpr", "-f", "json")
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%s: %w: %s", path, err, firstLine(exitErr.Stderr))
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return parseOokla(out)
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

type ooklaLeg struct {
	Bandwidth float64 `json:"bandwidth"`
	Bytes     int64   `json:"bytes"`
	Elapsed   float64 `json:"elapsed"`
	Latency   struct {
		IQM float64 `json:"iqm"`
	} `json:"latency"`
}

type ooklaPayload struct {
	Type       string  `json:"type"`
	Timestamp  string  `json:"timestamp"`
	PacketLoss float64 `json:"packetLoss"`
	Ping       struct {
		Latency float64 `json:"latency"`
		Jitter  float64 `json:"jitter"`
	} `json:"ping"`
	Download ooklaLeg `json:"download"`
	Upload   ooklaLeg `json:"upload"`
	ISP      string   `json:"isp"`
	Server   struct {
		ID       int    `json:"id"`
		Name     string `json:"name"`
		Location string `json:"location"`
	} `json:"server"`
	Result struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	} `json:"result"`
}

func parseOokla(data []byte) (*Result, error) {
	var p ooklaPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode speedtest output: %w", err)
	}
	if p.Type != "result" {
		return nil, fmt.Errorf("%w (type %q)", ErrNoResult, p.Type)
	}

	ts, err := time.Parse(time.RFC3339, p.Timestamp)
	if err != nil {
		ts = time.Now().UTC()
	}

	return &Result{
		Timestamp:         ts,
		PingMs:            p.Ping.Latency,
		JitterMs:          p.Ping.Jitter,
		PacketLossPct:     p.PacketLoss,
		DownloadBandwidth: p.Download.Bandwidth,
		DownloadBytes:     p.Download.Bytes,
		DownloadElapsedMs: p.Download.Elapsed,
		DownloadIQMMs:     p.Download.Latency.IQM,
		UploadBandwidth:   p.Upload.Bandwidth,
		UploadBytes:       p.Upload.Bytes,
		UploadElapsedMs:   p.Upload.Elapsed,
		UploadIQMMs:       p.Upload.Latency.IQM,
		ISP:               p.ISP,
		ServerID:          p.Server.ID,
		ServerName:        p.Server.Name,
		ServerLocation:    p.Server.Location,
		ResultID:          p.Result.ID,
		ResultURL:         p.Result.URL,
	}, nil
}
