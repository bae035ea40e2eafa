package speedtest

import "time"

// Result is a single speedtest measurement, from either the Ookla CLI or the
// built-in engine.
//
// JSON tags are the CLI's --json output format; keep them stable.
type Result struct {
	Timestamp time.Time `json:"timestamp"`

	PingMs        float64 `json:"ping_ms"`
	JitterMs      float64 `json:"jitter_ms"`
	PacketLossPct float64 `json:"packet_loss_pct"`

	// Bandwidth as the Ookla CLI reports it: bytes per second.
	DownloadBandwidth float64 `json:"download_bandwidth"`
	DownloadBytes     int64   `json:"download_bytes"`
	DownloadElapsedMs float64 `json:"download_elapsed_ms"`
	DownloadIQMMs     float64 `json:"download_iqm_ms"`
	UploadBandwidth   float64 `json:"upload_bandwidth"`
	UploadBytes       int64   `json:"upload_bytes"`
	UploadElapsedMs   float64 `json:"upload_elapsed_ms"`
	UploadIQMMs       float64 `json:"upload_iqm_ms"`

	ISP            string `json:"isp"`
	ServerID       int    `json:"server_id"`
	ServerName     string `json:"server_name"`
	ServerLocation string `json:"server_location"`

	// Only the Ookla CLI produces these.
	ResultID  string `json:"result_id,omitempty"`
	ResultURL string `json:"result_url,omitempty"`
}

// DownloadMbps converts the raw bandwidth to megabits per second.
func (r *Result) DownloadMbps() float64 { return r.DownloadBandwidth * 8 / 1e6 }

// UploadMbps converts the raw bandwidth to megabits per second.
func (r *Result) UploadMbps() float64 { return r.UploadBandwidth * 8 / 1e6 }
