package speedtest

import (
	"context"
	"fmt"
	"math"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"
)

// NativeConfig controls the built-in engine used when no Ookla CLI path is
// configured.
type NativeConfig struct {
	// Candidate servers to consider (sorted by distance, then pinged).
	ServerCount int
	// Number of lowest-latency candidates that get a full download/upload
	// run. Full tests execute sequentially to keep peak memory down.
	FullTestServers int

	MaxConnections  int
	PingConcurrency int

	// PacketLossEnabled toggles packet loss probing (extra network work).
	PacketLossEnabled bool
	PacketLossTimeout time.Duration
}

func (c NativeConfig) withDefaults() NativeConfig {
	if c.ServerCount <= 0 {
		c.ServerCount = 5
	}
	if c.FullTestServers <= 0 {
		c.FullTestServers = 1
	}
	if c.FullTestServers > c.ServerCount {
		c.FullTestServers = c.ServerCount
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 4
	}
	if c.PingConcurrency <= 0 {
		c.PingConcurrency = 4
	}
	if c.PacketLossTimeout <= 0 {
		c.PacketLossTimeout = 3 * time.Second
	}
	return c
}

// RunNative measures bandwidth with the embedded engine. It picks the
// lowest-latency nearby servers, runs download and upload tests against them
// sequentially and averages the outcome.
func RunNative(ctx context.Context, cfg NativeConfig) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	// Avoid package-level speedtest helpers; speedtest-go keeps package
	// state there.
	stc := st.New(st.WithUserConfig(&st.UserConfig{
		MaxConnections: cfg.MaxConnections,
	}))
	stc.SetNThread(cfg.MaxConnections)
	defer func() {
		stc.Snapshots().Clean()
		stc.Reset()
	}()

	user, err := stc.FetchUserInfoContext(runCtx)
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}

	servers, err := stc.FetchServerListContext(runCtx)
	if err != nil {
		return nil, fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("no servers available")
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	if len(servers) > cfg.ServerCount {
		servers = servers[:cfg.ServerCount]
	}

	pinged := pingServers(runCtx, servers, cfg.PingConcurrency)
	if len(pinged) == 0 {
		return nil, fmt.Errorf("all latency tests failed")
	}
	sort.Slice(pinged, func(i, j int) bool { return pinged[i].Latency < pinged[j].Latency })
	if len(pinged) > cfg.FullTestServers {
		pinged = pinged[:cfg.FullTestServers]
	}

	type legResult struct {
		server   *st.Server
		download float64 // Mbps
		upload   float64 // Mbps
		ping     time.Duration
	}
	full := make([]legResult, 0, len(pinged))
	for _, s := range pinged {
		if err := runCtx.Err(); err != nil {
			return nil, err
		}
		if err := s.DownloadTestContext(runCtx); err != nil {
			continue
		}
		dl := s.DLSpeed.Mbps()
		if err := s.UploadTestContext(runCtx); err != nil {
			continue
		}
		full = append(full, legResult{server: s, download: dl, upload: s.ULSpeed.Mbps(), ping: s.Latency})

		// Drop per-test snapshots early.
		stc.Snapshots().Clean()
		stc.Reset()
	}
	if len(full) == 0 {
		return nil, fmt.Errorf("full test failed for all servers")
	}

	var sumDL, sumUL float64
	var sumPing time.Duration
	best := &full[0]
	for i := range full {
		r := &full[i]
		sumDL += r.download
		sumUL += r.upload
		sumPing += r.ping
		if r.ping < best.ping || (r.ping == best.ping && r.download > best.download) {
			best = r
		}
	}
	n := float64(len(full))
	avgPing := sumPing / time.Duration(len(full))

	loss := 0.0
	if cfg.PacketLossEnabled {
		host := best.server.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		plCtx, cancel := context.WithTimeout(runCtx, cfg.PacketLossTimeout)
		loss = packetLoss(plCtx, host)
		cancel()
	}

	// Jitter from the chosen server when it measured one, otherwise a rough
	// estimate off the average ping.
	jitterMs := float64(best.server.Jitter.Milliseconds())
	if jitterMs <= 0 {
		jitterMs = math.Max(0.1, float64(avgPing.Milliseconds())*0.1)
	}

	serverID, _ := strconv.Atoi(best.server.ID)
	return &Result{
		Timestamp:         time.Now().UTC(),
		PingMs:            float64(avgPing.Milliseconds()),
		JitterMs:          jitterMs,
		PacketLossPct:     loss,
		DownloadBandwidth: mbpsToBytesPerSec(sumDL / n),
		UploadBandwidth:   mbpsToBytesPerSec(sumUL / n),
		ISP:               user.Isp,
		ServerID:          serverID,
		ServerName:        best.server.Sponsor,
		ServerLocation:    best.server.Name + ", " + best.server.Country,
	}, nil
}

func mbpsToBytesPerSec(mbps float64) float64 { return mbps * 1e6 / 8 }

func pingServers(ctx context.Context, servers st.Servers, maxConcurrent int) []*st.Server {
	sem := make(chan struct{}, maxConcurrent)
	out := make(chan *st.Server, len(servers))
	var wg sync.WaitGroup

	for _, s := range servers {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
			}
			defer func() { <-sem }()

			if err := s.PingTestContext(ctx, nil); err != nil {
				return
			}
			if s.Latency > 0 {
				out <- s
			}
		}()
	}
	wg.Wait()
	close(out)

	pinged := make([]*st.Server, 0, len(servers))
	for s := range out {
		pinged = append(pinged, s)
	}
	return pinged
}

func packetLoss(ctx context.Context, host string) float64 {
	if host == "" {
		return 0
	}
	pla := st.NewPacketLossAnalyzer(nil)
	pl, err := pla.RunMultiWithContext(ctx, []string{host})
	if err != nil || pl == nil {
		return 0
	}
	return pl.LossPercent()
}
