package report

import (
	"strconv"
	"time"

	"firestige.xyz/latprobe/internal/core"
	"firestige.xyz/latprobe/internal/correlate"
)

// Row is one measurement flattened for tabular storage. Unobserved values are -1 and flags
// are 0 or 1.
type Row struct {
	RunID       string  `json:"run_id"`
	Index       int64   `json:"index"`
	SendTime    float64 `json:"send_time"`
	ReceiveTime float64 `json:"receive_time"`
	Latency     float64 `json:"latency_ms"`

	ClientToServer float64 `json:"latency_c2s_ms"`
	ServerToClient float64 `json:"latency_s2c_ms"`
	Jitter         float64 `json:"jitter_ms"`

	CaptureLatency         float64 `json:"captured_latency_ms"`
	CaptureJitter          float64 `json:"captured_jitter_ms"`
	CapturedClientToServer float64 `json:"captured_c2s_ms"`
	CapturedServerToClient float64 `json:"captured_s2c_ms"`
	ServerProcessing       float64 `json:"server_processing_ms"`
	ClientProcessing       float64 `json:"client_processing_ms"`

	TapPingClient int `json:"tap_ping_client"`
	TapPingServer int `json:"tap_ping_server"`
	TapPongClient int `json:"tap_pong_client"`
	TapPongServer int `json:"tap_pong_server"`

	Outlier                 int `json:"outlier"`
	PingOutlier             int `json:"ping_outlier"`
	PongOutlier             int `json:"pong_outlier"`
	ServerProcessingOutlier int `json:"server_processing_outlier"`
	ClientProcessingOutlier int `json:"client_processing_outlier"`
}

// Header lists the column names matching Record.
var Header = []string{
	"run_id", "index", "send_time", "receive_time", "latency_ms",
	"latency_c2s_ms", "latency_s2c_ms", "jitter_ms",
	"captured_latency_ms", "captured_jitter_ms", "captured_c2s_ms", "captured_s2c_ms",
	"server_processing_ms", "client_processing_ms",
	"tap_ping_client", "tap_ping_server", "tap_pong_client", "tap_pong_server",
	"outlier", "ping_outlier", "pong_outlier", "server_processing_outlier", "client_processing_outlier",
}

// Rows flattens every measurement of res.
func Rows(runID string, res *correlate.Result) []Row {
	rows := make([]Row, len(res.Measurements))
	for i := range res.Measurements {
		m := &res.Measurements[i]
		rows[i] = Row{
			RunID:                   runID,
			Index:                   m.Index,
			SendTime:                m.SendTime,
			ReceiveTime:             m.ReceiveTime,
			Latency:                 m.Latency,
			ClientToServer:          m.ClientToServer.OrSentinel(),
			ServerToClient:          m.ServerToClient.OrSentinel(),
			Jitter:                  m.Jitter.OrSentinel(),
			CaptureLatency:          m.CaptureLatency.OrSentinel(),
			CaptureJitter:           m.CaptureJitter.OrSentinel(),
			CapturedClientToServer:  m.CapturedClientToServer.OrSentinel(),
			CapturedServerToClient:  m.CapturedServerToClient.OrSentinel(),
			ServerProcessing:        m.ServerProcessing.OrSentinel(),
			ClientProcessing:        m.ClientProcessing.OrSentinel(),
			TapPingClient:           flag(m.Tap.PingClient),
			TapPingServer:           flag(m.Tap.PingServer),
			TapPongClient:           flag(m.Tap.PongClient),
			TapPongServer:           flag(m.Tap.PongServer),
			Outlier:                 flag(m.IsOutlier),
			PingOutlier:             flag(m.IsPingOutlier),
			PongOutlier:             flag(m.IsPongOutlier),
			ServerProcessingOutlier: flag(m.IsServerProcessingOutlier),
			ClientProcessingOutlier: flag(m.IsClientProcessingOutlier),
		}
	}
	return rows
}

// Record renders r in Header order.
func (r Row) Record() []string {
	return []string{
		r.RunID,
		strconv.FormatInt(r.Index, 10),
		ftoa(r.SendTime), ftoa(r.ReceiveTime), ftoa(r.Latency),
		ftoa(r.ClientToServer), ftoa(r.ServerToClient), ftoa(r.Jitter),
		ftoa(r.CaptureLatency), ftoa(r.CaptureJitter),
		ftoa(r.CapturedClientToServer), ftoa(r.CapturedServerToClient),
		ftoa(r.ServerProcessing), ftoa(r.ClientProcessing),
		itoa(r.TapPingClient), itoa(r.TapPingServer), itoa(r.TapPongClient), itoa(r.TapPongServer),
		itoa(r.Outlier), itoa(r.PingOutlier), itoa(r.PongOutlier),
		itoa(r.ServerProcessingOutlier), itoa(r.ClientProcessingOutlier),
	}
}

// Summary carries the run aggregates. Aggregates that could not be computed are -1.
type Summary struct {
	RunID       string    `json:"run_id"`
	Label       string    `json:"label"`
	Tool        string    `json:"tool"`
	Protocol    string    `json:"protocol"`
	Server      string    `json:"server"`
	Client      string    `json:"client"`
	MessageSize int       `json:"message_size"`
	StartedAt   time.Time `json:"started_at"`
	DurationSec float64   `json:"duration_sec"`
	TapEnabled  bool      `json:"tap_enabled"`

	Sent     int `json:"sent"`
	Received int `json:"received"`
	Lost     int `json:"lost"`

	LatencyMin    float64 `json:"latency_min_ms"`
	LatencyAvg    float64 `json:"latency_avg_ms"`
	LatencyMax    float64 `json:"latency_max_ms"`
	LatencyStdDev float64 `json:"latency_stddev_ms"`
	JitterMin     float64 `json:"jitter_min_ms"`
	JitterAvg     float64 `json:"jitter_avg_ms"`
	JitterMax     float64 `json:"jitter_max_ms"`
	JitterStdDev  float64 `json:"jitter_stddev_ms"`

	CaptureLatencyAvg float64 `json:"captured_latency_avg_ms"`

	// Tool's own view of the run.
	ReportedMin    float64 `json:"reported_min_ms"`
	ReportedAvg    float64 `json:"reported_avg_ms"`
	ReportedMax    float64 `json:"reported_max_ms"`
	ReportedStdDev float64 `json:"reported_stddev_ms"`

	CapturedPing         int            `json:"captured_ping"`
	CapturedPong         int            `json:"captured_pong"`
	CapturedFullPingPong int            `json:"captured_full_ping_pong"`
	TapPorts             map[string]int `json:"tap_ports,omitempty"`

	Outliers                 int `json:"outliers"`
	UncategorizedOutliers    int `json:"uncategorized_outliers"`
	PingOutliers             int `json:"ping_outliers"`
	PongOutliers             int `json:"pong_outliers"`
	ServerProcessingOutliers int `json:"server_processing_outliers"`
	ClientProcessingOutliers int `json:"client_processing_outliers"`
}

func NewSummary(info RunInfo, res *correlate.Result) Summary {
	s := Summary{
		RunID:       info.RunID,
		Label:       info.Label,
		Tool:        info.Tool,
		Protocol:    info.Protocol,
		Server:      info.Server,
		Client:      info.Client,
		MessageSize: info.MessageSize,
		StartedAt:   info.StartedAt,
		DurationSec: info.Duration.Seconds(),
		TapEnabled:  info.TapEnabled,

		Sent:     res.Sent,
		Received: res.Received,
		Lost:     res.Lost,

		ReportedMin:    res.Reported.Min.OrSentinel(),
		ReportedAvg:    res.Reported.Avg.OrSentinel(),
		ReportedMax:    res.Reported.Max.OrSentinel(),
		ReportedStdDev: res.Reported.StdDev.OrSentinel(),

		CapturedPing:         res.Capture.Ping,
		CapturedPong:         res.Capture.Pong,
		CapturedFullPingPong: res.Capture.FullPingPong,

		Outliers:                 res.Outliers.Total,
		UncategorizedOutliers:    res.Outliers.Uncategorized,
		PingOutliers:             res.Outliers.Ping,
		PongOutliers:             res.Outliers.Pong,
		ServerProcessingOutliers: res.Outliers.ServerProcessing,
		ClientProcessingOutliers: res.Outliers.ClientProcessing,
	}
	if info.TapEnabled {
		s.TapPorts = res.Capture.Ports
	}
	s.LatencyMin, s.LatencyAvg, s.LatencyMax, s.LatencyStdDev = flatten(res.Latency)
	s.JitterMin, s.JitterAvg, s.JitterMax, s.JitterStdDev = flatten(res.Jitter)
	s.CaptureLatencyAvg = core.Sentinel
	if res.CaptureLatency.Valid {
		s.CaptureLatencyAvg = res.CaptureLatency.Mean
	}
	return s
}

func flatten(a correlate.Aggregate) (min, avg, max, stddev float64) {
	if !a.Valid {
		return core.Sentinel, core.Sentinel, core.Sentinel, core.Sentinel
	}
	return a.Min, a.Mean, a.Max, a.StdDev
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func itoa(v int) string {
	return strconv.Itoa(v)
}
