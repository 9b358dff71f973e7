package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Pinger checks a dependency's reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Counter reports a size, such as indexed channels or active recordings.
type Counter interface {
	Len() int
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version    string
	startTime  time.Time
	db         Pinger
	channels   Counter
	recordings Counter
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB sets the database used for readiness checks.
func (h *HealthHandler) WithDB(db Pinger) *HealthHandler {
	h.db = db
	return h
}

// WithChannels sets the channel index whose size is reported.
func (h *HealthHandler) WithChannels(c Counter) *HealthHandler {
	h.channels = c
	return h
}

// WithRecordings sets the registry whose size is reported.
func (h *HealthHandler) WithRecordings(c Counter) *HealthHandler {
	h.recordings = c
	return h
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status           string            `json:"status"`
	Timestamp        string            `json:"timestamp"`
	Version          string            `json:"version"`
	Uptime           string            `json:"uptime"`
	UptimeSeconds    float64           `json:"uptime_seconds"`
	CPUInfo          CPUInfo           `json:"cpu_info"`
	Memory           MemoryInfo        `json:"memory"`
	Channels         int               `json:"channels"`
	ActiveRecordings int               `json:"active_recordings"`
	Checks           map[string]string `json:"checks"`
}

// CPUInfo holds load averages.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo holds system and process memory figures in MiB. Child
// processes are the running ffmpeg captures.
type MemoryInfo struct {
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	UsedMemoryMB      float64 `json:"used_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	ProcessMB         float64 `json:"process_mb"`
	ChildProcessCount int     `json:"child_process_count"`
	ChildProcessesMB  float64 `json:"child_processes_mb"`
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// LivezInput is the input for the liveness probe.
type LivezInput struct{}

// LivezOutput is the output for the liveness probe.
type LivezOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// ReadyzInput is the input for the readiness probe.
type ReadyzInput struct{}

// ReadyzOutput is the output for the readiness probe.
type ReadyzOutput struct {
	Body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "getLivez",
		Method:      "GET",
		Path:        "/livez",
		Summary:     "Liveness probe",
		Tags:        []string{"System"},
	}, h.GetLivez)

	huma.Register(api, huma.Operation{
		OperationID: "getReadyz",
		Method:      "GET",
		Path:        "/readyz",
		Summary:     "Readiness probe",
		Tags:        []string{"System"},
	}, h.GetReadyz)
}

// GetLivez reports that the process is serving requests.
func (h *HealthHandler) GetLivez(ctx context.Context, input *LivezInput) (*LivezOutput, error) {
	resp := &LivezOutput{}
	resp.Body.Status = "ok"
	return resp, nil
}

// GetReadyz reports whether dependencies are reachable.
func (h *HealthHandler) GetReadyz(ctx context.Context, input *ReadyzInput) (*ReadyzOutput, error) {
	resp := &ReadyzOutput{}
	resp.Body.Components = map[string]string{"database": h.databaseStatus(ctx)}
	resp.Body.Status = "ready"
	if resp.Body.Components["database"] != "ok" {
		resp.Body.Status = "not_ready"
	}
	return resp, nil
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	dbStatus := h.databaseStatus(ctx)
	status := "healthy"
	if dbStatus == "error" {
		status = "degraded"
	}

	resp := HealthResponse{
		Status:        status,
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       h.version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		CPUInfo:       cpuInfo(),
		Memory:        memoryInfo(),
		Checks:        map[string]string{"database": dbStatus},
	}
	if h.channels != nil {
		resp.Channels = h.channels.Len()
	}
	if h.recordings != nil {
		resp.ActiveRecordings = h.recordings.Len()
	}
	return &HealthOutput{Body: resp}, nil
}

func (h *HealthHandler) databaseStatus(ctx context.Context) string {
	if h.db == nil {
		return "not_configured"
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		return "error"
	}
	return "ok"
}

func cpuInfo() CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}

	loadAvg, err := load.Avg()
	if err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15
		if info.Cores > 0 {
			info.LoadPercentage1Min = (loadAvg.Load1 / float64(info.Cores)) * 100
		}
	}
	return info
}

const mib = 1024 * 1024

func memoryInfo() MemoryInfo {
	info := MemoryInfo{}

	vmStat, err := mem.VirtualMemory()
	if err == nil && vmStat != nil {
		info.TotalMemoryMB = float64(vmStat.Total) / mib
		info.UsedMemoryMB = float64(vmStat.Used) / mib
		info.AvailableMemoryMB = float64(vmStat.Available) / mib
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return info
	}
	if m, err := proc.MemoryInfo(); err == nil && m != nil {
		info.ProcessMB = float64(m.RSS) / mib
	}
	children, err := proc.Children()
	if err == nil {
		info.ChildProcessCount = len(children)
		for _, child := range children {
			if m, err := child.MemoryInfo(); err == nil && m != nil {
				info.ChildProcessesMB += float64(m.RSS) / mib
			}
		}
	}
	return info
}
