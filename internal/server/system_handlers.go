package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/stockledger/internal/database"
	"github.com/aristath/stockledger/internal/domain"
	"github.com/aristath/stockledger/internal/scheduler"
)

// JobRunner is the part of the scheduler the system endpoints use.
type JobRunner interface {
	Status() []scheduler.JobStatus
	RunNow(name string) error
}

// Counter counts rows of one store.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// LockTable reports how many user locks are currently held.
type LockTable interface {
	Held() int
}

// LedgerSources are the stores behind the ledger counters. Nil fields are
// reported as zero.
type LedgerSources struct {
	Instruments Counter
	Trades      Counter
	Locks       LockTable
}

// LedgerInfo summarizes the ledger contents
type LedgerInfo struct {
	Instruments int `json:"instruments"`
	Trades      int `json:"trades"`
	HeldLocks   int `json:"held_locks"`
}

// SystemStatusResponse is the body of GET /api/system/status
type SystemStatusResponse struct {
	Status      string                `json:"status"`
	UptimeHours float64               `json:"uptime_hours"`
	CPUPercent  float64               `json:"cpu_percent"`
	RAMPercent  float64               `json:"ram_percent"`
	Databases   []DBInfo              `json:"databases"`
	TotalSizeMB float64               `json:"total_size_mb"`
	Ledger      LedgerInfo            `json:"ledger"`
	Jobs        []scheduler.JobStatus `json:"jobs"`
	LastChecked string                `json:"last_checked"`
}

// DBInfo represents information about a single database
type DBInfo struct {
	Name      string  `json:"name"`
	Healthy   bool    `json:"healthy"`
	Error     string  `json:"error,omitempty"`
	SizeMB    float64 `json:"size_mb"`
	WALSizeMB float64 `json:"wal_size_mb"`
	PageCount int64   `json:"page_count"`
}

// SystemHandlers serves host, database and job status
type SystemHandlers struct {
	databases   []*database.DB
	ledger      LedgerSources
	jobs        JobRunner
	startupTime time.Time
	log         zerolog.Logger
}

// NewSystemHandlers creates system handlers. jobs may be nil.
func NewSystemHandlers(databases []*database.DB, ledger LedgerSources, jobs JobRunner, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		databases:   databases,
		ledger:      ledger,
		jobs:        jobs,
		startupTime: time.Now(),
		log:         log.With().Str("handler", "system").Logger(),
	}
}

// HandleSystemStatus returns host metrics, database health and job status.
// Status is "degraded" when any database fails its check.
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	cpuPercent, ramPercent := h.getSystemStats()
	response := SystemStatusResponse{
		Status:      "healthy",
		UptimeHours: time.Since(h.startupTime).Hours(),
		CPUPercent:  cpuPercent,
		RAMPercent:  ramPercent,
		Databases:   make([]DBInfo, 0, len(h.databases)),
		Jobs:        []scheduler.JobStatus{},
		LastChecked: time.Now().Format(time.RFC3339),
	}

	for _, db := range h.databases {
		info := DBInfo{Name: db.Name(), Healthy: true}
		if err := db.QuickCheck(ctx); err != nil {
			info.Healthy = false
			info.Error = err.Error()
			response.Status = "degraded"
		} else if stats, err := db.GetStats(ctx); err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to get database stats")
		} else {
			info.SizeMB = toMB(stats.SizeBytes)
			info.WALSizeMB = toMB(stats.WALSizeBytes)
			info.PageCount = stats.PageCount
		}
		response.TotalSizeMB += info.SizeMB + info.WALSizeMB
		response.Databases = append(response.Databases, info)
	}

	response.Ledger = h.ledgerInfo(ctx)
	if h.jobs != nil {
		response.Jobs = h.jobs.Status()
	}

	writeJSON(w, http.StatusOK, response, h.log)
}

// ledgerInfo collects the ledger counters. A failing count is logged and
// reported as zero.
func (h *SystemHandlers) ledgerInfo(ctx context.Context) LedgerInfo {
	var info LedgerInfo
	count := func(name string, c Counter) int {
		if c == nil {
			return 0
		}
		n, err := c.Count(ctx)
		if err != nil {
			h.log.Warn().Err(err).Str("store", name).Msg("Failed to count rows")
			return 0
		}
		return n
	}

	info.Instruments = count("instruments", h.ledger.Instruments)
	info.Trades = count("trades", h.ledger.Trades)
	if h.ledger.Locks != nil {
		info.HeldLocks = h.ledger.Locks.Held()
	}
	return info
}

// HandleJobsStatus returns the status of every scheduled job
func (h *SystemHandlers) HandleJobsStatus(w http.ResponseWriter, r *http.Request) {
	jobs := []scheduler.JobStatus{}
	if h.jobs != nil {
		jobs = h.jobs.Status()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	}, h.log)
}

// HandleRunJob runs a registered job immediately and waits for it
func (h *SystemHandlers) HandleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if h.jobs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "scheduler not available",
			"kind":  string(domain.KindStorageUnavailable),
		}, h.log)
		return
	}

	h.log.Info().Str("job", name).Msg("Manual job run requested")
	if err := h.jobs.RunNow(name); err != nil {
		writeError(w, err, h.log)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "completed",
		"job":    name,
	}, h.log)
}

// getSystemStats calculates CPU and RAM usage percentages
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	// 100ms sample keeps the endpoint responsive
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(cpuPercent) == 0 {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return cpuPercent[0], 0
	}

	return cpuPercent[0], memStat.UsedPercent
}

func toMB(bytes int64) float64 {
	return float64(bytes) / 1024 / 1024
}
