// Package health samples the host the monitor runs on. The maintenance
// cron calls Sample periodically; results land in telemetry gauges and the
// status endpoint.
package health

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/rweeks/tankmonitor/controller"
)

type Snapshot struct {
	Load1         float64 `json:"load1"`
	MemoryUsedPct float64 `json:"memory_used_pct"`
	UptimeSeconds uint64  `json:"uptime_seconds"`
}

type Subsystem struct {
	c controller.Controller

	mu   sync.Mutex
	last Snapshot
}

func New(c controller.Controller) *Subsystem {
	return &Subsystem{c: c}
}

func (h *Subsystem) Setup() error { return nil }
func (h *Subsystem) Start()       { h.Sample() }
func (h *Subsystem) Stop()        {}

// Sample refreshes the snapshot. Partial failures degrade that field to
// its previous value rather than failing the sample.
func (h *Subsystem) Sample() {
	h.mu.Lock()
	snap := h.last
	h.mu.Unlock()

	if avg, err := load.Avg(); err == nil {
		snap.Load1 = avg.Load1
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemoryUsedPct = vm.UsedPercent
	}
	if up, err := host.Uptime(); err == nil {
		snap.UptimeSeconds = up
	}

	h.mu.Lock()
	h.last = snap
	h.mu.Unlock()
	h.c.Telemetry().SetHostHealth(snap.Load1, snap.MemoryUsedPct, snap.UptimeSeconds)
}

func (h *Subsystem) Last() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

func (h *Subsystem) LoadAPI(r *mux.Router) {
	r.HandleFunc("/api/tank/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(h.Last())
	}).Methods("GET")
}
