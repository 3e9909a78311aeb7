// Package httpapi is the ambient, non-authoritative HTTP status surface
// alongside the TCP dispatch port: /healthz, /stats, /workers, and
// /metrics. It generalizes the teacher's health.Handler and
// monitoring.Handler (api-coordinator/internal/health,
// api-coordinator/internal/monitoring) — which report Mongo/tcpserver
// state through a gin.RouterGroup — into read-only reporting over the
// dispatch server's own registry, queues and persistence.Store. This is
// observability, not the operator control surface (spec §4.9's console
// is the line-based command loop over stdin).
package httpapi

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"taskdispatch/internal/metrics"
	"taskdispatch/internal/persistence"
	"taskdispatch/internal/queue"
	"taskdispatch/internal/registry"
	"taskdispatch/internal/task"
)

// Capable is the subset of workerhandle.Handle the status handlers need.
type Capable interface {
	registry.Handle
	IsIdle() bool
	CanHandle(kind task.Kind) bool
}

// Server wires gin handlers over the server context's collaborators.
type Server struct {
	readyQueue *queue.FIFO
	deadLetter *queue.FIFO
	registry   *registry.Registry
	store      persistence.Store
	httpServer *http.Server
}

// New builds a Server listening at addr, with routes registered but not
// yet serving; call Start to accept connections.
func New(addr string, readyQueue, deadLetter *queue.FIFO, reg *registry.Registry, store persistence.Store) *Server {
	s := &Server{readyQueue: readyQueue, deadLetter: deadLetter, registry: reg, store: store}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", s.handleHealth)
	router.GET("/stats", s.handleStats)
	router.GET("/workers", s.handleWorkers)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	s.httpServer = &http.Server{Addr: addr, Handler: router}
	return s
}

// Start runs ListenAndServe, blocking until it returns (normally
// http.ErrServerClosed after Shutdown).
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type healthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Persistence string  `json:"persistence"`
	WorkerCount int      `json:"worker_count"`
}

func (s *Server) handleHealth(c *gin.Context) {
	status := "ok"
	persistStatus := "ok"
	if _, err := s.store.Statistics(c.Request.Context()); err != nil {
		persistStatus = "down"
		status = "degraded"
	}
	httpStatus := http.StatusOK
	if status != "ok" {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, healthStatus{
		Status:      status,
		Timestamp:   time.Now(),
		Persistence: persistStatus,
		WorkerCount: s.registry.Count(),
	})
}

type systemStats struct {
	NumGoroutine    int       `json:"num_goroutine"`
	AllocBytes      uint64    `json:"alloc_bytes"`
	TotalCPUCores   int       `json:"total_cpu_cores"`
	CPUUsagePercent []float64 `json:"cpu_usage_percent"`
	TotalRAM        uint64    `json:"total_ram"`
	UsedRAMPercent  float64   `json:"used_ram_percent"`
}

type statsResponse struct {
	Persistence persistence.Stats `json:"persistence"`
	ReadyQueue  int               `json:"ready_queue_depth"`
	DeadLetter  int               `json:"dead_letter_depth"`
	System      systemStats       `json:"system"`
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.store.Statistics(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	vMem, _ := mem.VirtualMemory()
	cpuPercent, _ := cpu.Percent(0, false)

	sys := systemStats{
		NumGoroutine:    runtime.NumGoroutine(),
		AllocBytes:      memStats.Alloc,
		TotalCPUCores:   runtime.NumCPU(),
		CPUUsagePercent: cpuPercent,
	}
	if vMem != nil {
		sys.TotalRAM = vMem.Total
		sys.UsedRAMPercent = vMem.UsedPercent
	}

	c.JSON(http.StatusOK, statsResponse{
		Persistence: stats,
		ReadyQueue:  s.readyQueue.Len(),
		DeadLetter:  s.deadLetter.Len(),
		System:      sys,
	})
}

type workerSummary struct {
	ID           string `json:"id"`
	Idle         bool   `json:"idle"`
	Capabilities []string `json:"declared_capabilities_probe"`
}

func (s *Server) handleWorkers(c *gin.Context) {
	probeKinds := []task.Kind{task.KindCheckPrime, task.KindHashText}
	workers := make([]workerSummary, 0, s.registry.Count())
	s.registry.Range(func(h registry.Handle) bool {
		capable, ok := h.(Capable)
		if !ok {
			workers = append(workers, workerSummary{ID: h.ID()})
			return true
		}
		var caps []string
		for _, k := range probeKinds {
			if capable.CanHandle(k) {
				caps = append(caps, string(k))
			}
		}
		workers = append(workers, workerSummary{ID: h.ID(), Idle: capable.IsIdle(), Capabilities: caps})
		return true
	})
	c.JSON(http.StatusOK, gin.H{"workers": workers, "count": len(workers)})
}
