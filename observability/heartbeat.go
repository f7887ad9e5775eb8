package observability

import (
	"database/sql"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// HeartbeatWriter writes periodic liveness probes for a report worker to
// the worker_heartbeats table.
type HeartbeatWriter struct {
	db         *sql.DB
	workerName string
	hostname   string
	workerPID  int
	interval   time.Duration
	stop       chan struct{}
	done       chan struct{}
}

// NewHeartbeatWriter creates a writer. Recommended interval: 15s.
func NewHeartbeatWriter(db *sql.DB, workerName string, interval time.Duration) *HeartbeatWriter {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &HeartbeatWriter{
		db:         db,
		workerName: workerName,
		hostname:   hostname,
		workerPID:  os.Getpid(),
		interval:   interval,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins the heartbeat loop. Call Stop to end it.
func (w *HeartbeatWriter) Start() {
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		w.write()
		for {
			select {
			case <-w.stop:
				return
			case <-ticker.C:
				w.write()
			}
		}
	}()
}

// Stop ends the heartbeat loop and waits for it to finish.
func (w *HeartbeatWriter) Stop() {
	close(w.stop)
	<-w.done
}

func (w *HeartbeatWriter) write() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	_, err := w.db.Exec(`
		INSERT INTO worker_heartbeats (
			worker_name, hostname, worker_pid, timestamp,
			goroutines_count, memory_alloc_mb
		) VALUES (?,?,?,?,?,?)`,
		w.workerName, w.hostname, w.workerPID, time.Now().UnixMilli(),
		runtime.NumGoroutine(), float64(mem.Alloc)/1024/1024)
	if err != nil {
		slog.Warn("observability: heartbeat failed", "error", err, "worker", w.workerName)
	}
}
