package extract

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/majoor-app/majoor/internal/logger"
)

// SidecarSuffix is appended to the asset filepath for sidecar data.
const SidecarSuffix = ".mjr.json"

// sidecarPayload is what gets written next to the asset.
type sidecarPayload struct {
	Rating    int       `json:"rating"`
	Tags      []string  `json:"tags"`
	UpdatedAt time.Time `json:"updated_at"`
}

type sidecarJob struct {
	filepath string
	payload  sidecarPayload
}

// SidecarSync pushes user rating/tags changes back to disk as sidecar
// files. It is best-effort: the queue is bounded and over-limit jobs are
// dropped with an operator-visible warning, never blocking the request.
type SidecarSync struct {
	queue chan sidecarJob
	stop  chan struct{}
	wg    sync.WaitGroup

	dropWarnAt time.Time
	mu         sync.Mutex
}

// NewSidecarSync creates a worker with the given queue bound (default 256).
func NewSidecarSync(queueSize int) *SidecarSync {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &SidecarSync{
		queue: make(chan sidecarJob, queueSize),
		stop:  make(chan struct{}),
	}
}

// Start launches the single background worker.
func (s *SidecarSync) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.stop:
				return
			case job := <-s.queue:
				s.write(job)
			}
		}
	}()
}

// Stop drains nothing further and joins the worker.
func (s *SidecarSync) Stop() {
	close(s.stop)
	s.wg.Wait()
}

// Enqueue schedules a sidecar write. Returns false when the queue is full.
func (s *SidecarSync) Enqueue(path string, rating int, tags []string) bool {
	job := sidecarJob{
		filepath: path,
		payload:  sidecarPayload{Rating: rating, Tags: tags, UpdatedAt: time.Now().UTC()},
	}
	select {
	case s.queue <- job:
		return true
	default:
		s.mu.Lock()
		if time.Since(s.dropWarnAt) > 30*time.Second {
			s.dropWarnAt = time.Now()
			logger.Warn("sidecar sync queue full, dropping writes", "queue_len", len(s.queue))
		}
		s.mu.Unlock()
		return false
	}
}

// QueueLength reports the pending job count.
func (s *SidecarSync) QueueLength() int { return len(s.queue) }

// write persists one sidecar atomically next to the asset.
func (s *SidecarSync) write(job sidecarJob) {
	data, err := json.MarshalIndent(job.payload, "", "  ")
	if err != nil {
		return
	}
	target := job.filepath + SidecarSuffix
	tmp, err := os.CreateTemp(filepath.Dir(target), ".mjr-sidecar-*")
	if err != nil {
		logger.Debug("sidecar write skipped", "path", job.filepath, "error", err)
		return
	}
	if _, err := tmp.Write(data); err == nil {
		if err := tmp.Close(); err == nil {
			if err := os.Rename(tmp.Name(), target); err == nil {
				return
			}
		}
	} else {
		_ = tmp.Close()
	}
	_ = os.Remove(tmp.Name())
	logger.Debug("sidecar write failed", "path", job.filepath)
}
