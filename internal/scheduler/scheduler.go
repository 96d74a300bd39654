package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

// Job is one periodic trigger. Each tick runs one bounded batch under Timeout.
type Job struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// JobStatus reports the last outcome of a job.
type JobStatus struct {
	Name      string     `json:"name"`
	Interval  string     `json:"interval"`
	Busy      bool       `json:"busy"`
	Runs      int        `json:"runs"`
	Skipped   int        `json:"skipped"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// Status reports the real-time status of the scheduler.
type Status struct {
	Running bool        `json:"running"`
	Jobs    []JobStatus `json:"jobs"`
}

// Scheduler runs jobs on tickers until Stop. A tick that fires while the
// previous run of the same job is still busy is skipped.
type Scheduler struct {
	jobs    []Job
	stopCh  chan struct{}
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	mu      sync.RWMutex
	status  map[string]*JobStatus
	running bool
}

func New(jobs ...Job) *Scheduler {
	status := make(map[string]*JobStatus, len(jobs))
	kept := jobs[:0:0]
	for _, j := range jobs {
		if j.Interval <= 0 || j.Run == nil {
			log.Printf("[Scheduler] Job %s disabled (interval %v)", j.Name, j.Interval)
			continue
		}
		kept = append(kept, j)
		status[j.Name] = &JobStatus{Name: j.Name, Interval: j.Interval.String()}
	}
	return &Scheduler{jobs: kept, stopCh: make(chan struct{}), status: status}
}

// Start launches one goroutine per job. Calling it twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
	log.Printf("[Scheduler] Started %d jobs", len(s.jobs))
}

// Stop cancels in-flight runs and waits for every job loop to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.cancel()
	s.wg.Wait()
	log.Println("[Scheduler] Stopped")
}

func (s *Scheduler) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{Running: s.running, Jobs: make([]JobStatus, 0, len(s.jobs))}
	for _, j := range s.jobs {
		st.Jobs = append(st.Jobs, *s.status[j.Name])
	}
	return st
}

func (s *Scheduler) loop(ctx context.Context, j Job) {
	defer s.wg.Done()
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	busy := make(chan struct{}, 1)
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			select {
			case <-s.stopCh:
				return
			default:
			}
			select {
			case busy <- struct{}{}:
			default:
				s.record(j.Name, func(st *JobStatus) { st.Skipped++ })
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer func() { <-busy }()
				s.runOnce(ctx, j)
			}()
		}
	}
}

// RunNow executes a job once, outside its ticker.
func (s *Scheduler) RunNow(ctx context.Context, name string) bool {
	for _, j := range s.jobs {
		if j.Name == name {
			s.runOnce(ctx, j)
			return true
		}
	}
	return false
}

func (s *Scheduler) runOnce(ctx context.Context, j Job) {
	s.record(j.Name, func(st *JobStatus) { st.Busy = true })

	runCtx := ctx
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}
	err := j.Run(runCtx)
	if err != nil && ctx.Err() == nil {
		log.Printf("[Scheduler] %s failed: %v", j.Name, err)
	}

	now := time.Now()
	s.record(j.Name, func(st *JobStatus) {
		st.Busy = false
		st.Runs++
		st.LastRunAt = &now
		st.LastError = ""
		if err != nil {
			st.LastError = err.Error()
		}
	})
}

func (s *Scheduler) record(name string, update func(*JobStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.status[name]; ok {
		update(st)
	}
}
