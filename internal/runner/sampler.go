package runner

import (
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const rssSampleInterval = 100 * time.Millisecond

// rssSampler polls a live process for its resident set size and keeps
// the highest value seen. Sampling is best effort: short-lived workers
// may exit between polls, and a zero peak only means no sample landed.
type rssSampler struct {
	peak atomic.Uint64
	stop chan struct{}
	done chan struct{}
}

// startRSSSampler begins sampling the process with the given pid in a
// background goroutine. Call Stop to end sampling and read the peak.
func startRSSSampler(pid int32) *rssSampler {
	s := &rssSampler{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.loop(pid)
	return s
}

func (s *rssSampler) loop(pid int32) {
	defer close(s.done)
	gp, err := process.NewProcess(pid)
	if err != nil {
		return
	}
	s.sample(gp)
	ticker := time.NewTicker(rssSampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if !s.sample(gp) {
				return
			}
		}
	}
}

func (s *rssSampler) sample(gp *process.Process) bool {
	mi, err := gp.MemoryInfo()
	if err != nil || mi == nil {
		return false
	}
	if rss := mi.RSS; rss > s.peak.Load() {
		s.peak.Store(rss)
	}
	return true
}

// Stop halts sampling and returns the peak RSS observed in bytes.
func (s *rssSampler) Stop() uint64 {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
	return s.peak.Load()
}
