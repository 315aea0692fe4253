package service

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/time/rate"
)

// ResourceSampler reports the CPU and memory use of the device process.
type ResourceSampler interface {
	Sample() (cpuPercent float64, rssBytes uint64, err error)
}

type processSampler struct {
	proc *process.Process
}

// NewProcessSampler samples the current process through gopsutil.
func NewProcessSampler() (ResourceSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to get process information: %w", err)
	}
	return &processSampler{proc: proc}, nil
}

func (p *processSampler) Sample() (float64, uint64, error) {
	cpu, err := p.proc.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	mem, err := p.proc.MemoryInfo()
	if err != nil {
		return cpu, 0, err
	}
	return cpu, mem.RSS, nil
}

// telemetry emits CPU and memory lines at a bounded rate.
type telemetry struct {
	sampler ResourceSampler
	limiter *rate.Limiter
	peakCPU float64
}

func newTelemetry(sampler ResourceSampler, interval time.Duration) *telemetry {
	if interval <= 0 {
		interval = time.Second
	}
	return &telemetry{
		sampler: sampler,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// report writes one line if the rate limit allows it. It returns false
// when nothing was written.
func (t *telemetry) report(w io.Writer, overruns uint64) (bool, error) {
	if t.sampler == nil || !t.limiter.Allow() {
		return false, nil
	}
	cpu, rss, err := t.sampler.Sample()
	if err != nil {
		return false, fmt.Errorf("sample resources: %w", err)
	}
	t.peakCPU = max(t.peakCPU, cpu)
	_, err = fmt.Fprintf(w, "CPU Cur/Peak: %.2f%%/%.2f%%, MEM: %.1f MB, overruns: %d\n",
		cpu, t.peakCPU, float64(rss)/1024/1024, overruns)
	return true, err
}
