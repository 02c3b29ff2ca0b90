//go:build linux

// File: internal/ioaware/sampler_linux.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux telemetry source: /proc/diskstats. Fields of interest (1-indexed
// per Documentation/admin-guide/iostats.rst): field 9 is I/Os currently in
// progress (queue depth), field 10 is milliseconds spent doing I/Os (busy
// time). Each line starts with major, minor and device name, so field N
// sits at zero-based column N+2. Busy fraction is derived from the delta of field 10
// across samples divided by the elapsed wall-clock time, which is the
// same windowed-rate technique tools like iostat use.

package ioaware

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

type linuxSampler struct {
	mu       sync.Mutex
	lastAt   time.Time
	lastBusy map[string]uint64 // device name -> cumulative ms spent doing I/O
}

func newPlatformSampler(handles []Handle) (platformSampler, error) {
	s := &linuxSampler{lastBusy: make(map[string]uint64)}
	if _, _, err := s.readDiskstats(); err != nil {
		return nil, ErrNotSupported
	}
	s.lastAt = time.Now()
	return s, nil
}

func (s *linuxSampler) sample() (float64, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	busyDeltas, queueDepths, err := s.readDiskstats()
	if err != nil {
		return 0, 0
	}
	elapsedMS := float64(now.Sub(s.lastAt).Milliseconds())
	s.lastAt = now

	var maxBusy float64
	var maxQD int
	for dev, cum := range busyDeltas {
		prev := s.lastBusy[dev]
		s.lastBusy[dev] = cum
		if elapsedMS <= 0 || cum < prev {
			continue
		}
		frac := float64(cum-prev) / elapsedMS
		if frac > 1 {
			frac = 1
		}
		if frac > maxBusy {
			maxBusy = frac
		}
	}
	for _, qd := range queueDepths {
		if qd > maxQD {
			maxQD = qd
		}
	}
	return maxBusy, maxQD
}

// readDiskstats returns, per device name, the cumulative busy-time in ms
// (field 10) and current queue depth (field 9).
func (s *linuxSampler) readDiskstats() (map[string]uint64, map[string]int, error) {
	f, err := os.Open("/proc/diskstats")
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	busy := make(map[string]uint64)
	qd := make(map[string]int)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 13 {
			continue
		}
		name := fields[2]
		if !isPhysicalDisk(name) {
			continue
		}
		ms, err := strconv.ParseUint(fields[12], 10, 64)
		if err != nil {
			continue
		}
		inflight, err := strconv.Atoi(fields[11])
		if err != nil {
			continue
		}
		busy[name] = ms
		qd[name] = inflight
	}
	return busy, qd, sc.Err()
}

// isPhysicalDisk filters out partitions (e.g. sda1) and loop/ram devices,
// so only whole-disk counters are sampled.
func isPhysicalDisk(name string) bool {
	switch {
	case strings.HasPrefix(name, "loop"), strings.HasPrefix(name, "ram"):
		return false
	case strings.HasPrefix(name, "nvme"):
		return !strings.Contains(name, "p")
	default:
		i := len(name) - 1
		for i >= 0 && name[i] >= '0' && name[i] <= '9' {
			i--
		}
		return i == len(name)-1
	}
}
