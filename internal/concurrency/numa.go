// File: internal/concurrency/numa.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// NUMA topology discovery for SetNUMANode's validation. No platform build
// tag is needed: /sys/devices/system/node simply does not exist outside
// Linux, so NUMANodeCount degrades to ErrNUMANotAvailable there on its own.

package concurrency

import (
	"bufio"
	"errors"
	"os"
	"strconv"
	"strings"
)

// NUMANodeCount reports how many NUMA nodes the host exposes, reading the
// same "possible" range /proc and numactl tooling use. Returns
// ErrNUMANotAvailable when the topology file is absent or unparseable.
func NUMANodeCount() (int, error) {
	f, err := os.Open("/sys/devices/system/node/possible")
	if err != nil {
		return 0, ErrNUMANotAvailable
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return 0, ErrNUMANotAvailable
	}
	n, err := parseNodeRangeHighBound(sc.Text())
	if err != nil {
		return 0, ErrNUMANotAvailable
	}
	return n, nil
}

// parseNodeRangeHighBound parses a sysfs node-list string ("0", "0-1",
// "0-3,5") into a node count, taking the highest index plus one.
func parseNodeRangeHighBound(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty NUMA node range")
	}
	high := -1
	for _, group := range strings.Split(s, ",") {
		parts := strings.Split(strings.TrimSpace(group), "-")
		last := strings.TrimSpace(parts[len(parts)-1])
		n, err := strconv.Atoi(last)
		if err != nil {
			return 0, err
		}
		if n > high {
			high = n
		}
	}
	if high < 0 {
		return 0, errors.New("no NUMA nodes parsed")
	}
	return high + 1, nil
}
