// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations, DTOs, and constants.

package api

import "time"

// GroupState enumerates the lifecycle state of a work-item group.
type GroupState int

const (
	GroupIdle GroupState = iota
	GroupRunning
	GroupStopping
	GroupStopped
)

func (s GroupState) String() string {
	switch s {
	case GroupRunning:
		return "running"
	case GroupStopping:
		return "stopping"
	case GroupStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// PoolStats provides a standard layout for shared-pool health/statistics reporting.
type PoolStats struct {
	Workers        int
	ReadyQueued    int
	TimerQueued    int
	GroupsRunning  int
	ItemsEnrolled  int
	ItemsRetired   int
	StartedAt      time.Time
	LastGeneration uint64
}

// ServiceInfo exposes descriptive build- and runtime info for external tools.
type ServiceInfo struct {
	Name      string
	Version   string
	Build     string
	StartedAt time.Time
}
