//go:build !linux && !windows
// +build !linux,!windows

// control/platform_other.go
// Author: momentics <momentics@gmail.com>
//
// Platforms without a dedicated probe set still get a callable
// RegisterPlatformProbes; there is simply nothing platform-specific to add.

package control

// RegisterPlatformProbes is a no-op on platforms without a dedicated
// probe set above.
func RegisterPlatformProbes(dp *DebugProbes) {}
