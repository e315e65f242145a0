//go:build darwin

package resources

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Detect reads hw.memsize. macOS has no cheap free-memory figure, so half
// of physical memory is assumed available.
func Detect() (Host, error) {
	host := Host{CPUs: runtime.NumCPU()}

	memsize, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		return host, fmt.Errorf("sysctl hw.memsize: %w", err)
	}
	host.TotalRAM = int64(memsize)
	host.AvailableRAM = host.TotalRAM / 2
	return host, nil
}
