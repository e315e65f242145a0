//go:build linux

package resources

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Detect reads memory figures from sysinfo(2).
func Detect() (Host, error) {
	host := Host{CPUs: runtime.NumCPU()}

	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return host, fmt.Errorf("sysinfo: %w", err)
	}
	unit := int64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	host.TotalRAM = int64(info.Totalram) * unit
	host.AvailableRAM = (int64(info.Freeram) + int64(info.Bufferram)) * unit
	return host, nil
}
