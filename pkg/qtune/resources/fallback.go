package resources

import "runtime"

const fallbackRAM = 8 << 30

func fallbackHost() Host {
	return Host{
		CPUs:         runtime.NumCPU(),
		TotalRAM:     fallbackRAM,
		AvailableRAM: fallbackRAM / 2,
	}
}
