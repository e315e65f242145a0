// Package resources detects host CPU and memory and sizes the worker pools
// used for discovery walks and parallel validation.
package resources

// Host describes detected system resources.
type Host struct {
	// CPUs is the number of logical CPUs.
	CPUs int

	// TotalRAM is physical memory in bytes.
	TotalRAM int64

	// AvailableRAM is free memory in bytes; an estimate on some platforms.
	AvailableRAM int64
}

// Pool limits.
const (
	// MaxWorkers caps every pool, including user overrides.
	MaxWorkers = 64

	minWalkWorkers     = 4
	minValidateWorkers = 2

	minQueue = 64
	maxQueue = 8192

	// bytesPerDocument budgets a queued document: path, raw bytes and node tree.
	bytesPerDocument = 64 * 1024

	queueMemoryFraction = 0.02
)

// Pools is the worker sizing for one run.
type Pools struct {
	// WalkWorkers is the fastwalk worker count.
	WalkWorkers int

	// ValidateWorkers is the number of documents validated concurrently.
	ValidateWorkers int

	// QueueSize buffers discovered paths waiting for validation.
	QueueSize int
}

// Calculate sizes the pools for host. Walking is metadata bound and gets
// at least minWalkWorkers; validation is CPU bound and follows the CPU
// count.
func Calculate(host Host) Pools {
	walk := min(max(host.CPUs, minWalkWorkers), MaxWorkers)
	validate := min(max(host.CPUs, minValidateWorkers), MaxWorkers)

	queue := int(float64(host.AvailableRAM) * queueMemoryFraction / bytesPerDocument)
	queue = min(max(queue, minQueue), maxQueue)

	return Pools{WalkWorkers: walk, ValidateWorkers: validate, QueueSize: queue}
}

// CalculateWithOverride applies a user worker count to both pools when
// override is positive, still capped at MaxWorkers.
func CalculateWithOverride(host Host, override int) Pools {
	pools := Calculate(host)
	if override > 0 {
		n := min(override, MaxWorkers)
		pools.WalkWorkers = n
		pools.ValidateWorkers = n
	}
	return pools
}

// Auto detects the host and sizes the pools, falling back to defaults
// when detection fails.
func Auto(override int) Pools {
	host, err := Detect()
	if err != nil {
		host = fallbackHost()
	}
	return CalculateWithOverride(host, override)
}
