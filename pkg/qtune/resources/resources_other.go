//go:build !linux && !darwin

package resources

// Detect returns the fallback host; memory detection is not implemented on
// this platform.
func Detect() (Host, error) {
	return fallbackHost(), nil
}
