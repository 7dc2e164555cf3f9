//go:build !darwin && !linux

package store

// filesystemType reports an unknown local filesystem where detection is unsupported.
func filesystemType(string) (string, error) {
	return "unknown", nil
}
