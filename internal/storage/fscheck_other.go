//go:build !darwin && !linux

package storage

import "fmt"

func filesystemType(path string) (string, error) {
	return "", fmt.Errorf("filesystem detection is not supported on this platform")
}
