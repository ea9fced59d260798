//go:build !linux && !darwin

package admin

import "errors"

func diskUsage(string) (diskStats, error) {
	return diskStats{}, errors.New("disk stats not supported on this platform")
}
