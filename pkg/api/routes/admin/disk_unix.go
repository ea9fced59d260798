//go:build linux || darwin

package admin

import "golang.org/x/sys/unix"

func diskUsage(path string) (diskStats, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return diskStats{}, err
	}
	bsize := uint64(st.Bsize)
	return diskStats{
		Total: uint64(st.Blocks) * bsize,
		Free:  uint64(st.Bavail) * bsize,
	}, nil
}
