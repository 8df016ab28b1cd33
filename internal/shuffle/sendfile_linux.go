//go:build linux

package shuffle

import "golang.org/x/sys/unix"

// sendfileAll drives the host's zero-copy transfer primitive until count
// bytes have moved from src to dst at the given src offset, or an error
// occurs. offset is advanced in place.
func sendfileAll(dstFD, srcFD int, offset *int64, count int64) (int64, error) {
	var total int64
	for total < count {
		n, err := unix.Sendfile(dstFD, srcFD, offset, int(count-total))
		if n > 0 {
			total += int64(n)
		}
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}
