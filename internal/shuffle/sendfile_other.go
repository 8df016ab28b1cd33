//go:build !linux

package shuffle

import "syscall"

// sendfileAll is the non-Linux fallback: a manual pread/write loop at the
// syscall level. It has no kernel-bypass zero-copy benefit, but it
// preserves the same descriptor-level, exact-byte-count contract as the
// Linux sendfile(2) path so the rest of the merge code does not need to
// know which platform it is running on.
func sendfileAll(dstFD, srcFD int, offset *int64, count int64) (int64, error) {
	buf := make([]byte, 256*1024)
	var total int64
	for total < count {
		chunk := int64(len(buf))
		if remaining := count - total; remaining < chunk {
			chunk = remaining
		}
		n, err := syscall.Pread(srcFD, buf[:chunk], *offset)
		if n > 0 {
			*offset += int64(n)
			if werr := writeAll(dstFD, buf[:n]); werr != nil {
				return total, werr
			}
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

func writeAll(fd int, p []byte) error {
	for len(p) > 0 {
		n, err := syscall.Write(fd, p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}
