// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package interp

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// POSIX named segments live under /dev/shm on Linux; a segment name
// "/xcpp_shm_123" maps to /dev/shm/xcpp_shm_123.
const shmDir = "/dev/shm"

const (
	openAttempts = 50
	openBackoff  = 100 * time.Millisecond
)

func segmentPath(name string) string {
	return filepath.Join(shmDir, strings.TrimPrefix(name, "/"))
}

// createSegment creates the named segment exclusively, sizes it to
// size bytes, and maps it read-write. A stale segment left by a
// crashed predecessor is unlinked first.
func createSegment(name string, size int) (*os.File, []byte, error) {
	path := segmentPath(name)
	_ = os.Remove(path)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		return nil, nil, fmt.Errorf("interp: create segment %s: %w", name, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		_ = os.Remove(path)
		return nil, nil, fmt.Errorf("interp: size segment %s: %w", name, err)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		_ = os.Remove(path)
		return nil, nil, fmt.Errorf("interp: map segment %s: %w", name, err)
	}
	return f, mem, nil
}

// openSegment opens an existing named segment read-write, retrying on
// absence to ride out the host-worker startup race, and maps size
// bytes of it.
func openSegment(name string, size int, attempts int, backoff time.Duration) (*os.File, []byte, error) {
	path := segmentPath(name)
	var f *os.File
	var err error
	for i := 0; i < attempts; i++ {
		f, err = os.OpenFile(path, os.O_RDWR, 0o666)
		if err == nil {
			break
		}
		time.Sleep(backoff)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("interp: open segment %s: %w", name, err)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("interp: map segment %s: %w", name, err)
	}
	return f, mem, nil
}

// closeSegment unmaps and closes; it never unlinks. Safe on nil or
// partially-initialized state.
func closeSegment(f *os.File, mem []byte) {
	if mem != nil {
		_ = unix.Munmap(mem)
	}
	if f != nil {
		_ = f.Close()
	}
}

// unlinkSegment removes the segment name. Only the host unlinks.
func unlinkSegment(name string) error {
	err := os.Remove(segmentPath(name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// fallbackMaxSegment is used when the system limit cannot be read.
const fallbackMaxSegment = 1 << 20

// maxSegmentSize reads the system shared-memory ceiling, falling back
// to a conservative 1 MiB.
func maxSegmentSize() int {
	b, err := os.ReadFile("/proc/sys/kernel/shmmax")
	if err != nil {
		return fallbackMaxSegment
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return fallbackMaxSegment
	}
	const maxInt = int(^uint(0) >> 1)
	if v > uint64(maxInt) {
		return maxInt
	}
	return int(v)
}

// clampSegmentSize bounds a requested mapping size to the record
// minimum and the system maximum. Oversize and undersize requests are
// adjusted, never refused.
func clampSegmentSize(requested int, log zerolog.Logger) int {
	maxSize := maxSegmentSize()
	if requested > maxSize {
		log.Warn().Int("requested", requested).Int("max", maxSize).
			Msg("segment size exceeds system limit, clamping")
		return maxSize
	}
	if requested < MailboxSize {
		log.Warn().Int("requested", requested).Int("min", MailboxSize).
			Msg("segment size below record size, clamping")
		return MailboxSize
	}
	return requested
}
