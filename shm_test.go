// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package interp

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testSegmentName(t *testing.T) string {
	t.Helper()
	name := fmt.Sprintf("/interp_test_%d_%s", os.Getpid(), t.Name())
	t.Cleanup(func() { _ = unlinkSegment(name) })
	return name
}

func TestSegmentCreateOpenUnlink(t *testing.T) {
	name := testSegmentName(t)

	f, mem, err := createSegment(name, MailboxSize)
	if err != nil {
		t.Fatal(err)
	}
	mem[0] = 0xA5

	wf, wmem, err := openSegment(name, MailboxSize, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if wmem[0] != 0xA5 {
		t.Fatal("mappings do not share memory")
	}
	wmem[1] = 0x5A
	if mem[1] != 0x5A {
		t.Fatal("writes do not propagate")
	}

	closeSegment(wf, wmem)
	closeSegment(f, mem)
	if err := unlinkSegment(name); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(segmentPath(name)); err == nil {
		t.Fatal("segment still present after unlink")
	}
	if err := unlinkSegment(name); err != nil {
		t.Fatalf("second unlink got %v", err)
	}
}

func TestSegmentCreateReplacesStale(t *testing.T) {
	name := testSegmentName(t)
	if err := os.WriteFile(segmentPath(name), []byte("stale"), 0o666); err != nil {
		t.Fatal(err)
	}
	f, mem, err := createSegment(name, MailboxSize)
	if err != nil {
		t.Fatal(err)
	}
	if len(mem) != MailboxSize {
		t.Fatalf("mapped %d bytes, want %d", len(mem), MailboxSize)
	}
	if mem[0] != 0 {
		t.Fatal("stale contents survived")
	}
	closeSegment(f, mem)
}

func TestOpenSegmentAbsent(t *testing.T) {
	start := time.Now()
	_, _, err := openSegment("/interp_test_absent", MailboxSize, 3, time.Millisecond)
	if err == nil {
		t.Fatal("opened a segment that does not exist")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("retry loop took %v", elapsed)
	}
}

func TestClampSegmentSize(t *testing.T) {
	log := zerolog.Nop()
	if got := clampSegmentSize(1, log); got != MailboxSize {
		t.Fatalf("undersize clamp got %d, want %d", got, MailboxSize)
	}
	if got := clampSegmentSize(MailboxSize, log); got != MailboxSize {
		t.Fatalf("exact size got %d, want %d", got, MailboxSize)
	}
	maxSize := maxSegmentSize()
	if maxSize > MailboxSize && maxSize < 1<<50 {
		if got := clampSegmentSize(maxSize+1, log); got != maxSize {
			t.Fatalf("oversize clamp got %d, want %d", got, maxSize)
		}
	}
}

func TestCloseSegmentPartialState(t *testing.T) {
	closeSegment(nil, nil)

	name := testSegmentName(t)
	f, mem, err := createSegment(name, MailboxSize)
	if err != nil {
		t.Fatal(err)
	}
	closeSegment(f, nil)
	closeSegment(nil, mem)
}
