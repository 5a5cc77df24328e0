// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package interp

import (
	"fmt"
	"strings"
	"sync/atomic"
	"unsafe"

	"code.hybscloud.com/iox"
)

// Mailbox is the fixed-layout rendezvous record shared by the host and
// worker. Each direction is single-producer single-consumer: the host
// owns the request payload until it publishes request_ready, the worker
// owns the response payload until it publishes response_ready.
//
// Flag publication uses the atomic package on the mapped words; payload
// fields are plain writes sequenced before the publishing flag store
// and read only after the flag load observes it.
type Mailbox struct {
	mem []byte
}

// NewMailbox wraps a mapped record image. The backing memory must hold
// at least MailboxSize bytes and be 8-byte aligned (segment mappings
// are page aligned; local records come from NewLocalMailbox).
func NewMailbox(mem []byte) (*Mailbox, error) {
	if len(mem) < MailboxSize {
		return nil, fmt.Errorf("interp: mailbox backing too small: %d < %d", len(mem), MailboxSize)
	}
	if uintptr(unsafe.Pointer(&mem[0]))&7 != 0 {
		return nil, fmt.Errorf("interp: mailbox backing not 8-byte aligned")
	}
	return &Mailbox{mem: mem[:MailboxSize]}, nil
}

// NewLocalMailbox allocates a process-local record, usable for loopback
// operation and benchmarks where both sides live in one process.
func NewLocalMailbox() *Mailbox {
	words := make([]uint64, MailboxSize/8)
	mem := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), MailboxSize)
	return &Mailbox{mem: mem}
}

func (m *Mailbox) u32(off uintptr) *uint32 {
	return (*uint32)(unsafe.Pointer(&m.mem[off]))
}

func (m *Mailbox) i32(off uintptr) *int32 {
	return (*int32)(unsafe.Pointer(&m.mem[off]))
}

func (m *Mailbox) i64(off uintptr) *int64 {
	return (*int64)(unsafe.Pointer(&m.mem[off]))
}

// Reset zeroes flags, enums, lengths, scalars, and all four buffers.
// Called by the host immediately before each request write; the worker
// calls it once when it first attaches. Flags drop first so a polling
// peer cannot observe a half-cleared payload as ready.
func (m *Mailbox) Reset() {
	atomic.StoreUint32(m.u32(offRequestReady), 0)
	atomic.StoreUint32(m.u32(offResponseReady), 0)
	atomic.StoreUint32(m.u32(offRequestKind), 0)
	atomic.StoreUint32(m.u32(offResponseStatus), 0)
	clear(m.mem[offCodeLen:MailboxSize])
}

// setBuffer truncates s to capacity-1 bytes, copies it, writes the
// cosmetic NUL terminator, and records the authoritative length.
func (m *Mailbox) setBuffer(off, capacity uintptr, lenOff uintptr, s string) {
	n := len(s)
	if n > int(capacity)-1 {
		n = int(capacity) - 1
	}
	copy(m.mem[off:off+uintptr(n)], s[:n])
	m.mem[off+uintptr(n)] = 0
	*m.u32(lenOff) = uint32(n)
}

func (m *Mailbox) buffer(off, capacity uintptr, lenOff uintptr) string {
	n := uintptr(*m.u32(lenOff))
	if n > capacity-1 {
		n = capacity - 1
	}
	return string(m.mem[off : off+n])
}

// SetCode stores the request source fragment, truncated to MaxCodeSize-1.
func (m *Mailbox) SetCode(code string) {
	m.setBuffer(offCode, MaxCodeSize, offCodeLen, code)
}

// Code returns a copy of exactly code_length bytes.
func (m *Mailbox) Code() string {
	return m.buffer(offCode, MaxCodeSize, offCodeLen)
}

// SetCursor stores the 0-based byte cursor used by completion requests.
func (m *Mailbox) SetCursor(pos int32) { *m.i32(offCursor) = pos }

// Cursor returns the completion cursor.
func (m *Mailbox) Cursor() int32 { return *m.i32(offCursor) }

// SetOutput stores captured stdout, truncated to MaxOutputSize-1.
func (m *Mailbox) SetOutput(out string) {
	m.setBuffer(offOutput, MaxOutputSize, offOutputLen, out)
}

// Output returns the captured stdout blob.
func (m *Mailbox) Output() string {
	return m.buffer(offOutput, MaxOutputSize, offOutputLen)
}

// SetErrorText stores error text (captured stderr or a failure
// message), truncated to MaxErrorSize-1.
func (m *Mailbox) SetErrorText(s string) {
	m.setBuffer(offError, MaxErrorSize, offErrorLen, s)
}

// ErrorText returns the error text blob.
func (m *Mailbox) ErrorText() string {
	return m.buffer(offError, MaxErrorSize, offErrorLen)
}

// SetCompletions serializes candidates as a newline-joined list with no
// trailing separator. Entries that do not fit whole within
// MaxCompletionSize-1 bytes are dropped, along with everything after
// them; entries are never cut mid-bytes.
func (m *Mailbox) SetCompletions(xs []string) {
	var b strings.Builder
	for i, x := range xs {
		need := len(x)
		if i > 0 {
			need++
		}
		if b.Len()+need > MaxCompletionSize-1 {
			break
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(x)
	}
	m.setBuffer(offCompletion, MaxCompletionSize, offCompletionLen, b.String())
}

// Completions decodes the newline-joined candidate list. An empty
// buffer decodes to nil.
func (m *Mailbox) Completions() []string {
	s := m.buffer(offCompletion, MaxCompletionSize, offCompletionLen)
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// SetCompilationResult records the interpreter's compile outcome.
func (m *Mailbox) SetCompilationResult(ok bool) {
	var v uint32
	if ok {
		v = 1
	}
	*m.u32(offCompilation) = v
}

// CompilationResult reports the interpreter's compile outcome.
func (m *Mailbox) CompilationResult() bool {
	return *m.u32(offCompilation) != 0
}

// SetEvaluationResult records the evaluator's 64-bit integer result.
func (m *Mailbox) SetEvaluationResult(v int64) { *m.i64(offEvaluation) = v }

// EvaluationResult returns the evaluator's result.
func (m *Mailbox) EvaluationResult() int64 { return *m.i64(offEvaluation) }

// SetKind stores the request kind. Must precede PublishRequest.
func (m *Mailbox) SetKind(k Kind) {
	atomic.StoreUint32(m.u32(offRequestKind), uint32(k))
}

// Kind returns the stored request kind.
func (m *Mailbox) Kind() Kind {
	return Kind(atomic.LoadUint32(m.u32(offRequestKind)))
}

// SetStatus stores the response status. Must precede PublishResponse.
func (m *Mailbox) SetStatus(s Status) {
	atomic.StoreUint32(m.u32(offResponseStatus), uint32(s))
}

// Status returns the published response status.
func (m *Mailbox) Status() Status {
	return Status(atomic.LoadUint32(m.u32(offResponseStatus)))
}

// PublishRequest flips request_ready with release ordering. The host
// must not mutate the request payload until the response is observed.
func (m *Mailbox) PublishRequest() {
	atomic.StoreUint32(m.u32(offRequestReady), 1)
}

// PollRequest is the worker's non-blocking probe. Returns
// iox.ErrWouldBlock until request_ready is observed with acquire
// ordering.
func (m *Mailbox) PollRequest() error {
	if atomic.LoadUint32(m.u32(offRequestReady)) == 0 {
		return iox.ErrWouldBlock
	}
	return nil
}

// PublishResponse clears request_ready, then flips response_ready with
// release ordering. The clear must come first: the host's next Reset
// drops both flags, and inverting here can leave a stale request
// observable across the next cycle.
func (m *Mailbox) PublishResponse() {
	atomic.StoreUint32(m.u32(offRequestReady), 0)
	atomic.StoreUint32(m.u32(offResponseReady), 1)
}

// PollResponse is the host's non-blocking probe. Returns
// iox.ErrWouldBlock until response_ready is observed with acquire
// ordering. The flag stays set; the next Reset clears it.
func (m *Mailbox) PollResponse() error {
	if atomic.LoadUint32(m.u32(offResponseReady)) == 0 {
		return iox.ErrWouldBlock
	}
	return nil
}

// RequestReady reports the raw request flag.
func (m *Mailbox) RequestReady() bool {
	return atomic.LoadUint32(m.u32(offRequestReady)) != 0
}

// ResponseReady reports the raw response flag.
func (m *Mailbox) ResponseReady() bool {
	return atomic.LoadUint32(m.u32(offResponseReady)) != 0
}
