// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package interp

// Mailbox record layout. The record is a fixed-size byte image shared
// between the host and worker processes; every field lives at a static
// offset so both sides agree without marshalling. Scalars are little
// concern here because both sides are the same binary family; offsets
// keep the 64-bit evaluation result 8-byte aligned.
const (
	// MaxCodeSize is the capacity of the request code buffer.
	MaxCodeSize = 16 << 10
	// MaxOutputSize is the capacity of the captured stdout buffer.
	MaxOutputSize = 16 << 10
	// MaxErrorSize is the capacity of the error text buffer.
	MaxErrorSize = 8 << 10
	// MaxCompletionSize is the capacity of the newline-joined completion buffer.
	MaxCompletionSize = 8 << 10
)

const (
	offRequestReady   = 0  // uint32, acquire/release flag
	offResponseReady  = 4  // uint32, acquire/release flag
	offRequestKind    = 8  // uint32
	offResponseStatus = 12 // uint32
	offCodeLen        = 16 // uint32
	offCursor         = 20 // int32
	offOutputLen      = 24 // uint32
	offErrorLen       = 28 // uint32
	offCompletionLen  = 32 // uint32
	offCompilation    = 36 // uint32, 0 or 1
	offEvaluation     = 40 // int64
	offCode           = 48
	offOutput         = offCode + MaxCodeSize
	offError          = offOutput + MaxOutputSize
	offCompletion     = offError + MaxErrorSize

	// MailboxSize is the total record size mapped into both processes.
	MailboxSize = offCompletion + MaxCompletionSize
)

// The whole record must fit a conservative 64 KiB shared-segment limit.
const _ = uint32(64<<10 - MailboxSize)
