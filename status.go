// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package interp

// Kind identifies the request stored in the mailbox.
type Kind uint32

const (
	KindNone Kind = iota
	KindProcessCode
	KindCodeComplete
	KindEvaluate
	KindShutdown
)

// Valid reports whether k is an in-range request kind.
func (k Kind) Valid() bool {
	return k <= KindShutdown
}

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindProcessCode:
		return "process-code"
	case KindCodeComplete:
		return "code-complete"
	case KindEvaluate:
		return "evaluate"
	case KindShutdown:
		return "shutdown"
	}
	return "invalid"
}

// Status is the worker's published response status.
type Status uint32

const (
	StatusNone Status = iota
	StatusSuccess
	StatusCompilationError
	StatusRuntimeError
	StatusSystemError
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusSuccess:
		return "success"
	case StatusCompilationError:
		return "compilation-error"
	case StatusRuntimeError:
		return "runtime-error"
	case StatusSystemError:
		return "system-error"
	}
	return "invalid"
}
