// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package minicpp is the self-contained engine behind the interpreter
// façade: a miniature C++-fragment front end with cumulative session
// state, integer expression evaluation, prefix completion over a small
// symbol table, and stacked stream captures. The shipped worker binary
// and the bridge tests run on it; a real interop binding is a drop-in
// replacement for Engine.
package minicpp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"code.hybscloud.com/interp"
)

// Engine implements interp.Engine.
type Engine struct{}

// ResourceDir reports no resource directory; the engine carries no
// compiler runtime.
func (Engine) ResourceDir() string { return "" }

// SystemIncludePaths returns the conventional system include
// directories. The worker validates them; missing ones are dropped.
func (Engine) SystemIncludePaths() []string {
	return []string{"/usr/include", "/usr/local/include"}
}

// New creates a fresh session. args is accepted for interface
// compatibility and recorded for diagnostics only.
func (Engine) New(args []string) (interp.Interpreter, error) {
	return NewSession(args), nil
}

// Session is one interpreter instance. Declarations accumulate across
// Process calls for the lifetime of the session.
type Session struct {
	args []string
	vars map[string]int64
	caps []*capture
}

type capture struct {
	stream interp.Stream
	buf    strings.Builder
}

// NewSession returns an empty session.
func NewSession(args []string) *Session {
	return &Session{args: args, vars: make(map[string]int64)}
}

// BeginCapture pushes a capture frame for the given stream.
func (s *Session) BeginCapture(st interp.Stream) {
	s.caps = append(s.caps, &capture{stream: st})
}

// EndCapture pops the most recent frame and returns its contents.
// Frames end in LIFO order regardless of stream.
func (s *Session) EndCapture() string {
	if len(s.caps) == 0 {
		return ""
	}
	top := s.caps[len(s.caps)-1]
	s.caps = s.caps[:len(s.caps)-1]
	return top.buf.String()
}

// emit routes text to the topmost frame capturing st. Uncaptured
// output is discarded.
func (s *Session) emit(st interp.Stream, text string) {
	for i := len(s.caps) - 1; i >= 0; i-- {
		if s.caps[i].stream == st {
			s.caps[i].buf.WriteString(text)
			return
		}
	}
}

var typeNames = map[string]bool{
	"auto": true, "int": true, "long": true, "short": true,
	"int64_t": true, "int32_t": true, "size_t": true,
}

// Process compiles and runs a fragment: pragma lines, declarations,
// assignments, stream inserters, and expression statements. The first
// diagnostic aborts the fragment and reports a failed compile. A
// division by zero also aborts it, but is written to stderr as a
// runtime error and the compile outcome stays true.
func (s *Session) Process(src string) (bool, error) {
	var body strings.Builder
	for _, line := range strings.Split(src, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			s.pragma(strings.TrimSpace(line))
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	for _, stmt := range strings.Split(body.String(), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if err := s.execStmt(stmt); err != nil {
			if errors.Is(err, errDivideByZero) {
				s.emit(interp.StreamStderr, "runtime error: "+err.Error()+"\n")
				return true, nil
			}
			s.emit(interp.StreamStderr, "error: "+err.Error()+"\n")
			return false, nil
		}
	}
	return true, nil
}

// pragma handles directives. "#pragma minicpp sleep <ms>" stalls the
// session, standing in for a long compilation; everything else is
// ignored like an unknown vendor pragma.
func (s *Session) pragma(line string) {
	fields := strings.Fields(line)
	if len(fields) == 4 && fields[0] == "#pragma" && fields[1] == "minicpp" && fields[2] == "sleep" {
		if ms, err := strconv.Atoi(fields[3]); err == nil && ms > 0 {
			time.Sleep(time.Duration(ms) * time.Millisecond)
		}
	}
}

func (s *Session) execStmt(stmt string) error {
	if rest, ok := strings.CutPrefix(stmt, "std::cout"); ok {
		return s.insert(interp.StreamStdout, rest)
	}
	if rest, ok := strings.CutPrefix(stmt, "std::cerr"); ok {
		return s.insert(interp.StreamStderr, rest)
	}
	if idx := strings.IndexByte(stmt, '='); idx >= 0 {
		left := strings.Fields(stmt[:idx])
		rhs := strings.TrimSpace(stmt[idx+1:])
		switch {
		case len(left) == 2 && typeNames[left[0]] && isIdent(left[1]):
			if _, exists := s.vars[left[1]]; exists {
				return fmt.Errorf("redefinition of %q", left[1])
			}
			v, err := s.eval(rhs)
			if err != nil {
				return err
			}
			s.vars[left[1]] = v
			return nil
		case len(left) == 1 && isIdent(left[0]) && !typeNames[left[0]]:
			if _, exists := s.vars[left[0]]; !exists {
				return fmt.Errorf("use of undeclared identifier %q", left[0])
			}
			v, err := s.eval(rhs)
			if err != nil {
				return err
			}
			s.vars[left[0]] = v
			return nil
		default:
			return fmt.Errorf("expected identifier before '='")
		}
	}
	_, err := s.eval(stmt)
	return err
}

// insert handles a chain of << operands after std::cout or std::cerr.
func (s *Session) insert(st interp.Stream, rest string) error {
	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(rest, "<<") {
		return fmt.Errorf("expected %q after stream", "<<")
	}
	for _, op := range strings.Split(rest, "<<") {
		op = strings.TrimSpace(op)
		if op == "" {
			continue
		}
		switch {
		case op == "std::endl":
			s.emit(st, "\n")
		case op[0] == '"':
			text, err := strconv.Unquote(op)
			if err != nil {
				return fmt.Errorf("malformed string literal %s", op)
			}
			s.emit(st, text)
		default:
			v, err := s.eval(op)
			if err != nil {
				return err
			}
			s.emit(st, strconv.FormatInt(v, 10))
		}
	}
	return nil
}

// Evaluate runs a single expression to a 64-bit integer.
func (s *Session) Evaluate(src string) (int64, error) {
	return s.eval(strings.TrimSpace(src))
}

// stdSymbols are the completion candidates the engine knows about
// beyond the session's own declarations.
var stdSymbols = []string{
	"array", "deque", "endl", "list", "map", "set", "size_t",
	"sort", "string", "swap", "vector", "wstring",
}

// CodeComplete returns candidates whose names start with the
// identifier fragment ending at the 1-based column. line is accepted
// for interface compatibility; fragments are single-line.
func (s *Session) CodeComplete(src string, line, col int) ([]string, error) {
	cursor := col - 1
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(src) {
		cursor = len(src)
	}
	start := cursor
	for start > 0 && isIdentByte(src[start-1]) {
		start--
	}
	prefix := src[start:cursor]

	var out []string
	for _, sym := range stdSymbols {
		if strings.HasPrefix(sym, prefix) {
			out = append(out, sym)
		}
	}
	for name := range s.vars {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	return out, nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	if s[0] >= '0' && s[0] <= '9' {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isIdentByte(s[i]) {
			return false
		}
	}
	return true
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
