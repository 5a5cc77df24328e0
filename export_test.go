// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package interp

import (
	"time"

	"github.com/rs/zerolog"
)

// TestWorker is the package-external test handle onto the unexported
// worker state machine, letting interp_test drive it without importing
// minicpp into package interp itself (which would cycle back here).
type TestWorker struct {
	w *worker
}

// NewTestWorker builds a worker directly around a mailbox and
// interpreter, bypassing Serve's segment-opening.
func NewTestWorker(mb *Mailbox, itp Interpreter, log zerolog.Logger) *TestWorker {
	return &TestWorker{w: &worker{mb: mb, itp: itp, log: log}}
}

// Run polls for requests until shutdown, as worker.run.
func (tw *TestWorker) Run(poll time.Duration) { tw.w.run(poll) }

// Dispatch handles one observed request, as worker.dispatch.
func (tw *TestWorker) Dispatch() (done bool) { return tw.w.dispatch() }

// WatchOrphanForTest exposes watchOrphan to interp_test.
func WatchOrphanForTest(every time.Duration, getppid func() int, exit func(int)) {
	watchOrphan(every, getppid, exit)
}
