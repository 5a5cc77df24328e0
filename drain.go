// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package interp

import (
	"bufio"
	"os"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
	"github.com/rs/zerolog"
)

// drainCapacity bounds buffered worker log lines between flushes. The
// producer never blocks on a full queue; overflow is counted and
// dropped.
const drainCapacity = 256

// logDrain carries worker diagnostics from the pipe-reader goroutine
// to the host. The queue is a bounded SPSC: the reader goroutine is
// the only producer, the host request loop is the only consumer (the
// public API is single-flight, so consumption is never concurrent).
type logDrain struct {
	q       *lfq.SPSC[string]
	eof     atomix.Uint32
	dropped atomix.Uint32
}

// startDrain consumes the worker's combined stdout/stderr pipe until
// EOF. EOF arrives once the worker is dead and the host has closed its
// write end.
func startDrain(r *os.File) *logDrain {
	d := &logDrain{q: lfq.NewSPSC[string](drainCapacity)}
	go func() {
		defer r.Close()
		defer d.eof.Store(1)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			line := sc.Text()
			if d.q.Enqueue(&line) != nil {
				d.dropped.Add(1)
			}
		}
	}()
	return d
}

// flush re-logs every queued worker line. Called from the host wait
// loop and during teardown.
func (d *logDrain) flush(log zerolog.Logger) {
	for {
		line, err := d.q.Dequeue()
		if err != nil {
			return
		}
		log.Info().Str("origin", "worker").Msg(line)
	}
}

// close waits briefly for the pipe to reach EOF, then flushes whatever
// remains. Bounded: a wedged pipe only delays teardown, never blocks it.
func (d *logDrain) close(log zerolog.Logger) {
	deadline := time.Now().Add(2 * time.Second)
	var bo iox.Backoff
	for d.eof.Load() == 0 && time.Now().Before(deadline) {
		bo.Wait()
	}
	d.flush(log)
	if n := d.dropped.Load(); n > 0 {
		log.Warn().Uint32("lines", n).Msg("worker log lines dropped")
	}
}
