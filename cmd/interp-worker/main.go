// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command interp-worker is the interpreter worker process. It is
// launched by the host as
//
//	interp-worker <segment_name> [size_bytes]
//
// and serves compile, completion, and evaluation requests over the
// shared-memory mailbox until the host sends SHUTDOWN or a signal
// arrives. It exits 0 on clean shutdown and 1 on any initialization
// failure.
package main

import (
	"os"

	"code.hybscloud.com/interp"
	"code.hybscloud.com/interp/internal/minicpp"
)

func main() {
	os.Exit(interp.WorkerMain(os.Args[1:], minicpp.Engine{}))
}
