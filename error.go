// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package interp

import "errors"

// Transport-level failures. ErrTimeout and ErrWorkerExited are
// unrecoverable for the current worker: the client tears the worker
// down and every further request fails with ErrTornDown until
// Initialize is re-run. Semantic failures (compilation, runtime) are not errors at this
// level; they travel back through the response status.
var (
	// ErrNotInitialized is returned when no live worker is attached.
	ErrNotInitialized = errors.New("interp: not initialized")
	// ErrBusy is returned when a request is already in flight. The
	// mailbox is a single-slot rendezvous; there is no pipelining.
	ErrBusy = errors.New("interp: request already in flight")
	// ErrTimeout is returned when the per-request deadline elapses
	// before the worker publishes a response.
	ErrTimeout = errors.New("interp: timed out waiting for worker")
	// ErrWorkerExited is returned when the worker is reaped while a
	// response is pending.
	ErrWorkerExited = errors.New("interp: worker exited before responding")
	// ErrTornDown is returned once a worker has been torn down, until
	// Initialize is re-run. It distinguishes a spent client from one
	// that was never initialized.
	ErrTornDown = errors.New("interp: worker torn down")
)
