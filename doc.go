// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package interp provides an out-of-process interpreter bridge: a host
// [Client] drives a worker process over a fixed-layout shared-memory
// [Mailbox], keeping a crash-prone embedded C++ interpreter out of the
// host's address space.
//
// # Architecture
//
//   - Transport: one shared segment holding a single [Mailbox] record
//     (≤ 64 KiB, statically asserted). Each direction is a
//     single-producer single-consumer rendezvous: an atomic flag
//     published with release ordering and observed with acquire
//     ordering, payload writes strictly before the flag flip.
//   - Non-blocking: [Mailbox.PollRequest] and [Mailbox.PollResponse]
//     return [code.hybscloud.com/iox.ErrWouldBlock] until the peer
//     publishes; both sides wait by polling with a short sleep, never
//     by kernel primitives that could outlive a crashed peer.
//   - Single-flight: at most one outstanding request per mailbox. The
//     single-slot flag protocol is the ordering guarantee; there is no
//     pipelining.
//   - Supervision: during a wait the host reaps the worker
//     non-blockingly each cycle and bounds the request with one
//     deadline. A dead or silent worker is torn down: SIGTERM, SIGKILL
//     to the process group, unmap, unlink. The worker's orphan watcher
//     handles the symmetric host-crash case.
//
// # Request cycle
//
// Host: Reset, write payload, store kind, publish request_ready. Worker:
// observe, dispatch, write response fields, clear request_ready, publish
// response_ready. Host: observe, snapshot response; the next Reset
// clears both flags.
//
// # Processes
//
// The host creates the segment exclusively under a per-process name and
// spawns the worker binary (cmd/interp-worker) with the segment name on
// its argv. The worker attaches with retry, builds the interpreter
// behind the [Interpreter] façade, and serves until SHUTDOWN or signal.
// Only the host unlinks the segment.
package interp
