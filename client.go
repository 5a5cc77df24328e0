// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package interp

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/kont"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Config configures the host controller. The zero value works for a
// worker binary named interp-worker on PATH.
type Config struct {
	// WorkerPath is the worker binary. Default "interp-worker".
	WorkerPath string
	// SegmentName overrides the default "/xcpp_shm_<pid>" name.
	SegmentName string
	// SegmentSize, when > 0, is passed to the worker as a mapping
	// size override. The host always maps exactly MailboxSize.
	SegmentSize int
	// RequestTimeout bounds one request/response cycle. Default 100s.
	RequestTimeout time.Duration
	// PollInterval is the response poll and child reap cadence.
	// Default 1ms.
	PollInterval time.Duration
	// StartupGrace is how long Initialize waits before probing
	// whether the worker died on startup. Default 100ms.
	StartupGrace time.Duration
	// ShutdownGrace is how long Shutdown waits after sending the
	// SHUTDOWN request before signalling. Default 100ms.
	ShutdownGrace time.Duration
	// Env is the worker environment; nil inherits the host's.
	Env []string
	// Logger overrides the default stderr logger.
	Logger *zerolog.Logger
}

// Client lifecycle states, held in the up word.
const (
	stateDown uint32 = iota // never initialized
	stateUp                 // worker alive and trusted
	stateTorn               // torn down; Initialize must be re-run
)

// Client is the host controller: it owns the segment, supervises the
// worker, and serializes requests over the mailbox. At most one
// request is in flight; a second concurrent call fails with ErrBusy.
type Client struct {
	cfg Config
	log zerolog.Logger

	mu     sync.Mutex
	name   string
	file   *os.File
	mem    []byte
	mb     *Mailbox
	cmd    *exec.Cmd
	pid    int
	reaped bool
	logs   *logDrain
	up     atomix.Uint32
}

// response is the host's copy of the worker's published fields, taken
// while the request lock is held so later reads never race a new cycle.
type response struct {
	status      Status
	output      string
	errText     string
	completions []string
	compiled    bool
	value       int64
}

// NewClient returns an unstarted client; call Initialize to spawn the
// worker.
func NewClient(cfg Config) *Client {
	log := zerolog.New(os.Stderr).With().Timestamp().Str("component", "host").Logger()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	if cfg.WorkerPath == "" {
		cfg.WorkerPath = "interp-worker"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 100 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Millisecond
	}
	if cfg.StartupGrace <= 0 {
		cfg.StartupGrace = 100 * time.Millisecond
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 100 * time.Millisecond
	}
	return &Client{cfg: cfg, log: log}
}

// SegmentName returns the segment name this client creates.
func (c *Client) SegmentName() string {
	if c.cfg.SegmentName != "" {
		return c.cfg.SegmentName
	}
	return fmt.Sprintf("/xcpp_shm_%d", os.Getpid())
}

// WorkerPID returns the supervised worker's pid, or 0 when down.
func (c *Client) WorkerPID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.up.Load() != stateUp {
		return 0
	}
	return c.pid
}

// Initialize creates the segment, spawns the worker, and waits out the
// startup grace window. On any failure it releases whatever was
// acquired and returns the cause.
func (c *Client) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.up.Load() == stateUp {
		return nil
	}

	c.name = c.SegmentName()
	f, mem, err := createSegment(c.name, MailboxSize)
	if err != nil {
		return err
	}
	c.file, c.mem = f, mem
	c.mb, err = NewMailbox(mem)
	if err != nil {
		c.cleanupLocked()
		return err
	}
	c.mb.Reset()

	if err := c.spawnLocked(); err != nil {
		c.cleanupLocked()
		return err
	}

	time.Sleep(c.cfg.StartupGrace)
	if c.reapNonBlocking() {
		c.cleanupLocked()
		return fmt.Errorf("interp: worker exited during startup: %w", ErrWorkerExited)
	}

	c.up.Store(stateUp)
	c.log.Info().Str("segment", c.name).Int("pid", c.pid).Msg("worker initialized")
	return nil
}

// spawnLocked forks and execs the worker with its stdout and stderr
// joined onto one diagnostic pipe. The worker leads its own process
// group so teardown can kill stragglers it spawned.
func (c *Client) spawnLocked() error {
	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("interp: diagnostic pipe: %w", err)
	}

	argv := []string{c.name}
	if c.cfg.SegmentSize > 0 {
		argv = append(argv, strconv.Itoa(c.cfg.SegmentSize))
	}
	cmd := exec.Command(c.cfg.WorkerPath, argv...)
	cmd.Stdout = pw
	cmd.Stderr = pw
	cmd.Env = c.cfg.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return fmt.Errorf("interp: start worker: %w", err)
	}
	pw.Close()
	c.cmd = cmd
	c.pid = cmd.Process.Pid
	c.reaped = false
	c.logs = startDrain(pr)
	return nil
}

// reapNonBlocking polls the child's exit status without blocking.
// Reports true once the child is gone; safe to call repeatedly.
func (c *Client) reapNonBlocking() bool {
	if c.pid <= 0 || c.reaped {
		return c.reaped
	}
	var ws unix.WaitStatus
	pid, err := unix.Wait4(c.pid, &ws, unix.WNOHANG, nil)
	if err != nil {
		if errors.Is(err, unix.ECHILD) {
			c.reaped = true
		}
		return c.reaped
	}
	if pid == c.pid {
		c.reaped = true
		c.log.Info().Int("pid", pid).Int("status", int(ws)).Msg("worker reaped")
	}
	return c.reaped
}

// reapChild waits out a grace period for the child to exit, then
// escalates to SIGKILL on the process group and a final blocking reap.
func (c *Client) reapChild(grace time.Duration) {
	if c.pid <= 0 || c.reaped {
		return
	}
	deadline := time.Now().Add(grace)
	for !c.reapNonBlocking() {
		if time.Now().After(deadline) {
			_ = unix.Kill(-c.pid, unix.SIGKILL)
			var ws unix.WaitStatus
			_, _ = unix.Wait4(c.pid, &ws, 0, nil)
			c.reaped = true
			return
		}
		time.Sleep(c.cfg.PollInterval)
	}
}

// ProcessCode compiles and runs a source fragment on the worker.
// Returns the captured stdout and stderr blobs and the compile status.
// A compilation failure is not an error: the compile status is false
// and stderr holds the diagnostics.
func (c *Client) ProcessCode(code string) (stdout, stderr string, compiled bool, err error) {
	resp, err := c.roundTrip(KindProcessCode, code, 0)
	if err != nil {
		return "", "", false, err
	}
	switch resp.status {
	case StatusSuccess, StatusCompilationError:
		return resp.output, resp.errText, resp.compiled, nil
	}
	return "", "", false, fmt.Errorf("interp: process code: %s: %s", resp.status, resp.errText)
}

// CodeComplete returns completion candidates at a 0-based byte cursor
// within a single-line fragment.
func (c *Client) CodeComplete(code string, cursor int) ([]string, error) {
	if cursor < 0 || cursor > len(code) {
		return nil, fmt.Errorf("interp: cursor %d out of range [0, %d]", cursor, len(code))
	}
	resp, err := c.roundTrip(KindCodeComplete, code, int32(cursor))
	if err != nil {
		return nil, err
	}
	if resp.status != StatusSuccess {
		return nil, fmt.Errorf("interp: code complete: %s: %s", resp.status, resp.errText)
	}
	return resp.completions, nil
}

// Evaluate runs an expression on the worker and returns its 64-bit
// integer result.
func (c *Client) Evaluate(code string) (int64, error) {
	resp, err := c.roundTrip(KindEvaluate, code, 0)
	if err != nil {
		return 0, err
	}
	if resp.status != StatusSuccess {
		return 0, fmt.Errorf("interp: evaluate: %s: %s", resp.status, resp.errText)
	}
	return resp.value, nil
}

// roundTrip serializes one request/response cycle: reset, write
// payload, publish, await, snapshot. A transport failure (timeout or
// dead worker) declares the worker untrusted and tears it down.
func (c *Client) roundTrip(kind Kind, code string, cursor int32) (response, error) {
	if !c.mu.TryLock() {
		return response{}, ErrBusy
	}
	defer c.mu.Unlock()
	switch c.up.Load() {
	case stateUp:
	case stateTorn:
		return response{}, ErrTornDown
	default:
		return response{}, ErrNotInitialized
	}

	serial := nextSerial()
	c.log.Debug().Uint32("serial", serial).Stringer("kind", kind).Msg("request")

	c.mb.Reset()
	c.mb.SetCode(code)
	if kind == KindCodeComplete {
		c.mb.SetCursor(cursor)
	}
	c.mb.SetKind(kind)
	c.mb.PublishRequest()

	e := c.await(c.cfg.RequestTimeout)
	if err, ok := e.GetLeft(); ok {
		c.log.Error().Uint32("serial", serial).Err(err).Msg("request failed, tearing worker down")
		c.teardownLocked()
		return response{}, err
	}
	resp, _ := e.GetRight()
	c.log.Debug().Uint32("serial", serial).Stringer("status", resp.status).Msg("response")
	return resp, nil
}

// await polls for response_ready, reaping the child non-blockingly
// each cycle and re-logging worker diagnostics as they arrive.
// Left is a transport failure; Right is the worker's published
// response. The response flag stays set; the next Reset clears it.
func (c *Client) await(timeout time.Duration) kont.Either[error, response] {
	deadline := time.Now().Add(timeout)
	for {
		c.logs.flush(c.log)
		if c.mb.PollResponse() == nil {
			return kont.Right[error](c.snapshotLocked())
		}
		if c.reapNonBlocking() {
			return kont.Left[error, response](ErrWorkerExited)
		}
		if time.Now().After(deadline) {
			return kont.Left[error, response](ErrTimeout)
		}
		time.Sleep(c.cfg.PollInterval)
	}
}

func (c *Client) snapshotLocked() response {
	return response{
		status:      c.mb.Status(),
		output:      c.mb.Output(),
		errText:     c.mb.ErrorText(),
		completions: c.mb.Completions(),
		compiled:    c.mb.CompilationResult(),
		value:       c.mb.EvaluationResult(),
	}
}

// Shutdown asks the worker to exit, signals it, reaps it, and releases
// every resource. Best-effort and always safe to call, in any state.
func (c *Client) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdownLocked()
	c.cleanupLocked()
}

func (c *Client) shutdownLocked() {
	if c.up.Load() != stateUp || c.mb == nil {
		return
	}
	c.mb.Reset()
	c.mb.SetKind(KindShutdown)
	c.mb.PublishRequest()
	time.Sleep(c.cfg.ShutdownGrace)

	if c.pid > 0 && !c.reapNonBlocking() {
		c.log.Info().Int("pid", c.pid).Msg("terminating worker")
		_ = unix.Kill(c.pid, unix.SIGTERM)
	}
	c.reapChild(time.Second)
	c.up.Store(stateTorn)
}

// Cleanup force-kills the worker's process group and releases the
// mapping, descriptor, and segment name. Idempotent and safe on
// partially-initialized state.
func (c *Client) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
}

// teardownLocked is the untrusted-worker path: no graceful request,
// but the worker's process group still gets one SIGTERM and a short
// grace to cooperate before the kill-and-release sequence runs.
func (c *Client) teardownLocked() {
	if c.pid > 0 && !c.reapNonBlocking() {
		c.log.Info().Int("pid", c.pid).Msg("terminating untrusted worker")
		_ = unix.Kill(-c.pid, unix.SIGTERM)
		c.reapChild(c.cfg.ShutdownGrace)
	}
	c.cleanupLocked()
}

func (c *Client) cleanupLocked() {
	if c.up.Load() == stateUp {
		c.up.Store(stateTorn)
	}
	if c.pid > 0 && !c.reaped {
		_ = unix.Kill(-c.pid, unix.SIGKILL)
		c.reapChild(time.Second)
	}
	c.pid = 0
	c.cmd = nil
	if c.logs != nil {
		c.logs.close(c.log)
		c.logs = nil
	}
	if c.mem != nil || c.file != nil {
		closeSegment(c.file, c.mem)
		c.file, c.mem, c.mb = nil, nil, nil
	}
	if c.name != "" {
		if err := unlinkSegment(c.name); err != nil {
			c.log.Warn().Err(err).Str("segment", c.name).Msg("unlink failed")
		}
		c.name = ""
	}
}
