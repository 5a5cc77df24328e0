// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package interp

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"code.hybscloud.com/atomix"
	"github.com/rs/zerolog"
)

// WorkerConfig configures one worker process.
type WorkerConfig struct {
	// Segment is the named segment to attach (required).
	Segment string
	// Size overrides the mapping size when > 0. It is clamped to the
	// record minimum and the system maximum.
	Size int
	// Engine creates the interpreter façade (required).
	Engine Engine
	// PollInterval is the request poll cadence. Default 10ms.
	PollInterval time.Duration
	// OrphanInterval is the reparenting check cadence. Default 500ms.
	OrphanInterval time.Duration
	// Logger overrides the default stderr logger.
	Logger *zerolog.Logger
}

// worker is the poll-dispatch-publish state machine around one mailbox
// and one interpreter handle.
type worker struct {
	mb   *Mailbox
	itp  Interpreter
	log  zerolog.Logger
	stop atomix.Uint32
}

// Serve attaches the segment, constructs the interpreter, and runs the
// polling loop until a SHUTDOWN request or a termination signal.
// It unmaps on return but never unlinks; the segment name belongs to
// the host.
func Serve(cfg WorkerConfig) error {
	log := workerLogger(cfg.Logger)
	if cfg.Segment == "" {
		return fmt.Errorf("interp: worker needs a segment name")
	}
	if cfg.Engine == nil {
		return fmt.Errorf("interp: worker needs an engine")
	}
	size := MailboxSize
	if cfg.Size > 0 {
		size = clampSegmentSize(cfg.Size, log)
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 10 * time.Millisecond
	}
	orphanEvery := cfg.OrphanInterval
	if orphanEvery <= 0 {
		orphanEvery = 500 * time.Millisecond
	}

	f, mem, err := openSegment(cfg.Segment, size, openAttempts, openBackoff)
	if err != nil {
		return err
	}
	defer closeSegment(f, mem)

	mb, err := NewMailbox(mem)
	if err != nil {
		return err
	}
	mb.Reset()
	log.Info().Str("segment", cfg.Segment).Int("size", size).Msg("segment mapped")

	itp, err := cfg.Engine.New(interpreterArgs(cfg.Engine, log))
	if err != nil {
		return fmt.Errorf("interp: create interpreter: %w", err)
	}
	log.Info().Msg("interpreter created")

	w := &worker{mb: mb, itp: itp, log: log}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		s := <-sig
		log.Info().Str("signal", s.String()).Msg("shutting down on signal")
		w.stop.Store(1)
	}()

	// Sole defense against a host crash that skips cleanup: once the
	// worker is reparented to init, nobody will ever send SHUTDOWN.
	go watchOrphan(orphanEvery, os.Getppid, func(code int) {
		log.Error().Msg("host gone, exiting")
		os.Exit(code)
	})

	w.run(poll)
	log.Info().Msg("worker loop finished")
	return nil
}

// run polls for requests until shutdown. Between polls it sleeps to
// avoid busy-spinning; the cost is bounded added latency per request.
func (w *worker) run(poll time.Duration) {
	for w.stop.Load() == 0 {
		if err := w.mb.PollRequest(); err != nil {
			time.Sleep(poll)
			continue
		}
		done := w.dispatch()
		w.mb.PublishResponse()
		if done {
			return
		}
	}
}

// dispatch handles one observed request and writes the response fields
// and status. It reports whether a shutdown was requested. The façade
// boundary is the catch-all: a panicking engine yields SYSTEM_ERROR
// instead of aborting the worker.
func (w *worker) dispatch() (done bool) {
	kind := w.mb.Kind()
	w.log.Debug().Stringer("kind", kind).Msg("request")

	defer func() {
		if r := recover(); r != nil {
			w.mb.SetErrorText(fmt.Sprintf("engine panic: %v", r))
			w.mb.SetStatus(StatusSystemError)
		}
	}()

	if w.itp == nil && kind != KindShutdown {
		w.mb.SetErrorText("interpreter not initialized")
		w.mb.SetStatus(StatusSystemError)
		return false
	}

	switch kind {
	case KindProcessCode:
		w.processCode()
	case KindCodeComplete:
		w.codeComplete()
	case KindEvaluate:
		w.evaluate()
	case KindShutdown:
		w.mb.SetStatus(StatusSuccess)
		return true
	default:
		w.mb.SetErrorText(fmt.Sprintf("unknown request kind %d", uint32(kind)))
		w.mb.SetStatus(StatusSystemError)
	}
	return false
}

// processCode runs the fragment under stacked stream captures: stderr
// outside, stdout inside, ended in LIFO order.
func (w *worker) processCode() {
	code := w.mb.Code()

	w.itp.BeginCapture(StreamStderr)
	w.itp.BeginCapture(StreamStdout)
	ok, err := w.itp.Process(code)
	output := w.itp.EndCapture()
	errText := w.itp.EndCapture()

	if err != nil {
		w.mb.SetErrorText("code processing failed: " + err.Error())
		w.mb.SetStatus(StatusSystemError)
		return
	}
	w.mb.SetCompilationResult(ok)
	w.mb.SetOutput(output)
	w.mb.SetErrorText(errText)
	if ok {
		w.mb.SetStatus(StatusSuccess)
	} else {
		w.mb.SetStatus(StatusCompilationError)
	}
}

// codeComplete translates the host's 0-based byte cursor into the
// engine's 1-based line and column. Fragments are treated as a single
// line; multi-line completion is not supported.
func (w *worker) codeComplete() {
	code := w.mb.Code()
	cursor := w.mb.Cursor()

	results, err := w.itp.CodeComplete(code, 1, int(cursor)+1)
	if err != nil {
		w.mb.SetErrorText("code completion failed: " + err.Error())
		w.mb.SetStatus(StatusSystemError)
		return
	}
	w.mb.SetCompletions(results)
	w.mb.SetStatus(StatusSuccess)
}

func (w *worker) evaluate() {
	code := w.mb.Code()

	v, err := w.itp.Evaluate(code)
	if err != nil {
		w.mb.SetErrorText("evaluation failed: " + err.Error())
		w.mb.SetStatus(StatusRuntimeError)
		return
	}
	w.mb.SetEvaluationResult(v)
	w.mb.SetStatus(StatusSuccess)
}

// watchOrphan exits the process once it has been reparented to init.
func watchOrphan(every time.Duration, getppid func() int, exit func(int)) {
	for {
		time.Sleep(every)
		if getppid() == 1 {
			exit(1)
			return
		}
	}
}

// WorkerMain is the worker binary entry point. args is argv without
// the program name: <segment_name> [size_bytes]. Returns the process
// exit code: 0 on clean shutdown, 1 on any initialization failure.
func WorkerMain(args []string, eng Engine) int {
	log := workerLogger(nil)
	if len(args) < 1 || len(args) > 2 {
		log.Error().Msg("usage: worker <segment_name> [size_bytes]")
		return 1
	}
	cfg := WorkerConfig{Segment: args[0], Engine: eng}
	if len(args) == 2 {
		size, err := strconv.Atoi(args[1])
		if err != nil || size <= 0 {
			log.Error().Str("arg", args[1]).Msg("invalid segment size")
			return 1
		}
		cfg.Size = size
	}
	if err := Serve(cfg); err != nil {
		log.Error().Err(err).Msg("worker failed")
		return 1
	}
	return 0
}

func workerLogger(override *zerolog.Logger) zerolog.Logger {
	if override != nil {
		return *override
	}
	return zerolog.New(os.Stderr).With().Timestamp().Str("component", "worker").Logger()
}
