// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package interp_test

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"code.hybscloud.com/interp"
	"code.hybscloud.com/interp/internal/minicpp"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// TestMain doubles as the worker binary: when the worker gate is set,
// the test process runs the worker entry point against its argv and
// never reaches the test runner.
func TestMain(m *testing.M) {
	if os.Getenv("INTERP_TEST_WORKER") == "1" {
		os.Exit(interp.WorkerMain(os.Args[1:], minicpp.Engine{}))
	}
	os.Exit(m.Run())
}

func newTestClient(t *testing.T, mutate func(*interp.Config)) *interp.Client {
	t.Helper()
	nop := zerolog.Nop()
	cfg := interp.Config{
		WorkerPath:     os.Args[0],
		SegmentName:    fmt.Sprintf("/xcpp_shm_%d_%s", os.Getpid(), strings.ReplaceAll(t.Name(), "/", "_")),
		Env:            append(os.Environ(), "INTERP_TEST_WORKER=1"),
		RequestTimeout: 30 * time.Second,
		Logger:         &nop,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c := interp.NewClient(cfg)
	t.Cleanup(c.Cleanup)
	return c
}

func segmentExists(name string) bool {
	_, err := os.Stat("/dev/shm/" + strings.TrimPrefix(name, "/"))
	return err == nil
}

func TestUninitializedRefused(t *testing.T) {
	c := newTestClient(t, nil)
	if _, _, _, err := c.ProcessCode("int x;"); !errors.Is(err, interp.ErrNotInitialized) {
		t.Fatalf("got %v, want ErrNotInitialized", err)
	}
	if _, err := c.Evaluate("1"); !errors.Is(err, interp.ErrNotInitialized) {
		t.Fatalf("got %v, want ErrNotInitialized", err)
	}
}

func TestBridgeLifecycle(t *testing.T) {
	c := newTestClient(t, nil)
	if err := c.Initialize(); err != nil {
		t.Fatal(err)
	}

	// Compile success.
	stdout, stderr, compiled, err := c.ProcessCode("int x = 1;")
	if err != nil {
		t.Fatal(err)
	}
	if !compiled || stderr != "" || stdout != "" {
		t.Fatalf("compile success got (%q, %q, %v)", stdout, stderr, compiled)
	}

	// Compile failure: diagnostics on stderr, not an error.
	_, stderr, compiled, err = c.ProcessCode("int = ;")
	if err != nil {
		t.Fatal(err)
	}
	if compiled || stderr == "" {
		t.Fatalf("compile failure got (%q, %v)", stderr, compiled)
	}

	// Interpreter state is cumulative across requests.
	stdout, _, compiled, err = c.ProcessCode("std::cout << x + 41 << std::endl;")
	if err != nil {
		t.Fatal(err)
	}
	if !compiled || stdout != "42\n" {
		t.Fatalf("stdout got %q, want %q", stdout, "42\n")
	}

	// Evaluation.
	v, err := c.Evaluate("40 + 2")
	if err != nil {
		t.Fatal(err)
	}
	if v != 42 {
		t.Fatalf("evaluate got %d, want 42", v)
	}

	// Runtime failure returns intact; the worker survives.
	if _, err := c.Evaluate("x / 0"); err == nil {
		t.Fatal("divide by zero succeeded")
	}
	if _, err := c.Evaluate("7 * 6"); err != nil {
		t.Fatalf("worker did not survive runtime failure: %v", err)
	}

	// Completion.
	xs, err := c.CodeComplete("std::vec", 8)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, x := range xs {
		if strings.HasPrefix(x, "vec") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no candidate beginning with vec in %q", xs)
	}

	name := c.SegmentName()
	c.Shutdown()
	if segmentExists(name) {
		t.Fatal("segment survived shutdown")
	}
	if _, err := c.Evaluate("1"); !errors.Is(err, interp.ErrTornDown) {
		t.Fatalf("post-shutdown got %v, want ErrTornDown", err)
	}
}

func TestCursorOutOfRange(t *testing.T) {
	c := newTestClient(t, nil)
	if _, err := c.CodeComplete("abc", 4); err == nil {
		t.Fatal("out-of-range cursor accepted")
	}
	if _, err := c.CodeComplete("abc", -1); err == nil {
		t.Fatal("negative cursor accepted")
	}
}

func TestWorkerCrashMidRequest(t *testing.T) {
	c := newTestClient(t, nil)
	if err := c.Initialize(); err != nil {
		t.Fatal(err)
	}
	pid := c.WorkerPID()
	if pid <= 0 {
		t.Fatal("no worker pid")
	}
	go func() {
		time.Sleep(200 * time.Millisecond)
		_ = unix.Kill(pid, unix.SIGKILL)
	}()
	name := c.SegmentName()
	_, _, _, err := c.ProcessCode("#pragma minicpp sleep 10000\nint x;")
	if !errors.Is(err, interp.ErrWorkerExited) {
		t.Fatalf("got %v, want ErrWorkerExited", err)
	}
	if segmentExists(name) {
		t.Fatal("segment survived teardown")
	}
	if _, err := c.Evaluate("1"); !errors.Is(err, interp.ErrTornDown) {
		t.Fatalf("post-teardown got %v, want ErrTornDown", err)
	}
}

func TestRequestTimeout(t *testing.T) {
	c := newTestClient(t, func(cfg *interp.Config) {
		cfg.RequestTimeout = 300 * time.Millisecond
	})
	if err := c.Initialize(); err != nil {
		t.Fatal(err)
	}
	name := c.SegmentName()
	_, _, _, err := c.ProcessCode("#pragma minicpp sleep 10000\nint x;")
	if !errors.Is(err, interp.ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
	if segmentExists(name) {
		t.Fatal("segment survived timeout teardown")
	}
}

// TestTimeoutTeardownSignalsTerm observes the teardown ladder on the
// untrusted-worker path: a wedged worker gets SIGTERM before SIGKILL.
// The worker's signal goroutine logs the receipt even while the
// dispatch is stuck, and the line reaches the host logger through the
// diagnostic pipe during teardown.
func TestTimeoutTeardownSignalsTerm(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	c := newTestClient(t, func(cfg *interp.Config) {
		cfg.RequestTimeout = 300 * time.Millisecond
		cfg.ShutdownGrace = 200 * time.Millisecond
		cfg.Logger = &logger
	})
	if err := c.Initialize(); err != nil {
		t.Fatal(err)
	}
	_, _, _, err := c.ProcessCode("#pragma minicpp sleep 10000\nint x;")
	if !errors.Is(err, interp.ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
	if !strings.Contains(buf.String(), "shutting down on signal") {
		t.Fatalf("worker never reported SIGTERM before the kill:\n%s", buf.String())
	}
	if _, err := c.Evaluate("1"); !errors.Is(err, interp.ErrTornDown) {
		t.Fatalf("post-teardown got %v, want ErrTornDown", err)
	}
}

func TestSingleFlight(t *testing.T) {
	c := newTestClient(t, nil)
	if err := c.Initialize(); err != nil {
		t.Fatal(err)
	}
	first := make(chan error, 1)
	go func() {
		_, _, _, err := c.ProcessCode("#pragma minicpp sleep 1000\nint x;")
		first <- err
	}()
	time.Sleep(200 * time.Millisecond)
	if _, err := c.Evaluate("1"); !errors.Is(err, interp.ErrBusy) {
		t.Fatalf("concurrent request got %v, want ErrBusy", err)
	}
	if err := <-first; err != nil {
		t.Fatalf("in-flight request failed: %v", err)
	}
	c.Shutdown()
}

func TestInitializeWorkerMissing(t *testing.T) {
	c := newTestClient(t, func(cfg *interp.Config) {
		cfg.WorkerPath = "/nonexistent/interp-worker"
	})
	name := c.SegmentName()
	if err := c.Initialize(); err == nil {
		t.Fatal("initialize succeeded without a worker binary")
	}
	if segmentExists(name) {
		t.Fatal("segment left behind by failed initialize")
	}
}

func TestTeardownIdempotent(t *testing.T) {
	c := newTestClient(t, nil)
	if err := c.Initialize(); err != nil {
		t.Fatal(err)
	}
	c.Shutdown()
	c.Shutdown()
	c.Cleanup()
	c.Cleanup()

	// The client is reusable after a full teardown.
	if err := c.Initialize(); err != nil {
		t.Fatal(err)
	}
	if v, err := c.Evaluate("2 + 3"); err != nil || v != 5 {
		t.Fatalf("reinitialized evaluate got (%d, %v)", v, err)
	}
	c.Shutdown()
}
