package orchestrator

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ultraprof/ultra/internal/config"
	"github.com/ultraprof/ultra/internal/uerrors"
)

func newTestOrchestrator(t *testing.T, opt config.Options) *Orchestrator {
	t.Helper()
	opt.Log = zerolog.Nop()
	o, err := New(opt)
	require.NoError(t, err)
	return o
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	_, err := New(config.Options{Log: zerolog.Nop()})
	assert.True(t, uerrors.AsKind(err, uerrors.KindConfig))
}

func TestNewFillsDefaults(t *testing.T) {
	o := newTestOrchestrator(t, config.Options{PID: os.Getpid(), DurationSeconds: 1})
	assert.Equal(t, config.DefaultCheckDelta, o.opt.CheckDelta)
	assert.Equal(t, ".", o.opt.OutputDir)
}

func TestCancelFirstCallIsGracefulSecondIsForce(t *testing.T) {
	o := newTestOrchestrator(t, config.Options{PID: os.Getpid(), DurationSeconds: 1})

	o.Cancel()
	assert.Equal(t, cancelGraceful, o.cancelState.Load())
	select {
	case <-o.killNow:
		t.Fatal("killNow must not close on the first Cancel()")
	default:
	}

	o.Cancel()
	assert.Equal(t, cancelForce, o.cancelState.Load())
	select {
	case <-o.killNow:
	default:
		t.Fatal("killNow must close on the second Cancel()")
	}

	// A third call must not panic (sync.Once guards the close).
	assert.NotPanics(t, o.Cancel)
}

func TestSleepReturnsAfterDurationElapses(t *testing.T) {
	o := newTestOrchestrator(t, config.Options{PID: os.Getpid(), DurationSeconds: 1})
	start := time.Now()
	err := o.sleep(context.Background(), 60*time.Millisecond)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestSleepHonoursGracefulCancelMidWait(t *testing.T) {
	o := newTestOrchestrator(t, config.Options{PID: os.Getpid(), DurationSeconds: 1})

	done := make(chan error, 1)
	go func() { done <- o.sleep(context.Background(), 5*time.Second) }()

	time.Sleep(20 * time.Millisecond)
	o.Cancel()

	select {
	case err := <-done:
		assert.True(t, uerrors.AsKind(err, uerrors.KindUserCancel))
	case <-time.After(time.Second):
		t.Fatal("graceful cancel did not interrupt sleep promptly")
	}
}

func TestSleepHonoursForceCancel(t *testing.T) {
	o := newTestOrchestrator(t, config.Options{PID: os.Getpid(), DurationSeconds: 1})

	done := make(chan error, 1)
	go func() { done <- o.sleep(context.Background(), 5*time.Second) }()

	time.Sleep(20 * time.Millisecond)
	o.Cancel() // graceful
	o.Cancel() // force

	select {
	case err := <-done:
		assert.True(t, uerrors.AsKind(err, uerrors.KindUserCancel))
	case <-time.After(time.Second):
		t.Fatal("force cancel did not interrupt sleep promptly")
	}
}

func TestSleepHonoursContextCancellation(t *testing.T) {
	o := newTestOrchestrator(t, config.Options{PID: os.Getpid(), DurationSeconds: 1})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- o.sleep(ctx, 5*time.Second) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, uerrors.AsKind(err, uerrors.KindUserCancel))
	case <-time.After(time.Second):
		t.Fatal("ctx cancellation did not interrupt sleep promptly")
	}
}

func TestWaitForCallbackReturnsOnceTrue(t *testing.T) {
	o := newTestOrchestrator(t, config.Options{PID: os.Getpid(), DurationSeconds: 1})

	calls := 0
	err := o.waitForCallback(context.Background(), func() bool {
		calls++
		return calls >= 3
	})
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, calls, 3)
}

func TestWaitForCallbackHonoursGracefulCancel(t *testing.T) {
	o := newTestOrchestrator(t, config.Options{PID: os.Getpid(), DurationSeconds: 1})

	done := make(chan error, 1)
	go func() {
		done <- o.waitForCallback(context.Background(), func() bool { return false })
	}()

	time.Sleep(20 * time.Millisecond)
	o.Cancel()

	select {
	case err := <-done:
		assert.True(t, uerrors.AsKind(err, uerrors.KindUserCancel))
	case <-time.After(time.Second):
		t.Fatal("graceful cancel did not interrupt waitForCallback promptly")
	}
}

func TestDurationOf(t *testing.T) {
	assert.Equal(t, time.Duration(0), durationOf(0))
	assert.Equal(t, time.Duration(0), durationOf(-1))
	assert.Equal(t, 1500*time.Millisecond, durationOf(1.5))
}

func TestTargetAliveWithSpawnedCmd(t *testing.T) {
	cmd := exec.Command("/bin/sleep", "0.2")
	require.NoError(t, cmd.Start())

	assert.True(t, targetAlive(cmd, cmd.Process.Pid))

	require.NoError(t, cmd.Wait())
	assert.False(t, targetAlive(cmd, cmd.Process.Pid))
}

func TestTargetAliveWithAttachedPID(t *testing.T) {
	assert.True(t, targetAlive(nil, os.Getpid()))
	assert.False(t, targetAlive(nil, 1<<30))
}

func TestHostDescriptors(t *testing.T) {
	arch, rid, osName := hostDescriptors()
	assert.Contains(t, rid, osName)
	assert.Contains(t, []int32{0, 1, 2, 3}, arch)
}

func TestAppendFileConcatenatesBytes(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "dst")
	src := filepath.Join(dir, "src")

	require.NoError(t, os.WriteFile(dst, []byte("hello-"), 0o644))
	require.NoError(t, os.WriteFile(src, []byte("world"), 0o644))

	require.NoError(t, appendFile(dst, src))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello-world", string(got))
}

func TestAppendFileMissingSourceErrors(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(dst, []byte("x"), 0o644))

	err := appendFile(dst, filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestWaitForFilesStaleReturnsPromptlyWhenUnchanging(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.nettrace")
	require.NoError(t, os.WriteFile(path, []byte("fixed-size-content"), 0o644))

	o := newTestOrchestrator(t, config.Options{
		PID:              os.Getpid(),
		DurationSeconds:  1,
		CheckDelta:       10 * time.Millisecond,
		FileStaleTimeout: 5 * time.Second,
	})

	start := time.Now()
	o.waitForFilesStale(context.Background(), []string{path})
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitForFilesStaleToleratesAbsentFile(t *testing.T) {
	dir := t.TempDir()
	o := newTestOrchestrator(t, config.Options{
		PID:              os.Getpid(),
		DurationSeconds:  1,
		CheckDelta:       10 * time.Millisecond,
		FileStaleTimeout: time.Second,
	})

	start := time.Now()
	o.waitForFilesStale(context.Background(), []string{filepath.Join(dir, "never-created")})
	assert.Less(t, time.Since(start), time.Second)
}

func TestPollUntilDoneEndsWhenTargetExits(t *testing.T) {
	cmd := exec.Command("/bin/sleep", "0.05")
	require.NoError(t, cmd.Start())

	o := newTestOrchestrator(t, config.Options{
		PID:              os.Getpid(),
		DurationSeconds:  30,
		CheckDelta:       10 * time.Millisecond,
	})

	done := make(chan bool, 1)
	go func() {
		done <- o.pollUntilDone(context.Background(), cmd, cmd.Process.Pid, make(chan error))
	}()

	require.NoError(t, cmd.Wait())

	select {
	case samplerErrConsumed := <-done:
		assert.False(t, samplerErrConsumed)
	case <-time.After(time.Second):
		t.Fatal("pollUntilDone did not end after the target exited")
	}
}

func TestPollUntilDoneEndsOnForceCancel(t *testing.T) {
	o := newTestOrchestrator(t, config.Options{
		PID:              os.Getpid(),
		DurationSeconds:  30,
		CheckDelta:       10 * time.Millisecond,
	})

	done := make(chan bool, 1)
	go func() {
		done <- o.pollUntilDone(context.Background(), nil, os.Getpid(), make(chan error))
	}()

	time.Sleep(20 * time.Millisecond)
	o.Cancel()
	o.Cancel()

	select {
	case samplerErrConsumed := <-done:
		assert.False(t, samplerErrConsumed)
	case <-time.After(time.Second):
		t.Fatal("pollUntilDone did not end after a force cancel")
	}
}

func TestPollUntilDoneConsumesSpontaneousSamplerError(t *testing.T) {
	o := newTestOrchestrator(t, config.Options{
		PID:              os.Getpid(),
		DurationSeconds:  30,
		CheckDelta:       10 * time.Millisecond,
	})

	errCh := make(chan error, 1)
	errCh <- assertError("resume failed")

	samplerErrConsumed := o.pollUntilDone(context.Background(), nil, os.Getpid(), errCh)
	assert.True(t, samplerErrConsumed)
}

type simpleError string

func (e simpleError) Error() string { return string(e) }

func assertError(msg string) error { return simpleError(msg) }
