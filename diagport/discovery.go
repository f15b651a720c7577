package diagport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ultraprof/ultra/internal/uerrors"
)

// socketGlob builds the well-known IPC endpoint pattern for a victim
// process (spec §4.D Discovery): "dotnet-diagnostic-<pid>-*-socket",
// optionally rooted under a private ".ultra/" subdirectory for the
// sampler channel.
func socketGlob(tmpDir string, pid int, ch Channel) string {
	dir := tmpDir
	if ch == ChannelSampler {
		dir = filepath.Join(tmpDir, ".ultra")
	}
	return filepath.Join(dir, fmt.Sprintf("dotnet-diagnostic-%d-*-socket", pid))
}

// DiscoverTimeouts bounds how long discovery polls before giving up,
// per channel (spec §4.D: the sampler channel has its own shorter
// timeout since it is only present when the victim was launched with
// the sampler library preloaded).
type DiscoverTimeouts struct {
	Runtime time.Duration
	Sampler time.Duration
}

// DefaultDiscoverTimeouts returns the default timeouts: 1s for the
// runtime channel, 500ms for the sampler channel.
func DefaultDiscoverTimeouts() DiscoverTimeouts {
	return DiscoverTimeouts{Runtime: time.Second, Sampler: 500 * time.Millisecond}
}

// discoverSocket polls tmpDir for a socket matching the channel's
// pattern using exponential backoff (10ms initial, 100ms cap), per
// spec §4.D. Returns uerrors with KindConnect on timeout or context
// cancellation.
func discoverSocket(ctx context.Context, tmpDir string, pid int, ch Channel, timeout time.Duration) (string, error) {
	glob := socketGlob(tmpDir, pid, ch)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.MaxElapsedTime = timeout

	bctx := backoff.WithContext(b, ctx)

	var found string
	op := func() error {
		matches, err := filepath.Glob(glob)
		if err != nil {
			return backoff.Permanent(err)
		}
		if len(matches) == 0 {
			return fmt.Errorf("diagport: no socket matching %s yet", glob)
		}
		found = matches[0]
		return nil
	}

	if err := backoff.Retry(op, bctx); err != nil {
		return "", uerrors.New(uerrors.KindConnect, "discoverSocket", err)
	}
	return found, nil
}

// ultraDiscoveryDir returns the private discovery directory the
// sampler library constructs at $TMPDIR/.ultra (spec §6 Environment),
// creating it if absent.
func ultraDiscoveryDir(tmpDir string) (string, error) {
	dir := filepath.Join(tmpDir, ".ultra")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}
