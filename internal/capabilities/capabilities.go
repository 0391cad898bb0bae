package capabilities

import (
	"context"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/errgroup"

	"github.com/DigitumDei/Actuarius/internal/runner"
)

const ProbeTimeout = 8 * time.Second

// DefaultBinaries are probed at start-up.
var DefaultBinaries = []string{"git", "gh", "claude", "codex", "gemini"}

type Result struct {
	Binary  string
	OK      bool
	Version string
	Error   string
}

// Probe runs "<binary> --version" for every binary concurrently.
// Results keep the order of binaries. Failures are reported, not
// returned.
func Probe(ctx context.Context, r runner.Runner, binaries []string) []Result {
	results := make([]Result, len(binaries))
	var g errgroup.Group
	for i, bin := range binaries {
		g.Go(func() error {
			results[i] = probeOne(ctx, r, bin)
			return nil
		})
	}
	_ = g.Wait()

	log := clog.FromContext(ctx)
	for _, res := range results {
		if res.OK {
			log.With("capability", res.Binary, "version", res.Version).Info("capability check passed")
		} else {
			log.With("capability", res.Binary, "error", res.Error).Warn("capability check failed")
		}
	}
	return results
}

func probeOne(ctx context.Context, r runner.Runner, bin string) Result {
	out, err := r.Run(ctx, runner.Command{Name: bin, Args: []string{"--version"}, Timeout: ProbeTimeout})
	if err != nil {
		return Result{Binary: bin, Error: err.Error()}
	}
	version := strings.TrimSpace(out.Stdout)
	if i := strings.IndexByte(version, '\n'); i >= 0 {
		version = version[:i]
	}
	return Result{Binary: bin, OK: true, Version: version}
}
