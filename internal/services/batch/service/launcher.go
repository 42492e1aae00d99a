package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/nuxxor/Mevzubase/internal/platform/logger"
	"github.com/nuxxor/Mevzubase/internal/services/batch/domain"
)

// ExecLauncher starts one mevzubase-ingest child per job
// stdout and stderr of each child go to {connector}_{start}_{end}.log under LogDir
type ExecLauncher struct {
	Bin    string
	Args   []string
	LogDir string

	// Grace is how long a cancelled child gets after SIGINT before it is killed
	Grace time.Duration
}

var _ domain.Launcher = (*ExecLauncher)(nil)

// Command is the argv used for j
func (l *ExecLauncher) Command(j domain.Job) []string {
	argv := []string{
		"--connector", j.Connector,
		"--window-start", j.Window.Start.Format(time.DateOnly),
		"--window-end", j.Window.End.Format(time.DateOnly),
	}
	return append(argv, l.Args...)
}

// LogPath is the log file for j
func (l *ExecLauncher) LogPath(j domain.Job) string {
	name := fmt.Sprintf("%s_%s_%s.log", j.Connector, j.Window.Start.Format(time.DateOnly), j.Window.End.Format(time.DateOnly))
	return filepath.Join(l.LogDir, name)
}

// Launch runs the child and waits for it
func (l *ExecLauncher) Launch(ctx context.Context, j domain.Job) (int, error) {
	if err := os.MkdirAll(l.LogDir, 0o755); err != nil {
		return -1, err
	}
	f, err := os.Create(l.LogPath(j))
	if err != nil {
		return -1, err
	}
	defer f.Close()

	cmd := exec.CommandContext(ctx, l.Bin, l.Command(j)...)
	cmd.Stdout, cmd.Stderr = f, f
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = l.Grace
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 30 * time.Second
	}

	if err := cmd.Start(); err != nil {
		return -1, err
	}
	logger.C(ctx).Debug().Str("shard", j.ShardKey()).Int("pid", cmd.Process.Pid).Msg("batch: child started")

	err = cmd.Wait()
	var ee *exec.ExitError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &ee):
		if code := ee.ExitCode(); code >= 0 {
			return code, nil
		}
		// killed by a signal
		if ctx.Err() != nil {
			return 130, nil
		}
		return -1, err
	default:
		return -1, err
	}
}
