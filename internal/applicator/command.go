package applicator

import (
	"context"
	"os"
	"os/exec"
	"runtime"

	"github.com/rs/zerolog/log"

	"github.com/freewebtopdf/upnet/internal/domain"
)

// CommandRunner runs a post-update command line in dir
type CommandRunner func(ctx context.Context, dir, command string) error

// shellCommand builds the platform shell invocation for command
func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command)
	}
	return exec.CommandContext(ctx, "sh", "-c", command)
}

// RunShell runs command through the platform shell with the target as working directory
func RunShell(ctx context.Context, dir, command string) error {
	cmd := shellCommand(ctx, command)
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	log.Info().Str("command", command).Str("dir", dir).Msg("Running post-update command")
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return domain.NewCancelled(ctx, "post-command")
		}
		return domain.NewAppErrorWithCause(domain.ErrPostCommandFailed, "Post-update command failed", 500, err, map[string]any{"command": command})
	}
	return nil
}
