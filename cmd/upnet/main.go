package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/freewebtopdf/upnet/internal/config"
)

// Exit codes
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// globalOptions apply to every command
type globalOptions struct {
	Verbose bool `short:"v" long:"verbose" description:"Log at debug level"`
}

// usageError marks a command error caused by bad arguments
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// app carries what commands share
type app struct {
	global globalOptions
	cfg    *config.Config
	stdout io.Writer
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run parses args, executes the selected command and returns the exit code
func run(args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout}

	parser := flags.NewParser(&a.global, flags.HelpFlag|flags.PassDoubleDash)
	parser.Name = "upnet"
	parser.CommandHandler = func(command flags.Commander, rest []string) error {
		if command == nil {
			return nil
		}
		cfg, err := config.Load()
		if err != nil {
			return usagef("%v", err)
		}
		a.cfg = cfg
		setupLogger(cfg, a.global.Verbose, stderr)
		return command.Execute(rest)
	}

	commands := []struct {
		name, short, long string
		cmd               any
	}{
		{"apply", "Apply pending updates", "Load the manifest and bring the target directory to the latest version", &cmdApply{app: a}},
		{"create", "Create a manifest", "Diff a release directory against a base manifest and append a patch", &cmdCreate{app: a}},
		{"check", "Check for updates", "Report the installed version and the patches an apply would install", &cmdCheck{app: a}},
		{"watch", "Poll and apply updates", "Apply updates periodically until interrupted", &cmdWatch{app: a}},
	}
	for _, c := range commands {
		if _, err := parser.AddCommand(c.name, c.short, c.long, c.cmd); err != nil {
			fmt.Fprintf(stderr, "failed to add %s command: %v\n", c.name, err)
			return exitFailure
		}
	}

	_, err := parser.ParseArgs(args)
	if err == nil {
		return exitOK
	}

	var flagsErr *flags.Error
	if errors.As(err, &flagsErr) {
		if flagsErr.Type == flags.ErrHelp {
			fmt.Fprintln(stdout, flagsErr.Message)
			return exitOK
		}
		fmt.Fprintln(stderr, flagsErr.Message)
		return exitUsage
	}

	var usage *usageError
	if errors.As(err, &usage) {
		fmt.Fprintln(stderr, usage.msg)
		return exitUsage
	}

	log.Error().Err(err).Msg("Command failed")
	return exitFailure
}

func setupLogger(cfg *config.Config, verbose bool, out io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339

	switch cfg.Logging.Level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if cfg.Logging.Format == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	}
}
