// Package diag implements the linker's diagnostic severities (info,
// warning, error, fatal) as a thin, colorized wrapper around log/slog,
// fanned out to multiple handlers with github.com/samber/slog-multi.
//
// pkg/linker never imports this package's CLI-facing pieces directly;
// it only needs the Sink interface below, so the core stays decoupled
// from cobra/viper/slog wiring.
package diag

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	slogmulti "github.com/samber/slog-multi"
)

// Severity is one of the four diagnostic levels. Fatal terminates the
// run; error is recorded and the current phase continues where safe.
type Severity int

const (
	Info Severity = iota
	Warning
	Error
	Fatal
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Sink receives diagnostics emitted by pkg/linker. *Diagnostics
// implements it; tests can substitute a recording fake.
type Sink interface {
	Emit(severity Severity, format string, args ...any)
	Tracef(format string, args ...any)
}

// ExitCode is the process exit status enumeration. Only the
// cmd/ layer converts one of these into an os.Exit call; pkg/linker
// only ever returns an error that may wrap one.
type ExitCode int

const (
	ExitOK ExitCode = 0
	// NoParam: a required argument was missing.
	NoParam ExitCode = 1
	// NoFile: an input or output file could not be opened.
	NoFile ExitCode = 2
	// BadFile: an input file was not a well-formed ELF32 ET_REL.
	BadFile ExitCode = 3
	// NoMem: an allocation failed.
	NoMem ExitCode = 4
	// BadSection: merged sections disagreed on type/flags/alignment.
	BadSection ExitCode = 5
	// BadParam: a configuration value was malformed.
	BadParam ExitCode = 6
)

func (c ExitCode) String() string {
	switch c {
	case ExitOK:
		return "ok"
	case NoParam:
		return "NoParam"
	case NoFile:
		return "NoFile"
	case BadFile:
		return "BadFile"
	case NoMem:
		return "NoMem"
	case BadSection:
		return "BadSection"
	case BadParam:
		return "BadParam"
	default:
		return "unknown"
	}
}

// FatalError wraps an error with the exit code the CLI should terminate
// with. The "program-name: fatal: <message>" line is printed when the
// fatal diagnostic is emitted; cmd/ only turns Code into the exit status.
type FatalError struct {
	Code ExitCode
	Err  error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// NewFatal wraps err with code, building the message with fmt.Errorf
// semantics.
func NewFatal(code ExitCode, format string, args ...any) *FatalError {
	return &FatalError{Code: code, Err: fmt.Errorf(format, args...)}
}

var (
	colorFatal   = color.New(color.FgRed, color.Bold)
	colorError   = color.New(color.FgRed)
	colorWarning = color.New(color.FgYellow)
	colorInfo    = color.New(color.FgCyan)
)

// Diagnostics accumulates non-fatal diagnostics during a link (an
// error-severity unresolved symbol must not stop the remaining
// relocations) and logs every diagnostic through log/slog as it is
// emitted.
type Diagnostics struct {
	logger      *slog.Logger
	program     string
	color       bool
	quiet       bool
	warnings    int
	errorsCount int
	items       []Diagnostic
}

// Diagnostic is one recorded entry, kept so callers can list every
// diagnostic of a run afterwards via Items.
type Diagnostic struct {
	Severity Severity
	Message  string
}

// Options configures Diagnostics construction.
type Options struct {
	// Quiet suppresses Info-severity output.
	Quiet bool
	// Verbose enables slog debug-level passthrough (relocation traces).
	Verbose bool
	// NoColor disables ANSI coloring regardless of terminal detection.
	NoColor bool
	// LogFile, when non-empty, additionally fans out structured JSON
	// records to this path via slogmulti.Fanout.
	LogFile string
	// Program is the name used in "program: fatal: message" output.
	Program string
}

// New builds a Diagnostics sink per Options. The structured slog logger
// fans out to an optional JSON log file and, with Verbose, a plain text
// handler on stderr (falling back to a discard handler when neither is
// configured); the colorized "program: severity: message" line is
// written directly by printLine, so enabling --log-file doesn't
// duplicate every line on the terminal.
func New(opts Options) (*Diagnostics, error) {
	if opts.NoColor {
		color.NoColor = true
	}

	var handlers []slog.Handler
	if opts.LogFile != "" {
		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, NewFatal(NoFile, "opening log file %q: %w", opts.LogFile, err)
		}
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	if opts.Verbose {
		handlers = append(handlers, newTextHandler(os.Stderr, opts.Quiet, opts.Verbose))
	}
	if len(handlers) == 0 {
		handlers = append(handlers, slog.NewTextHandler(io.Discard, nil))
	}

	logger := slog.New(slogmulti.Fanout(handlers...))

	program := opts.Program
	if program == "" {
		program = "rv32ld"
	}

	return &Diagnostics{
		logger:  logger,
		program: program,
		color:   !opts.NoColor,
		quiet:   opts.Quiet,
	}, nil
}

// Emit implements Sink.
func (d *Diagnostics) Emit(severity Severity, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	d.items = append(d.items, Diagnostic{Severity: severity, Message: msg})

	level := slog.LevelInfo
	switch severity {
	case Warning:
		d.warnings++
		level = slog.LevelWarn
	case Error, Fatal:
		d.errorsCount++
		level = slog.LevelError
	}
	d.logger.Log(context.Background(), level, msg, "severity", severity.String())

	if d.quiet && severity == Info {
		return
	}
	d.printLine(severity, msg)
}

// Tracef emits a structured, non-severity trace record (e.g. the
// Relocator's one-line bit-field traces). It never touches the colorized
// diagnostic stream; it only reaches the sinks configured in Options
// (verbose stderr text handler and/or --log-file).
func (d *Diagnostics) Tracef(format string, args ...any) {
	d.logger.Debug(fmt.Sprintf(format, args...))
}

func (d *Diagnostics) printLine(severity Severity, msg string) {
	var c *color.Color
	switch severity {
	case Fatal:
		c = colorFatal
	case Error:
		c = colorError
	case Warning:
		c = colorWarning
	default:
		c = colorInfo
	}
	c.Fprintf(os.Stderr, "%s: %s: %s\n", d.program, severity, msg)
}

// Infof, Warningf and Errorf emit at the given severity.
func (d *Diagnostics) Infof(format string, args ...any)    { d.Emit(Info, format, args...) }
func (d *Diagnostics) Warningf(format string, args ...any) { d.Emit(Warning, format, args...) }
func (d *Diagnostics) Errorf(format string, args ...any)   { d.Emit(Error, format, args...) }

// Fatalf records a fatal diagnostic and returns a *FatalError the caller
// must propagate; it never calls os.Exit itself (that decision belongs
// to cmd/).
func (d *Diagnostics) Fatalf(code ExitCode, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	d.Emit(Fatal, "%s", msg)
	return &FatalError{Code: code, Err: fmt.Errorf("%s", msg)}
}

// Warnings returns the number of warning-severity diagnostics recorded.
func (d *Diagnostics) Warnings() int { return d.warnings }

// Errors returns the number of error-severity diagnostics recorded.
func (d *Diagnostics) Errors() int { return d.errorsCount }

// HasErrors reports whether any error-severity diagnostic was recorded.
func (d *Diagnostics) HasErrors() bool { return d.errorsCount > 0 }

// Items returns every diagnostic recorded so far, in emission order.
func (d *Diagnostics) Items() []Diagnostic { return append([]Diagnostic(nil), d.items...) }

// Summary formats the final "program: N warning(s), M error(s)" line.
func (d *Diagnostics) Summary() string {
	return fmt.Sprintf("%s: %d warning(s), %d error(s)", d.program, d.warnings, d.errorsCount)
}

func newTextHandler(w io.Writer, quiet, verbose bool) slog.Handler {
	level := slog.LevelInfo
	if quiet {
		level = slog.LevelWarn
	}
	if verbose {
		level = slog.LevelDebug
	}
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
}
