package linker

import (
	"errors"

	"github.com/rv32ld/rv32ld/pkg/diag"
	"github.com/rv32ld/rv32ld/pkg/utils"
)

// Sentinel errors, one per non-ok exit code. Each is wrapped with
// fmt.Errorf's %w so callers can errors.Is against the category while
// the formatted message keeps the specific detail.
var (
	ErrNoParam    = errors.New("missing required parameter")
	ErrNoFile     = errors.New("could not open a file")
	ErrBadFile    = errors.New("malformed input object file")
	ErrNoMem      = errors.New("allocation failed")
	ErrBadSection = errors.New("conflicting section across input files")
	ErrBadParam   = errors.New("malformed configuration value")
)

// fatal emits a Fatal-severity diagnostic and returns a *diag.FatalError
// carrying the exit code the CLI layer should terminate with. The
// category (base) and the call-site detail are joined with
// utils.MakeError so errors.Is(err, ErrBadFile) and friends keep working
// however deep the FatalError gets wrapped.
func (l *Linker) fatal(code diag.ExitCode, base error, format string, args ...any) error {
	err := utils.MakeError(base, format, args...)
	l.diag.Emit(diag.Fatal, "%s", err.Error())
	return diag.NewFatal(code, "%w", err)
}
