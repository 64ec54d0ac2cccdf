package architecture

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidExport   = errors.New("architecture: invalid exporter output")
	ErrUnknownProject  = errors.New("architecture: unknown project")
	ErrNotApplicable   = errors.New("architecture: project does not use the analysis library")
	ErrIndexerDisposed = errors.New("architecture: indexer disposed")
)

// ExportError reports a failed exporter run.
type ExportError struct {
	RootPackage string
	ExitCode    int
	Stderr      string
	Err         error
}

func (e *ExportError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("architecture: export of %s exited with %d: %s", e.RootPackage, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("architecture: export of %s failed: %v", e.RootPackage, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }
