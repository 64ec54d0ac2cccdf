package architecture

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"springls/internal/project"
)

// Exporter computes the modules below one root package of a project.
type Exporter interface {
	Export(ctx context.Context, p *project.Project, rootPackage string) ([]Module, error)
}

// ProcessExporter runs
//
//	<runtime> -cp <classpath> <main> <rootPackage> <outFile>
//
// and parses the JSON written to outFile.
type ProcessExporter struct {
	Runtime   string
	MainClass string
	// ExtraClasspath is appended to the project's resolved classpath.
	ExtraClasspath []string
	TempDir        string
}

func (e *ProcessExporter) Export(ctx context.Context, p *project.Project, rootPackage string) ([]Module, error) {
	out, err := os.CreateTemp(e.TempDir, "springls-export-*.json")
	if err != nil {
		return nil, &ExportError{RootPackage: rootPackage, Err: err}
	}
	outPath := out.Name()
	out.Close()
	defer os.Remove(outPath)

	cp := append(p.ResolvedClasspath(), e.ExtraClasspath...)
	cmd := exec.CommandContext(ctx, e.Runtime,
		"-cp", strings.Join(cp, string(filepath.ListSeparator)),
		e.MainClass, rootPackage, outPath)
	if info, err := os.Stat(p.Path()); err == nil && info.IsDir() {
		cmd.Dir = p.Path()
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	log.Debugf("running exporter for %s in %s", rootPackage, p)
	if err := cmd.Run(); err != nil {
		exportErr := &ExportError{RootPackage: rootPackage, Stderr: strings.TrimSpace(stderr.String()), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exportErr.ExitCode = exitErr.ExitCode()
		}
		return nil, exportErr
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, &ExportError{RootPackage: rootPackage, Err: err}
	}
	modules, err := ParseExport(data)
	if err != nil {
		return nil, &ExportError{RootPackage: rootPackage, Err: err}
	}
	return modules, nil
}
