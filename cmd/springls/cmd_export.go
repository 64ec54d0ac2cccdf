package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"springls/internal/architecture"
	"springls/internal/buildfile"
	"springls/internal/project"
	"springls/internal/symbols"

	"github.com/spf13/cobra"
)

var (
	rootPackages []string

	exportCmd = &cobra.Command{
		Use:   "export <project dir>",
		Short: "Run the architecture exporter for one project and print its modules",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	}
)

func init() {
	exportCmd.Flags().StringSliceVar(&rootPackages, "root-package", nil,
		"root packages to analyze; default: packages of entry-point types")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dir, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	scanner := buildfile.NewScanner(
		buildfile.WithBuildFiles(cfg.Projects.BuildFiles...),
		buildfile.WithIgnoreDirs(cfg.Projects.IgnoreDirs...),
	)
	defer scanner.Dispose()
	scanner.Scan(ctx, dir)

	p, ok := scanner.Find(project.PathToURI(dir))
	if !ok {
		return fmt.Errorf("no build file found for %s", dir)
	}

	roots := rootPackages
	if len(roots) == 0 {
		pool := symbols.NewPool(4)
		defer pool.Close()
		roots, err = symbols.NewIndex(pool).EntryPointPackages(ctx, p, cfg.Architecture.EntryPointAnnotations)
		if err != nil {
			return err
		}
		if len(roots) == 0 {
			return fmt.Errorf("%s has no types annotated with %v", p.Name(), cfg.Architecture.EntryPointAnnotations)
		}
	}

	snap, err := export(ctx, cfg.Architecture.Runtime, cfg.Architecture.ExporterMainClass, cfg.Architecture.ExporterClasspath, p, roots)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

func export(ctx context.Context, javaRuntime, mainClass string, extra []string, p *project.Project, roots []string) (*architecture.Snapshot, error) {
	exporter := &architecture.ProcessExporter{
		Runtime:        javaRuntime,
		MainClass:      mainClass,
		ExtraClasspath: extra,
	}
	var modules []architecture.Module
	for _, root := range roots {
		mods, err := exporter.Export(ctx, p, root)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", root, err)
		}
		modules = append(modules, mods...)
	}
	return architecture.NewSnapshot(p.URI(), modules), nil
}
