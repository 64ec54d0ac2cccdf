package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads "500ms"-style strings from JSON and
// YAML. Plain numbers are taken as milliseconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) set(raw any) error {
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(v) * time.Millisecond)
	case int:
		*d = Duration(time.Duration(v) * time.Millisecond)
	default:
		return fmt.Errorf("invalid duration %v", raw)
	}
	return nil
}

type Projects struct {
	// InitTimeout bounds the client handshake of the primary classpath source.
	InitTimeout Duration `json:"init_timeout" yaml:"init_timeout"`
	// BuildFiles are the file names the fallback scanner treats as project roots.
	BuildFiles []string `json:"build_files" yaml:"build_files"`
	// IgnoreDirs are skipped while scanning for build files.
	IgnoreDirs []string `json:"ignore_dirs" yaml:"ignore_dirs"`
}

type Architecture struct {
	Enabled       bool     `json:"enabled"        yaml:"enabled"`
	Debounce      Duration `json:"debounce"       yaml:"debounce"`
	MaxConcurrent int      `json:"max_concurrent" yaml:"max_concurrent"`
	// LibraryMarker is matched against binary classpath entries to decide
	// whether a project uses the architecture analysis library.
	LibraryMarker string `json:"library_marker" yaml:"library_marker"`
	// Runtime is the executable used to run the exporter.
	Runtime string `json:"runtime" yaml:"runtime"`
	// ExporterMainClass is the entry point passed after -cp.
	ExporterMainClass string `json:"exporter_main_class" yaml:"exporter_main_class"`
	// ExporterClasspath is prepended to the project classpath.
	ExporterClasspath []string `json:"exporter_classpath" yaml:"exporter_classpath"`
	// EntryPointAnnotations mark the types whose packages are analysis roots.
	EntryPointAnnotations []string `json:"entry_point_annotations" yaml:"entry_point_annotations"`
}

type Config struct {
	// StateDir holds the snapshot store. Empty selects $XDG_STATE_HOME/springls.
	StateDir       string       `json:"state_dir"       yaml:"state_dir"`
	SemanticTokens bool         `json:"semantic_tokens" yaml:"semantic_tokens"`
	MetricsAddr    string       `json:"metrics_addr"    yaml:"metrics_addr"`
	Projects       Projects     `json:"projects"        yaml:"projects"`
	Architecture   Architecture `json:"architecture"    yaml:"architecture"`
}

var defaultConfig = Config{
	SemanticTokens: true,
	Projects: Projects{
		InitTimeout: Duration(5 * time.Second),
		BuildFiles:  []string{"pom.xml", "build.gradle", "build.gradle.kts"},
		IgnoreDirs:  []string{".git", "node_modules", "target", "build", "bin", "out", ".gradle", ".idea"},
	},
	Architecture: Architecture{
		Enabled:               true,
		Debounce:              Duration(500 * time.Millisecond),
		MaxConcurrent:         2,
		LibraryMarker:         "spring-modulith",
		Runtime:               "java",
		ExporterMainClass:     "org.springframework.modulith.core.util.ApplicationModulesExporter",
		EntryPointAnnotations: []string{"SpringBootApplication", "Modulithic"},
	},
}

// Default returns a copy of the built-in configuration.
func Default() Config {
	return defaultConfig.clone()
}

// clone copies c without sharing slice storage.
func (c Config) clone() Config {
	c.Projects.BuildFiles = slices.Clone(c.Projects.BuildFiles)
	c.Projects.IgnoreDirs = slices.Clone(c.Projects.IgnoreDirs)
	c.Architecture.ExporterClasspath = slices.Clone(c.Architecture.ExporterClasspath)
	c.Architecture.EntryPointAnnotations = slices.Clone(c.Architecture.EntryPointAnnotations)
	return c
}

// Load merges v (typically the LSP initializationOptions) over base.
// Only fields present in v overwrite.
func Load(base Config, v any) (Config, error) {
	cfg := base.clone()
	if v == nil {
		return cfg, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return Config{}, fmt.Errorf("failed to marshal source: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal into Config: %w", err)
	}

	return cfg.normalize(), nil
}

// LoadYAML reads YAML from r over the defaults.
func LoadYAML(r io.Reader) (Config, error) {
	cfg := Default()

	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}

	return cfg.normalize(), nil
}

// LoadFile is LoadYAML for a path. An empty path yields the defaults.
func LoadFile(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	return LoadYAML(f)
}

func (c Config) normalize() Config {
	if c.Architecture.MaxConcurrent < 1 {
		c.Architecture.MaxConcurrent = 1
	}
	if c.Architecture.Debounce < 0 {
		c.Architecture.Debounce = 0
	}
	if c.Projects.InitTimeout <= 0 {
		c.Projects.InitTimeout = defaultConfig.Projects.InitTimeout
	}
	return c
}
