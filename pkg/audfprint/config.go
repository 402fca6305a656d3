package audfprint

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/events"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/runner"
)

type Config struct {
	DataDir          string
	TempDir          string
	ToolDir          string
	ToolName         string
	Interpreter      string
	Cores            int
	MatchConcurrency int
	MaxMatches       int
	InstallURL       string
	Candidates       []string
	Packages         []string
	CatalogPath      string
	DisableCatalog   bool
	Logger           Logger
	Executor         runner.Executor
	Index            Index
	Bus              *events.Bus
}

type Option func(*Config)

func WithDataDir(dir string) Option {
	return func(c *Config) {
		c.DataDir = dir
	}
}

func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

func WithToolDir(dir string) Option {
	return func(c *Config) {
		c.ToolDir = dir
	}
}

func WithToolName(name string) Option {
	return func(c *Config) {
		c.ToolName = name
	}
}

func WithInterpreter(path string) Option {
	return func(c *Config) {
		c.Interpreter = path
	}
}

func WithCores(n int) Option {
	return func(c *Config) {
		c.Cores = n
	}
}

// WithMatchConcurrency bounds how many databases one analysis is matched
// against at the same time.
func WithMatchConcurrency(n int) Option {
	return func(c *Config) {
		c.MatchConcurrency = n
	}
}

// WithMaxMatches caps the results per query (-N). Zero leaves the tool default.
func WithMaxMatches(n int) Option {
	return func(c *Config) {
		c.MaxMatches = n
	}
}

func WithInstallURL(url string) Option {
	return func(c *Config) {
		c.InstallURL = url
	}
}

// WithCandidates sets the interpreter locations tried when the configured
// one cannot be started.
func WithCandidates(paths ...string) Option {
	return func(c *Config) {
		c.Candidates = paths
	}
}

func WithPackages(pkgs ...string) Option {
	return func(c *Config) {
		c.Packages = pkgs
	}
}

func WithCatalogPath(path string) Option {
	return func(c *Config) {
		c.CatalogPath = path
	}
}

func WithoutCatalog() Option {
	return func(c *Config) {
		c.DisableCatalog = true
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func WithExecutor(exec runner.Executor) Option {
	return func(c *Config) {
		c.Executor = exec
	}
}

func WithIndex(index Index) Option {
	return func(c *Config) {
		c.Index = index
	}
}

func WithBus(bus *events.Bus) Option {
	return func(c *Config) {
		c.Bus = bus
	}
}

func defaultConfig() *Config {
	return &Config{
		DataDir:          "audfprint-data",
		TempDir:          os.TempDir(),
		ToolName:         "audfprint",
		Interpreter:      "python3",
		Cores:            runtime.NumCPU(),
		MatchConcurrency: 1,
	}
}

// FileConfig is the YAML form of Config.
type FileConfig struct {
	DataDir          string   `yaml:"data_dir"`
	TempDir          string   `yaml:"temp_dir"`
	ToolDir          string   `yaml:"tool_dir"`
	ToolName         string   `yaml:"tool_name"`
	Interpreter      string   `yaml:"interpreter"`
	Cores            int      `yaml:"cores"`
	MatchConcurrency int      `yaml:"match_concurrency"`
	MaxMatches       int      `yaml:"max_matches"`
	InstallURL       string   `yaml:"install_url"`
	Candidates       []string `yaml:"candidates"`
	Packages         []string `yaml:"packages"`
	Catalog          *bool    `yaml:"catalog"`
	CatalogPath      string   `yaml:"catalog_path"`
}

// LoadConfigFile reads a YAML config. Relative directories are resolved
// against the file's directory.
func LoadConfigFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	base := filepath.Dir(path)
	for _, p := range []*string{&fc.DataDir, &fc.TempDir, &fc.ToolDir, &fc.CatalogPath} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	return &fc, nil
}

// Options converts the set fields of fc.
func (fc *FileConfig) Options() []Option {
	if fc == nil {
		return nil
	}
	var opts []Option
	str := func(v string, opt func(string) Option) {
		if v != "" {
			opts = append(opts, opt(v))
		}
	}
	num := func(v int, opt func(int) Option) {
		if v > 0 {
			opts = append(opts, opt(v))
		}
	}

	str(fc.DataDir, WithDataDir)
	str(fc.TempDir, WithTempDir)
	str(fc.ToolDir, WithToolDir)
	str(fc.ToolName, WithToolName)
	str(fc.Interpreter, WithInterpreter)
	str(fc.InstallURL, WithInstallURL)
	str(fc.CatalogPath, WithCatalogPath)
	num(fc.Cores, WithCores)
	num(fc.MatchConcurrency, WithMatchConcurrency)
	num(fc.MaxMatches, WithMaxMatches)
	if len(fc.Candidates) > 0 {
		opts = append(opts, WithCandidates(fc.Candidates...))
	}
	if len(fc.Packages) > 0 {
		opts = append(opts, WithPackages(fc.Packages...))
	}
	if fc.Catalog != nil && !*fc.Catalog {
		opts = append(opts, WithoutCatalog())
	}
	return opts
}
