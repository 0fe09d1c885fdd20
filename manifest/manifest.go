// Package manifest handles gmvm.toml runtime configuration.
package manifest

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"

	"github.com/chazu/gmvm/vm"
)

// FileName is the manifest looked for by Load and FindAndLoad.
const FileName = "gmvm.toml"

var log = commonlog.GetLogger("gmvm.manifest")

// Manifest represents a gmvm.toml configuration.
type Manifest struct {
	Runtime   Runtime   `toml:"runtime"`
	Debug     Debug     `toml:"debug"`
	Savestate Savestate `toml:"savestate"`

	// Dir is the directory containing the gmvm.toml file (set at load time).
	Dir string `toml:"-"`
}

// Runtime sizes the executor and tunes the data structure comparator.
type Runtime struct {
	StackSize int     `toml:"stack-size"`
	CallDepth int     `toml:"call-depth"`
	DSEpsilon float64 `toml:"ds-epsilon"`
}

// Debug configures logging, tracing and startup breakpoints.
type Debug struct {
	Trace     bool   `toml:"trace"`
	TraceFile string `toml:"trace-file"`
	LogLevel  string `toml:"log-level"`
	// Breakpoints are "code:line" pairs.
	Breakpoints []string `toml:"breakpoints"`
}

// Savestate configures the save-state store.
type Savestate struct {
	Path        string `toml:"path"`
	Compress    bool   `toml:"compress"`
	RewindDepth int    `toml:"rewind-depth"`
}

// Breakpoint is a parsed Debug.Breakpoints entry.
type Breakpoint struct {
	Code string
	Line int
}

// logLevels maps log-level names to commonlog verbosity.
var logLevels = map[string]int{
	"none":     -4,
	"critical": -3,
	"error":    -2,
	"warning":  -1,
	"notice":   0,
	"info":     1,
	"debug":    2,
}

// Default returns the configuration used when no gmvm.toml exists.
func Default() *Manifest {
	cfg := vm.DefaultConfig()
	return &Manifest{
		Runtime: Runtime{
			StackSize: cfg.StackSize,
			CallDepth: cfg.CallDepth,
			DSEpsilon: vm.DefaultEpsilon,
		},
		Debug: Debug{LogLevel: "warning"},
		Savestate: Savestate{
			Path:        filepath.Join(".gmvm", "states.db"),
			Compress:    true,
			RewindDepth: 8,
		},
	}
}

// Load parses a gmvm.toml file from the given directory. Keys it does not
// set keep their defaults.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	md, err := toml.Decode(string(data), m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	for _, key := range md.Undecoded() {
		log.Warningf("%s: unknown key %s", path, key)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find a gmvm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Validate rejects values the runtime cannot work with.
func (m *Manifest) Validate() error {
	if err := m.ExecutorConfig().Validate(); err != nil {
		return fmt.Errorf("[runtime]: %w", err)
	}
	if eps := m.Runtime.DSEpsilon; eps < 0 || math.IsNaN(eps) || math.IsInf(eps, 0) {
		return fmt.Errorf("[runtime] ds-epsilon must be a finite non-negative number, got %v", eps)
	}
	if _, ok := logLevels[strings.ToLower(m.Debug.LogLevel)]; !ok {
		return fmt.Errorf("[debug] unknown log-level %q", m.Debug.LogLevel)
	}
	if _, err := m.Breakpoints(); err != nil {
		return err
	}
	if m.Savestate.RewindDepth < 0 {
		return fmt.Errorf("[savestate] rewind-depth must not be negative, got %d", m.Savestate.RewindDepth)
	}
	if m.Savestate.Path == "" {
		return fmt.Errorf("[savestate] path is empty")
	}
	return nil
}

// ExecutorConfig converts the runtime section to an executor configuration.
func (m *Manifest) ExecutorConfig() vm.Config {
	return vm.Config{StackSize: m.Runtime.StackSize, CallDepth: m.Runtime.CallDepth}
}

// Verbosity returns the commonlog verbosity for the configured log level.
func (m *Manifest) Verbosity() int {
	return logLevels[strings.ToLower(m.Debug.LogLevel)]
}

// Breakpoints parses the "code:line" entries of the debug section.
func (m *Manifest) Breakpoints() ([]Breakpoint, error) {
	var out []Breakpoint
	for _, s := range m.Debug.Breakpoints {
		i := strings.LastIndexByte(s, ':')
		if i <= 0 {
			return nil, fmt.Errorf("[debug] breakpoint %q is not code:line", s)
		}
		line, err := strconv.Atoi(s[i+1:])
		if err != nil || line < 1 {
			return nil, fmt.Errorf("[debug] breakpoint %q has no valid line", s)
		}
		out = append(out, Breakpoint{Code: s[:i], Line: line})
	}
	return out, nil
}

// StatePath returns the absolute save-state database path.
func (m *Manifest) StatePath() string {
	if filepath.IsAbs(m.Savestate.Path) {
		return m.Savestate.Path
	}
	return filepath.Join(m.Dir, m.Savestate.Path)
}

// TracePath returns the absolute trace output path, or "" for stderr.
func (m *Manifest) TracePath() string {
	if m.Debug.TraceFile == "" || filepath.IsAbs(m.Debug.TraceFile) {
		return m.Debug.TraceFile
	}
	return filepath.Join(m.Dir, m.Debug.TraceFile)
}

// Apply installs the configured breakpoints on d and activates it when there
// are any.
func (m *Manifest) Apply(d *vm.DebugServer) error {
	bps, err := m.Breakpoints()
	if err != nil {
		return err
	}
	for _, bp := range bps {
		d.SetBreakpoint(bp.Code, bp.Line)
	}
	if len(bps) > 0 {
		d.Activate()
	}
	return nil
}
