// Package template generates starter configuration files for common
// engine setups.
package template

import (
	"fmt"
	"strings"
)

// Preset selects a starter configuration flavor.
type Preset string

const (
	PresetStockfish Preset = "stockfish"
	PresetLc0       Preset = "lc0"
	PresetMinimal   Preset = "minimal"
	PresetFull      Preset = "full"
)

// Option is one UCI option pinned at engine startup.
type Option struct {
	Key   string
	Value string
}

// ConfigTemplate holds the values rendered into a starter TOML config.
type ConfigTemplate struct {
	EngineName  string
	Command     string
	PoolSize    int
	MaxQueue    int
	MultiPV     int
	Threads     int
	MaxDepth    int
	EvalTimeout string
	Options     []Option
	Comments    []string // extra hints rendered under [engine]

	WithStore     bool
	WithRetention bool
	WithTLS       bool
}

// Generator provides starter config generation
type Generator struct{}

// NewGenerator creates a new config generator
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate creates a starter config based on the preset and engine name
func (g *Generator) Generate(preset Preset, name string) (*ConfigTemplate, error) {
	switch preset {
	case PresetStockfish:
		return g.stockfishTemplate(name), nil
	case PresetLc0:
		return g.lc0Template(name), nil
	case PresetMinimal:
		return g.minimalTemplate(name), nil
	case PresetFull:
		return g.fullTemplate(name), nil
	default:
		return nil, fmt.Errorf("unknown preset: %s (supported: stockfish, lc0, minimal, full)", preset)
	}
}

// GenerateTOML renders the preset as a TOML config file body.
func (g *Generator) GenerateTOML(preset Preset, name string) ([]byte, error) {
	t, err := g.Generate(preset, name)
	if err != nil {
		return nil, err
	}
	return t.TOML(), nil
}

// GetSupportedPresets returns a list of all supported presets
func (g *Generator) GetSupportedPresets() []string {
	return []string{
		string(PresetStockfish),
		string(PresetLc0),
		string(PresetMinimal),
		string(PresetFull),
	}
}

// TOML renders the template as a commented TOML document that loads
// without edits.
func (t *ConfigTemplate) TOML() []byte {
	var b strings.Builder
	b.WriteString("# kibitz configuration\n")

	if t.PoolSize > 0 {
		b.WriteString("\n[server]\n")
		b.WriteString("listen = \":8080\"\n")
		b.WriteString("base_path = \"/api/v1\"\n")

		if t.WithTLS {
			b.WriteString("\n[server.tls]\n")
			b.WriteString("enabled = true\n")
			b.WriteString("dir = \"./tls\"\n")
			b.WriteString("auto_generate = true\n")
		}

		b.WriteString("\n[pool]\n")
		fmt.Fprintf(&b, "size = %d\n", t.PoolSize)
		fmt.Fprintf(&b, "max_queue = %d\n", t.MaxQueue)
	}

	b.WriteString("\n[engine]\n")
	fmt.Fprintf(&b, "name = %q\n", t.EngineName)
	fmt.Fprintf(&b, "command = %q\n", t.Command)
	if t.MultiPV > 0 {
		fmt.Fprintf(&b, "multipv = %d\n", t.MultiPV)
	}
	if t.Threads > 0 {
		fmt.Fprintf(&b, "threads = %d\n", t.Threads)
	}
	if t.MaxDepth > 0 {
		fmt.Fprintf(&b, "max_depth = %d\n", t.MaxDepth)
	}
	if t.EvalTimeout != "" {
		fmt.Fprintf(&b, "eval_timeout = %q\n", t.EvalTimeout)
	}
	for _, c := range t.Comments {
		fmt.Fprintf(&b, "# %s\n", c)
	}

	if len(t.Options) > 0 {
		b.WriteString("\n[engine.options]\n")
		for _, o := range t.Options {
			fmt.Fprintf(&b, "%s = %q\n", o.Key, o.Value)
		}
	}

	if t.PoolSize > 0 {
		b.WriteString("\n[log]\n")
		b.WriteString("level = \"info\"\n")
		b.WriteString("color = true\n")
	}

	if t.WithStore {
		b.WriteString("\n[store]\n")
		b.WriteString("dsn = \"sqlite://./kibitz.db\"\n")
		b.WriteString("\n# [history]\n")
		b.WriteString("# sinks = [\"clickhouse://localhost:9000/kibitz\"]\n")
	}

	if t.WithRetention {
		b.WriteString("\n[retention]\n")
		b.WriteString("schedule = \"0 3 * * *\"\n")
		b.WriteString("max_age = \"720h\"\n")
	}

	return []byte(b.String())
}

func (g *Generator) stockfishTemplate(name string) *ConfigTemplate {
	return &ConfigTemplate{
		EngineName:  name,
		Command:     "stockfish",
		PoolSize:    2,
		MaxQueue:    64,
		MultiPV:     3,
		Threads:     4,
		MaxDepth:    30,
		EvalTimeout: "2m",
		Options: []Option{
			{Key: "Hash", Value: "256"},
		},
	}
}

func (g *Generator) lc0Template(name string) *ConfigTemplate {
	return &ConfigTemplate{
		EngineName:  name,
		Command:     "lc0",
		PoolSize:    1,
		MaxQueue:    32,
		MultiPV:     3,
		Threads:     2,
		MaxDepth:    20,
		EvalTimeout: "5m",
		Comments: []string{
			`add WeightsFile under [engine.options] to pin a network`,
		},
	}
}

func (g *Generator) minimalTemplate(name string) *ConfigTemplate {
	return &ConfigTemplate{
		EngineName: name,
		Command:    "stockfish",
	}
}

func (g *Generator) fullTemplate(name string) *ConfigTemplate {
	t := g.stockfishTemplate(name)
	t.PoolSize = 4
	t.MaxQueue = 128
	t.WithStore = true
	t.WithRetention = true
	t.WithTLS = true
	return t
}
