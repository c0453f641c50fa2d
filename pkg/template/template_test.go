package template

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kibitz-hq/kibitz/internal/config"
)

func TestGenerateUnknownPreset(t *testing.T) {
	if _, err := NewGenerator().Generate("fischer", "x"); err == nil || !strings.Contains(err.Error(), "unknown preset") {
		t.Fatalf("expected unknown preset error, got %v", err)
	}
}

func TestGetSupportedPresets(t *testing.T) {
	got := NewGenerator().GetSupportedPresets()
	if len(got) != 4 {
		t.Fatalf("expected 4 presets, got %v", got)
	}
}

// Every preset must render a config that loads without edits.
func TestGeneratedConfigsLoad(t *testing.T) {
	g := NewGenerator()
	for _, preset := range g.GetSupportedPresets() {
		t.Run(preset, func(t *testing.T) {
			body, err := g.GenerateTOML(Preset(preset), "testengine")
			if err != nil {
				t.Fatalf("generate: %v", err)
			}
			file := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(file, body, 0o644); err != nil {
				t.Fatal(err)
			}
			c, err := config.Load(file)
			if err != nil {
				t.Fatalf("generated config does not load: %v\n%s", err, body)
			}
			if c.Engine.Name != "testengine" {
				t.Fatalf("engine name not applied: %q", c.Engine.Name)
			}
			if c.Engine.Command == "" {
				t.Fatal("engine command empty")
			}
		})
	}
}

func TestStockfishPreset(t *testing.T) {
	body, err := NewGenerator().GenerateTOML(PresetStockfish, "stockfish")
	if err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(file, body, 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := config.Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Engine.MultiPV != 3 || c.Engine.Threads != 4 {
		t.Fatalf("unexpected engine tuning: %+v", c.Engine)
	}
	if c.Engine.Options["Hash"] != "256" {
		t.Fatalf("Hash option missing: %+v", c.Engine.Options)
	}
	if c.Pool.Size != 2 {
		t.Fatalf("unexpected pool size: %d", c.Pool.Size)
	}
}

func TestFullPresetSections(t *testing.T) {
	body, err := NewGenerator().GenerateTOML(PresetFull, "stockfish")
	if err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(file, body, 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := config.Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Store.DSN == "" {
		t.Fatal("full preset should configure a store")
	}
	if c.Retention.Schedule == "" || c.Retention.MaxAge <= 0 {
		t.Fatalf("full preset should configure retention: %+v", c.Retention)
	}
	if c.Server.TLS == nil || !c.Server.TLS.Enabled || !c.Server.TLS.AutoGenerate {
		t.Fatalf("full preset should configure tls: %+v", c.Server.TLS)
	}
	// History sinks stay commented out; nothing should be configured.
	if len(c.History.Sinks) != 0 {
		t.Fatalf("history sinks should be commented hints: %v", c.History.Sinks)
	}
}

func TestMinimalPresetOmitsServerSections(t *testing.T) {
	body, err := NewGenerator().GenerateTOML(PresetMinimal, "stockfish")
	if err != nil {
		t.Fatal(err)
	}
	s := string(body)
	if strings.Contains(s, "[server]") || strings.Contains(s, "[pool]") {
		t.Fatalf("minimal preset should only carry the engine section:\n%s", s)
	}
}
