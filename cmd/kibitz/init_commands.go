package main

import (
	"fmt"
	"os"

	"github.com/kibitz-hq/kibitz/pkg/template"
)

// InitConfig writes a starter config file for the chosen preset
func (c command) InitConfig(f InitFlags) error {
	name := f.Name
	if name == "" {
		name = f.Preset
	}

	outputPath := f.Output
	if outputPath == "" {
		outputPath = "config.toml"
	}

	// Check if file already exists and force flag not set
	if _, err := os.Stat(outputPath); err == nil && !f.Force {
		return fmt.Errorf("config file '%s' already exists (use --force to overwrite)", outputPath)
	}

	generator := template.NewGenerator()
	body, err := generator.GenerateTOML(template.Preset(f.Preset), name)
	if err != nil {
		return fmt.Errorf("failed to generate config: %w", err)
	}

	if err := os.WriteFile(outputPath, body, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Config '%s' created: %s\n", name, outputPath)
	fmt.Printf("Start the daemon with: kibitz serve %s\n", outputPath)
	return nil
}
