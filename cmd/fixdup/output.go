package main

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

const (
	outputText = "text"
	outputYAML = "yaml"
	outputJSON = "json"
)

// printStructured writes v as YAML or JSON. Text output is handled by each
// command.
func printStructured(out io.Writer, format string, v any) error {
	switch format {
	case outputYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case outputJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func validOutput(format string) error {
	switch format {
	case outputText, outputYAML, outputJSON:
		return nil
	}
	return fmt.Errorf("unknown output format %q (text, yaml or json)", format)
}
