package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/config"
	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/telemetry"
)

// The metrics CSV columns and the configuration surface are contracts with
// the external analysis harness. This tool pins them as JSON schema files so
// a protocol revision that drifts either one fails review visibly.
func main() {
	var outDir string
	flag.StringVar(&outDir, "out", "", "directory to write the schema files")
	flag.Parse()

	if outDir == "" {
		fmt.Fprintln(os.Stderr, "--out is required")
		os.Exit(1)
	}

	targets := []struct {
		name        string
		title       string
		description string
		value       any
	}{
		{
			name:        "metrics-record.schema.json",
			title:       "EchoSync Metrics Record",
			description: "One row of the metrics CSV emitted by server and client",
			value:       new(telemetry.Record),
		},
		{
			name:        "server-config.schema.json",
			title:       "EchoSync Server Configuration",
			description: "Settings accepted by the server binary",
			value:       new(config.Server),
		},
		{
			name:        "client-config.schema.json",
			title:       "EchoSync Client Configuration",
			description: "Settings accepted by the client binary",
			value:       new(config.Client),
		},
	}

	reflector := jsonschema.Reflector{AllowAdditionalProperties: true}
	for _, t := range targets {
		schema := reflector.Reflect(t.value)
		schema.Title = t.title
		schema.Description = t.description
		if err := writeSchema(filepath.Join(outDir, t.name), schema); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", t.name, err)
			os.Exit(1)
		}
	}
}

func writeSchema(outPath string, schema *jsonschema.Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}

	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}

	return nil
}
