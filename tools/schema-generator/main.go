package main

import (
	"encoding/json"
	"log"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/mattsolo1/tuxplan/cmd"
	"github.com/mattsolo1/tuxplan/pkg/orchestration"
)

func main() {
	data, err := orchestration.GeneratePlanSchema()
	if err != nil {
		log.Fatalf("Error marshaling plan schema: %v", err)
	}

	// Write to the package root
	if err := os.WriteFile("plan.schema.json", data, 0644); err != nil {
		log.Fatalf("Error writing schema file: %v", err)
	}

	log.Printf("Successfully generated plan schema at plan.schema.json")

	// Generate schema for the CLI configuration file
	r := &jsonschema.Reflector{
		AllowAdditionalProperties: true,
		ExpandedStruct:            true,
		FieldNameTag:              "yaml",
	}
	configSchema := r.Reflect(&cmd.Config{})
	configSchema.Title = "tuxplan configuration"
	configSchema.Description = "Schema for config.yml and tuxplan.yml."

	// Every field can come from another layer or the environment
	configSchema.Required = nil

	configData, err := json.MarshalIndent(configSchema, "", "  ")
	if err != nil {
		log.Fatalf("Error marshaling config schema: %v", err)
	}

	if err := os.WriteFile("tuxplan.schema.json", configData, 0644); err != nil {
		log.Fatalf("Error writing config schema file: %v", err)
	}

	log.Printf("Successfully generated config schema at tuxplan.schema.json")
}
