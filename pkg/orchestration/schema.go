package orchestration

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// PlanSchema reflects the JSON Schema of a plan document.
func PlanSchema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties: true,
		ExpandedStruct:            true,
		FieldNameTag:              "yaml",
	}

	schema := r.Reflect(&PlanDocument{})
	schema.Title = "Plan"
	schema.Description = "Build matrix and tests submitted as one plan."
	schema.Required = []string{"version", "jobs"}
	return schema
}

// GeneratePlanSchema returns the plan document schema as indented JSON.
func GeneratePlanSchema() ([]byte, error) {
	return json.MarshalIndent(PlanSchema(), "", "  ")
}
