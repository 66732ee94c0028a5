package orchestration

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
)

var (
	specValidate     *validator.Validate
	specValidateOnce sync.Once
)

func getValidator() *validator.Validate {
	specValidateOnce.Do(func() {
		v := validator.New()
		// Report document keys rather than Go field names.
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		specValidate = v
	})
	return specValidate
}

// validateDocument checks the parts of the document that do not survive
// expansion.
func validateDocument(doc *PlanDocument) error {
	var result *multierror.Error
	for i := range doc.Jobs {
		if m := doc.Jobs[i].Matrix; m != nil {
			if err := getValidator().Struct(m); err != nil {
				result = multierror.Append(result, describe(fmt.Sprintf("jobs[%d].matrix", i), err))
			}
		}
	}
	return result.ErrorOrNil()
}

// validateEntries checks every expanded build, bake and test. All
// problems are reported together.
func validateEntries(entries []Entry) error {
	v := getValidator()
	var result *multierror.Error

	for i := range entries {
		entry := &entries[i]
		where := fmt.Sprintf("entry %d (%s)", i, entry.Name)

		if entry.Build != nil {
			if err := v.Struct(entry.Build); err != nil {
				result = multierror.Append(result, describe(where+" build", err))
			}
		}
		if entry.Bake != nil {
			if err := v.Struct(entry.Bake); err != nil {
				result = multierror.Append(result, describe(where+" bake", err))
			}
		}
		for j := range entry.Tests {
			test := &entry.Tests[j]
			if err := v.Struct(test); err != nil {
				result = multierror.Append(result, describe(fmt.Sprintf("%s tests[%d]", where, j), err))
			}
			if !entry.HasBuild() && test.Kernel == "" {
				result = multierror.Append(result, fmt.Errorf("%s tests[%d]: kernel is required when no build precedes the test", where, j))
			}
		}
	}
	return result.ErrorOrNil()
}

func describe(where string, err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%s: %w", where, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Tag() == "required" {
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%s: %s", where, strings.Join(msgs, ", "))
}
