package schemes

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/kirillkom/welfare-scheme-portal/internal/core/domain"
)

//go:embed definitions
var definitions embed.FS

var schemaFiles = map[domain.ApplicationType]string{
	domain.TypeAtrocityRelief:     "definitions/atrocity_relief.schema.json",
	domain.TypeIntercasteMarriage: "definitions/intercaste_marriage.schema.json",
}

// Validator checks scheme payloads against the JSON schema of their
// application type before they are decoded.
type Validator struct {
	schemas map[domain.ApplicationType]*gojsonschema.Schema
}

func NewValidator() (*Validator, error) {
	schemas := make(map[domain.ApplicationType]*gojsonschema.Schema, len(schemaFiles))
	for appType, path := range schemaFiles {
		raw, err := definitions.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", path, err)
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", path, err)
		}
		schemas[appType] = schema
	}
	return &Validator{schemas: schemas}, nil
}

func (v *Validator) Validate(appType domain.ApplicationType, payload []byte) error {
	const op = "validate scheme details"
	schema, ok := v.schemas[appType]
	if !ok {
		return domain.WrapError(domain.ErrValidation, op, fmt.Errorf("unknown application type %q", appType))
	}
	if len(payload) == 0 {
		return domain.WrapError(domain.ErrValidation, op, errors.New("scheme details are required"))
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return domain.WrapError(domain.ErrValidation, op, fmt.Errorf("malformed json: %w", err))
	}
	if !result.Valid() {
		msgs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			msgs[i] = desc.String()
		}
		return domain.WrapError(domain.ErrValidation, op, errors.New(strings.Join(msgs, "; ")))
	}
	return nil
}
