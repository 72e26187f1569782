package schema

import (
	"fmt"
	"reflect"

	"github.com/draftline/draftline-go/contracts"
)

// ValidationError reports the first field that failed validation.
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
	Value   interface{} `json:"value,omitempty"`
}

// Error implements the error interface.
func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in field '%s': %s", ve.Field, ve.Message)
}

// Validation error codes.
const (
	CodeRequired = "required"
	CodeType     = "type"
	CodeEmpty    = "empty"
)

// Field types understood by the validator.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
	TypeAny     = "any"
)

// FieldDef defines the expected type of a single payload field.
type FieldDef struct {
	Type string `yaml:"type" json:"type"`
}

// Definition describes the expected shape of a payload: which top-level
// fields must be present and what type each declared field must have.
type Definition struct {
	Required []string             `yaml:"required" json:"required,omitempty"`
	Fields   map[string]*FieldDef `yaml:"fields" json:"fields,omitempty"`
}

// Validator checks content and transition payloads. The content
// definition is fixed at construction; transition definitions travel
// with their rules.
type Validator struct {
	content *Definition
}

// ValidatorOption configures the validator.
type ValidatorOption func(*Validator)

// WithContentDefinition overrides the built-in content payload definition.
func WithContentDefinition(def *Definition) ValidatorOption {
	return func(v *Validator) {
		if def != nil {
			v.content = def
		}
	}
}

// NewValidator creates a validator with the default content definition:
// a non-empty identifier, a body, and a metadata map.
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{
		content: &Definition{
			Required: []string{"identifier", "body", "metadata"},
			Fields: map[string]*FieldDef{
				"identifier": {Type: TypeString},
				"body":       {Type: TypeString},
				"metadata":   {Type: TypeObject},
			},
		},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateContent checks the top-level shape of a content payload before
// version creation.
func (v *Validator) ValidateContent(payload contracts.ContentPayload) error {
	if payload == nil {
		return &ValidationError{Field: "payload", Message: "content payload is required", Code: CodeRequired}
	}
	if err := validate(v.content, map[string]interface{}(payload)); err != nil {
		return err
	}
	// Identifier doubles as the content's logical key and must not be blank.
	if id, ok := payload["identifier"].(string); ok && id == "" {
		return &ValidationError{Field: "identifier", Message: "identifier must not be empty", Code: CodeEmpty}
	}
	return nil
}

// ValidateTransition checks a transition payload against the definition
// attached to the matched rule. A nil definition accepts any payload.
func (v *Validator) ValidateTransition(def *Definition, payload contracts.TransitionPayload) error {
	if def == nil {
		return nil
	}
	return validate(def, map[string]interface{}(payload))
}

// validate runs the fail-fast field checks: required presence first, in
// declaration order, then types of the fields that are present.
func validate(def *Definition, payload map[string]interface{}) error {
	for _, name := range def.Required {
		if _, ok := payload[name]; !ok {
			return &ValidationError{
				Field:   name,
				Message: fmt.Sprintf("required field '%s' is missing", name),
				Code:    CodeRequired,
			}
		}
	}
	for _, name := range def.Required {
		fd, ok := def.Fields[name]
		if !ok {
			continue
		}
		if err := checkType(name, fd.Type, payload[name]); err != nil {
			return err
		}
	}
	for name, fd := range def.Fields {
		value, ok := payload[name]
		if !ok || isRequired(def, name) {
			continue
		}
		if err := checkType(name, fd.Type, value); err != nil {
			return err
		}
	}
	return nil
}

func isRequired(def *Definition, name string) bool {
	for _, r := range def.Required {
		if r == name {
			return true
		}
	}
	return false
}

func checkType(field, expected string, value interface{}) error {
	if expected == "" || expected == TypeAny || value == nil {
		return nil
	}

	ok := false
	switch expected {
	case TypeString:
		_, ok = value.(string)
	case TypeBoolean:
		_, ok = value.(bool)
	case TypeNumber:
		switch value.(type) {
		case int, int32, int64, float32, float64:
			ok = true
		}
	case TypeObject:
		ok = reflect.ValueOf(value).Kind() == reflect.Map
	case TypeArray:
		kind := reflect.ValueOf(value).Kind()
		ok = kind == reflect.Slice || kind == reflect.Array
	default:
		// Unknown type names in configuration reject everything loudly.
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("unknown schema type '%s'", expected),
			Code:    CodeType,
			Value:   value,
		}
	}

	if !ok {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("field '%s' must be of type %s", field, expected),
			Code:    CodeType,
			Value:   value,
		}
	}
	return nil
}
