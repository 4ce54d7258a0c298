package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/apperrors"
)

// ValueType identifies which typed payload slot an attribute value carries.
type ValueType string

const (
	ValueTypeText       ValueType = "text"
	ValueTypeNumber     ValueType = "number"
	ValueTypeBoolean    ValueType = "boolean"
	ValueTypeDate       ValueType = "date"
	ValueTypeDateTime   ValueType = "datetime"
	ValueTypeStructured ValueType = "structured"
	ValueTypeArray      ValueType = "array"
)

// ValidValueTypes contains all valid value type tags.
var ValidValueTypes = []ValueType{
	ValueTypeText,
	ValueTypeNumber,
	ValueTypeBoolean,
	ValueTypeDate,
	ValueTypeDateTime,
	ValueTypeStructured,
	ValueTypeArray,
}

// IsValidValueType checks if the given type tag is valid.
func IsValidValueType(t ValueType) bool {
	for _, v := range ValidValueTypes {
		if v == t {
			return true
		}
	}
	return false
}

// DateLayout is the wire format for date-typed values.
const DateLayout = "2006-01-02"

// TypedValue is the tagged union for a single attribute value. Exactly one
// payload slot matching Type is populated; Validate enforces this before
// anything is stored.
type TypedValue struct {
	Type       ValueType      `json:"type"`
	Text       *string        `json:"text,omitempty"`
	Number     *float64       `json:"number,omitempty"`
	Bool       *bool          `json:"boolean,omitempty"`
	Date       *time.Time     `json:"date,omitempty"`
	DateTime   *time.Time     `json:"datetime,omitempty"`
	Structured map[string]any `json:"structured,omitempty"`
	Array      []string       `json:"array,omitempty"`
}

// booleanVocabulary maps accepted raw boolean spellings, case-insensitively.
var booleanVocabulary = map[string]bool{
	"true": true, "false": false,
	"1": true, "0": false,
	"yes": true, "no": false,
}

var hexColorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// IsHexColor reports whether s is a #rgb or #rrggbb color literal.
func IsHexColor(s string) bool {
	return hexColorPattern.MatchString(s)
}

// ParseTypedValue validates raw against valueType and returns the populated
// union. Returns apperrors.ErrValidation (wrapped with the failing field)
// when raw does not conform; nothing is stored on failure.
func ParseTypedValue(valueType ValueType, raw string) (TypedValue, error) {
	switch valueType {
	case ValueTypeText:
		return TypedValue{Type: ValueTypeText, Text: &raw}, nil

	case ValueTypeNumber:
		n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return TypedValue{}, fmt.Errorf("%w: value %q is not a number", apperrors.ErrValidation, raw)
		}
		return TypedValue{Type: ValueTypeNumber, Number: &n}, nil

	case ValueTypeBoolean:
		b, ok := booleanVocabulary[strings.ToLower(strings.TrimSpace(raw))]
		if !ok {
			return TypedValue{}, fmt.Errorf("%w: value %q is not a boolean (expected true/false, 1/0, yes/no)", apperrors.ErrValidation, raw)
		}
		return TypedValue{Type: ValueTypeBoolean, Bool: &b}, nil

	case ValueTypeDate:
		d, err := time.Parse(DateLayout, strings.TrimSpace(raw))
		if err != nil {
			return TypedValue{}, fmt.Errorf("%w: value %q is not an ISO date (%s)", apperrors.ErrValidation, raw, DateLayout)
		}
		return TypedValue{Type: ValueTypeDate, Date: &d}, nil

	case ValueTypeDateTime:
		dt, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
		if err != nil {
			return TypedValue{}, fmt.Errorf("%w: value %q is not an RFC 3339 datetime", apperrors.ErrValidation, raw)
		}
		return TypedValue{Type: ValueTypeDateTime, DateTime: &dt}, nil

	case ValueTypeStructured:
		var obj map[string]any
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			return TypedValue{}, fmt.Errorf("%w: value is not a JSON object: %v", apperrors.ErrValidation, err)
		}
		return TypedValue{Type: ValueTypeStructured, Structured: obj}, nil

	case ValueTypeArray:
		var items []string
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return TypedValue{}, fmt.Errorf("%w: value is not a JSON string array: %v", apperrors.ErrValidation, err)
		}
		return TypedValue{Type: ValueTypeArray, Array: items}, nil

	default:
		return TypedValue{}, fmt.Errorf("%w: unknown value type %q", apperrors.ErrValidation, valueType)
	}
}

// Validate checks that exactly one payload slot is populated and that it
// matches the type tag.
func (v TypedValue) Validate() error {
	if !IsValidValueType(v.Type) {
		return fmt.Errorf("%w: unknown value type %q", apperrors.ErrValidation, v.Type)
	}

	populated := 0
	if v.Text != nil {
		populated++
	}
	if v.Number != nil {
		populated++
	}
	if v.Bool != nil {
		populated++
	}
	if v.Date != nil {
		populated++
	}
	if v.DateTime != nil {
		populated++
	}
	if v.Structured != nil {
		populated++
	}
	if v.Array != nil {
		populated++
	}
	if populated != 1 {
		return fmt.Errorf("%w: expected exactly one populated value slot, got %d", apperrors.ErrValidation, populated)
	}

	var matches bool
	switch v.Type {
	case ValueTypeText:
		matches = v.Text != nil
	case ValueTypeNumber:
		matches = v.Number != nil
	case ValueTypeBoolean:
		matches = v.Bool != nil
	case ValueTypeDate:
		matches = v.Date != nil
	case ValueTypeDateTime:
		matches = v.DateTime != nil
	case ValueTypeStructured:
		matches = v.Structured != nil
	case ValueTypeArray:
		matches = v.Array != nil
	}
	if !matches {
		return fmt.Errorf("%w: populated slot does not match type tag %q", apperrors.ErrValidation, v.Type)
	}

	return nil
}

// StringValue renders the payload as a plain string for condition matching
// and similarity scoring.
func (v TypedValue) StringValue() string {
	switch v.Type {
	case ValueTypeText:
		if v.Text != nil {
			return *v.Text
		}
	case ValueTypeNumber:
		if v.Number != nil {
			return strconv.FormatFloat(*v.Number, 'f', -1, 64)
		}
	case ValueTypeBoolean:
		if v.Bool != nil {
			return strconv.FormatBool(*v.Bool)
		}
	case ValueTypeDate:
		if v.Date != nil {
			return v.Date.Format(DateLayout)
		}
	case ValueTypeDateTime:
		if v.DateTime != nil {
			return v.DateTime.Format(time.RFC3339)
		}
	case ValueTypeStructured:
		if v.Structured != nil {
			b, err := json.Marshal(v.Structured)
			if err == nil {
				return string(b)
			}
		}
	case ValueTypeArray:
		if v.Array != nil {
			return strings.Join(v.Array, ",")
		}
	}
	return ""
}

// Equal reports whether two typed values carry the same type and payload.
func (v TypedValue) Equal(other TypedValue) bool {
	if v.Type != other.Type {
		return false
	}
	switch v.Type {
	case ValueTypeDate, ValueTypeDateTime:
		a, b := v.Date, other.Date
		if v.Type == ValueTypeDateTime {
			a, b = v.DateTime, other.DateTime
		}
		if a == nil || b == nil {
			return a == b
		}
		return a.Equal(*b)
	default:
		return v.StringValue() == other.StringValue()
	}
}

// AttributeValue is one stored attribute on an entity. Unique per
// (store, entity, key, language).
type AttributeValue struct {
	ID        uuid.UUID  `json:"id"`
	StoreID   uuid.UUID  `json:"store_id"`
	EntityID  uuid.UUID  `json:"entity_id"`
	Key       string     `json:"key"`
	Language  string     `json:"language"`
	Value     TypedValue `json:"value"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// DefaultLanguage is used when callers omit the language qualifier.
const DefaultLanguage = "en"

// AttributeSnapshot is the flattened view of an entity's current attributes
// the rule engine evaluates against. Keys hold the raw string rendering of
// each value plus any canonical entity fields (name, description) the
// caller passes in.
type AttributeSnapshot map[string]string

// SnapshotFromValues builds an AttributeSnapshot from stored values,
// overlaying the caller-supplied canonical entity fields.
func SnapshotFromValues(values []*AttributeValue, entityFields map[string]string) AttributeSnapshot {
	snap := make(AttributeSnapshot, len(values)+len(entityFields))
	for _, av := range values {
		snap[av.Key] = av.Value.StringValue()
	}
	for k, v := range entityFields {
		snap[k] = v
	}
	return snap
}
