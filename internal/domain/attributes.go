package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type DataType string

const (
	DataTypeNumber DataType = "number"
	DataTypeText   DataType = "text"
	DataTypeSelect DataType = "select"
)

func (d DataType) Valid() bool {
	switch d {
	case DataTypeNumber, DataTypeText, DataTypeSelect:
		return true
	}
	return false
}

// AttributeValue is one validated attribute value. The concrete types are
// NumberValue, TextValue and SelectValue.
type AttributeValue interface {
	DataType() DataType
	String() string
	isAttributeValue()
}

type NumberValue struct {
	Value decimal.Decimal
}

type TextValue struct {
	Value string
}

type SelectValue struct {
	Value   string
	Allowed []string
}

func (NumberValue) DataType() DataType { return DataTypeNumber }
func (TextValue) DataType() DataType   { return DataTypeText }
func (SelectValue) DataType() DataType { return DataTypeSelect }

func (v NumberValue) String() string { return v.Value.String() }
func (v TextValue) String() string   { return v.Value }
func (v SelectValue) String() string { return v.Value }

func (NumberValue) isAttributeValue() {}
func (TextValue) isAttributeValue()   {}
func (SelectValue) isAttributeValue() {}

type AttributeEntry struct {
	Variable string
	Value    AttributeValue
}

// AttributeSet is an ordered, typed attribute mapping. Its JSON form is a
// plain object of variable -> value in set order; numbers are emitted as JSON
// numbers, text and select values as strings.
type AttributeSet []AttributeEntry

func (s AttributeSet) Get(variable string) (AttributeValue, bool) {
	for _, entry := range s {
		if entry.Variable == variable {
			return entry.Value, true
		}
	}
	return nil, false
}

// Numbers returns the numeric entries keyed by variable.
func (s AttributeSet) Numbers() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(s))
	for _, entry := range s {
		if num, ok := entry.Value.(NumberValue); ok {
			out[entry.Variable] = num.Value
		}
	}
	return out
}

// Raw converts the set back into raw string values.
func (s AttributeSet) Raw() RawAttributes {
	out := make(RawAttributes, len(s))
	for _, entry := range s {
		out[entry.Variable] = entry.Value.String()
	}
	return out
}

func (s AttributeSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for idx, entry := range s {
		if idx > 0 {
			buf.WriteByte(',')
		}
		key, err := marshalNoEscape(entry.Variable)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := MarshalAttributeValue(entry.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a persisted set. Numbers become NumberValue and
// strings become TextValue, keeping the document's key order.
func (s *AttributeSet) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*s = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); ok && delim == '[' && bytes.Equal(bytes.TrimSpace(data), []byte("[]")) {
		*s = AttributeSet{}
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("attribute set must be a JSON object")
	}

	out := AttributeSet{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		valTok, err := dec.Token()
		if err != nil {
			return err
		}
		switch val := valTok.(type) {
		case json.Number:
			num, err := decimal.NewFromString(val.String())
			if err != nil {
				return fmt.Errorf("attribute %s: %w", key, err)
			}
			out = append(out, AttributeEntry{Variable: key, Value: NumberValue{Value: num}})
		case string:
			out = append(out, AttributeEntry{Variable: key, Value: TextValue{Value: val}})
		case nil:
			continue
		default:
			return fmt.Errorf("attribute %s: unsupported value %v", key, val)
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*s = out
	return nil
}

// MarshalAttributeValue emits the stable textual form of a value: numbers
// without trailing zeros, strings with Unicode and HTML characters unescaped.
func MarshalAttributeValue(value AttributeValue) ([]byte, error) {
	switch v := value.(type) {
	case NumberValue:
		return []byte(v.Value.String()), nil
	case TextValue:
		return marshalNoEscape(v.Value)
	case SelectValue:
		return marshalNoEscape(v.Value)
	case nil:
		return []byte("null"), nil
	default:
		return nil, fmt.Errorf("unsupported attribute value %T", value)
	}
}

func marshalNoEscape(value string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// RawAttributes are user-entered attribute values keyed by variable, as they
// arrive from a form post or JSON body. JSON numbers and booleans are kept in
// their literal text form; null values are dropped.
type RawAttributes map[string]string

func (r *RawAttributes) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*r = nil
		return nil
	}
	// Older documents encode an empty attribute map as [].
	if bytes.Equal(trimmed, []byte("[]")) {
		*r = RawAttributes{}
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var generic map[string]any
	if err := dec.Decode(&generic); err != nil {
		return err
	}

	out := make(RawAttributes, len(generic))
	for key, val := range generic {
		switch v := val.(type) {
		case nil:
			continue
		case string:
			out[key] = v
		case json.Number:
			out[key] = v.String()
		case bool:
			out[key] = fmt.Sprintf("%t", v)
		default:
			return fmt.Errorf("attribute %s: value must be a scalar", key)
		}
	}
	*r = out
	return nil
}

// Present reports whether variable was supplied with a non-blank value.
func (r RawAttributes) Present(variable string) bool {
	val, ok := r[variable]
	return ok && strings.TrimSpace(val) != ""
}
