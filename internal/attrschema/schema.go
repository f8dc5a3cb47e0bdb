// Package attrschema implements the typed attribute contract of product
// templates: attribute definitions, value validation, the canonical
// attributes hash and the volume formula.
package attrschema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"warehouse/backend/internal/domain"
)

var variablePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// EmptyAttributesHash is the hash of a set with no attributes.
var EmptyAttributesHash = hashBytes([]byte("{}"))

// ValidVariable reports whether name is a usable formula identifier.
func ValidVariable(name string) bool {
	return variablePattern.MatchString(name)
}

// ValidateDefinition checks a template's attribute list and formula before
// they are stored.
func ValidateDefinition(attrs []domain.TemplateAttribute, formula string) error {
	seen := make(map[string]struct{}, len(attrs))
	for idx, attr := range attrs {
		field := fmt.Sprintf("attributes[%d]", idx)
		if strings.TrimSpace(attr.Name) == "" {
			return newError(CodeMissingName, field+".name", "attribute name is required")
		}
		if !attr.DataType.Valid() {
			return newError(CodeInvalidDataType, field+".data_type", fmt.Sprintf("unsupported data type %q", attr.DataType))
		}
		if attr.Variable != "" && !ValidVariable(attr.Variable) {
			return newError(CodeInvalidVariable, field+".variable", fmt.Sprintf("%q is not a valid identifier", attr.Variable))
		}
		if attr.UseInFormula {
			if attr.Variable == "" {
				return newError(CodeInvalidVariable, field+".variable", "a variable is required for attributes used in the formula")
			}
			if attr.DataType != domain.DataTypeNumber {
				return newError(CodeInvalidDataType, field+".data_type", "only number attributes can be used in the formula")
			}
		}
		if attr.DataType == domain.DataTypeSelect && len(nonBlank(attr.Options)) == 0 {
			return newError(CodeMissingOptions, field+".options", "select attributes need at least one option")
		}

		key := attr.Key()
		if _, dup := seen[key]; dup {
			return &Error{Code: CodeDuplicateVariable, Field: key}
		}
		seen[key] = struct{}{}
	}

	if strings.TrimSpace(formula) == "" {
		return nil
	}
	return ValidateFormula(formula, FormulaVariables(attrs))
}

// FormulaVariables returns the variables that may appear in the formula.
func FormulaVariables(attrs []domain.TemplateAttribute) []string {
	vars := make([]string, 0, len(attrs))
	for _, attr := range attrs {
		if attr.UseInFormula && attr.Variable != "" {
			vars = append(vars, attr.Variable)
		}
	}
	return vars
}

// Ordered returns the attributes in sort_order, keeping definition order for ties.
func Ordered(attrs []domain.TemplateAttribute) []domain.TemplateAttribute {
	ordered := make([]domain.TemplateAttribute, len(attrs))
	copy(ordered, attrs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SortOrder < ordered[j].SortOrder
	})
	return ordered
}

// ValidateAttributeSet validates raw values against the template schema and
// returns the typed set in template order. Values for unknown keys are
// dropped. Optional number and select attributes left blank are omitted;
// text attributes are always present, blank when not supplied.
func ValidateAttributeSet(tpl domain.ProductTemplate, raw domain.RawAttributes) (domain.AttributeSet, error) {
	attrs := Ordered(tpl.Attributes)
	out := make(domain.AttributeSet, 0, len(attrs))

	for _, attr := range attrs {
		key := attr.Key()
		val, supplied := raw[key]
		blank := !supplied || strings.TrimSpace(val) == ""

		if attr.IsRequired && blank {
			return nil, &Error{Code: CodeMissingRequired, Field: key}
		}

		switch attr.DataType {
		case domain.DataTypeNumber:
			if blank {
				continue
			}
			num, err := decimal.NewFromString(strings.TrimSpace(val))
			if err != nil {
				return nil, &Error{Code: CodeInvalidNumber, Field: key, Detail: err.Error()}
			}
			if !domain.NumberInRange(num, domain.AttributeScale) {
				return nil, &Error{Code: CodeInvalidNumber, Field: key, Detail: numberRangeDetail}
			}
			out = append(out, domain.AttributeEntry{Variable: key, Value: domain.NumberValue{Value: num}})
		case domain.DataTypeSelect:
			if blank {
				continue
			}
			allowed := nonBlank(attr.Options)
			if !contains(allowed, val) {
				return nil, &Error{Code: CodeInvalidOption, Field: key, Allowed: allowed}
			}
			out = append(out, domain.AttributeEntry{Variable: key, Value: domain.SelectValue{Value: val, Allowed: allowed}})
		case domain.DataTypeText:
			out = append(out, domain.AttributeEntry{Variable: key, Value: domain.TextValue{Value: val}})
		default:
			return nil, &Error{Code: CodeInvalidDataType, Field: key, Detail: fmt.Sprintf("unsupported data type %q", attr.DataType)}
		}
	}

	return out, nil
}

// CanonicalJSON is the hashed form of a set: keys sorted, numbers without
// trailing zeros, strings with Unicode preserved.
func CanonicalJSON(set domain.AttributeSet) ([]byte, error) {
	sorted := make(domain.AttributeSet, len(set))
	copy(sorted, set)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Variable < sorted[j].Variable
	})
	return sorted.MarshalJSON()
}

// ComputeAttributesHash returns the hex SHA-256 of the canonical form of set.
func ComputeAttributesHash(set domain.AttributeSet) (string, error) {
	payload, err := CanonicalJSON(set)
	if err != nil {
		return "", err
	}
	return hashBytes(payload), nil
}

// EvaluateTemplate evaluates the template formula against a validated set.
// The result is invalid (null) when the template has no formula.
func EvaluateTemplate(tpl domain.ProductTemplate, set domain.AttributeSet) (decimal.NullDecimal, error) {
	if strings.TrimSpace(tpl.Formula) == "" {
		return decimal.NullDecimal{}, nil
	}
	result, err := EvaluateFormula(tpl.Formula, set.Numbers())
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NullDecimal{Decimal: result, Valid: true}, nil
}

func hashBytes(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func nonBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
