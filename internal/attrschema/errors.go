package attrschema

import (
	"errors"
	"fmt"
	"strings"

	"warehouse/backend/internal/domain"
)

type Code string

const (
	CodeMissingRequired       Code = "missing_required_attribute"
	CodeInvalidNumber         Code = "invalid_number"
	CodeInvalidOption         Code = "invalid_option"
	CodeDuplicateVariable     Code = "duplicate_variable"
	CodeInvalidVariable       Code = "invalid_variable"
	CodeInvalidDataType       Code = "invalid_data_type"
	CodeMissingOptions        Code = "missing_options"
	CodeMissingName           Code = "missing_name"
	CodeInvalidCharacter      Code = "invalid_character"
	CodeUnbalancedParentheses Code = "unbalanced_parentheses"
	CodeEmptyParentheses      Code = "empty_parentheses"
	CodeUnknownVariable       Code = "unknown_variable"
	CodeFormulaSyntax         Code = "formula_syntax"
	CodeMissingVariable       Code = "missing_variable"
	CodeUnsafeExpression      Code = "unsafe_expression"
	CodeEvaluation            Code = "evaluation_error"
)

var numberRangeDetail = fmt.Sprintf("must be below 1e16 with at most %d decimal places", domain.AttributeScale)

// Error is a schema, value or formula error. It always classifies as
// domain.ErrValidation.
type Error struct {
	Code    Code
	Field   string
	Allowed []string
	Detail  string
}

func (e *Error) Error() string {
	switch e.Code {
	case CodeMissingRequired:
		return fmt.Sprintf("attribute %q is required", e.Field)
	case CodeInvalidNumber:
		if e.Detail == numberRangeDetail {
			return fmt.Sprintf("attribute %q %s", e.Field, numberRangeDetail)
		}
		return fmt.Sprintf("attribute %q must be a number", e.Field)
	case CodeInvalidOption:
		return fmt.Sprintf("attribute %q must be one of: %s", e.Field, strings.Join(e.Allowed, ", "))
	case CodeDuplicateVariable:
		return fmt.Sprintf("variable %q is defined more than once", e.Field)
	case CodeUnknownVariable:
		return fmt.Sprintf("formula references unknown variable %q", e.Field)
	case CodeMissingVariable:
		return fmt.Sprintf("no value supplied for formula variable %q", e.Field)
	case CodeUnsafeExpression:
		return "formula produced an unsafe expression"
	}
	if e.Field != "" && e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Detail)
	}
	if e.Detail != "" {
		return e.Detail
	}
	return string(e.Code)
}

func (e *Error) Is(target error) bool {
	return target == domain.ErrValidation
}

// IsCode reports whether err is a schema error with the given code.
func IsCode(err error, code Code) bool {
	var schemaErr *Error
	return errors.As(err, &schemaErr) && schemaErr.Code == code
}

func newError(code Code, field string, detail string) *Error {
	return &Error{Code: code, Field: field, Detail: detail}
}
