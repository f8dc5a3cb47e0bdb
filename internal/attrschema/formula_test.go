package attrschema

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warehouse/backend/internal/domain"
)

func decimals(t *testing.T, values map[string]string) map[string]decimal.Decimal {
	t.Helper()
	out := make(map[string]decimal.Decimal, len(values))
	for k, v := range values {
		out[k] = decimal.RequireFromString(v)
	}
	return out
}

func TestValidateFormulaAcceptsWellFormedFormulas(t *testing.T) {
	available := []string{"length", "width", "height", "_k2"}
	for _, formula := range []string{
		"length*width*height",
		"(length + width) * 2",
		"length / 1000 * width / 1000 * height / 1000",
		"-length + _k2",
		"  length *  width ",
		"0.5 * (length - (width + height))",
	} {
		assert.NoError(t, ValidateFormula(formula, available), formula)
	}
}

func TestValidateFormulaRejections(t *testing.T) {
	available := []string{"length", "width"}
	cases := []struct {
		formula string
		code    Code
	}{
		{"length^2", CodeInvalidCharacter},
		{"length; drop", CodeInvalidCharacter},
		{"length*width%", CodeInvalidCharacter},
		{"length\t*width", CodeInvalidCharacter},
		{"length*\nwidth", CodeInvalidCharacter},
		{"length\r*width", CodeInvalidCharacter},
		{"длина*width", CodeInvalidCharacter},
		{"(length*width", CodeUnbalancedParentheses},
		{"length*width)", CodeUnbalancedParentheses},
		{")length(", CodeUnbalancedParentheses},
		{"length*()", CodeEmptyParentheses},
		{"length*( )", CodeEmptyParentheses},
		{"length*height", CodeUnknownVariable},
		{"lengthX*width", CodeUnknownVariable},
		{"length**width", CodeFormulaSyntax},
		{"length width", CodeFormulaSyntax},
		{"1..2*length", CodeFormulaSyntax},
		{"   ", CodeFormulaSyntax},
	}
	for _, tc := range cases {
		err := ValidateFormula(tc.formula, available)
		require.Error(t, err, tc.formula)
		assert.True(t, IsCode(err, tc.code), "%q: got %v", tc.formula, err)
		assert.True(t, errors.Is(err, domain.ErrValidation), tc.formula)
	}
}

func TestValidateFormulaReportsUnknownVariableName(t *testing.T) {
	err := ValidateFormula("length*depth", []string{"length"})
	var schemaErr *Error
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, CodeUnknownVariable, schemaErr.Code)
	assert.Equal(t, "depth", schemaErr.Field)
}

func TestEvaluateFormulaVolume(t *testing.T) {
	got, err := EvaluateFormula("length*width*height", decimals(t, map[string]string{
		"length": "2", "width": "3", "height": "4",
	}))
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(24)), got.String())
}

func TestEvaluateFormulaPrecedenceAndParentheses(t *testing.T) {
	values := decimals(t, map[string]string{"a": "2", "b": "3", "c": "4"})
	cases := map[string]string{
		"a+b*c":     "14",
		"(a+b)*c":   "20",
		"a-b-c":     "-5",
		"c/a/a":     "1",
		"-a*b":      "-6",
		"a*-b":      "-6",
		"--a":       "2",
		"a/b":       "0.67",
		"10/4":      "2.5",
		"0.125+a":   "2.13",
		"-0.125":    "-0.13",
		"a*(b-c)*c": "-8",
	}
	for formula, want := range cases {
		got, err := EvaluateFormula(formula, values)
		require.NoError(t, err, formula)
		assert.True(t, got.Equal(decimal.RequireFromString(want)), "%s = %s, want %s", formula, got, want)
	}
}

func TestEvaluateFormulaNegativeValues(t *testing.T) {
	got, err := EvaluateFormula("a-b", decimals(t, map[string]string{"a": "1", "b": "-2.5"}))
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("3.5")), got.String())
}

func TestEvaluateFormulaDivisionByZero(t *testing.T) {
	_, err := EvaluateFormula("a/b", decimals(t, map[string]string{"a": "1", "b": "0"}))
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeEvaluation), err.Error())

	_, err = EvaluateFormula("a/(b-b)", decimals(t, map[string]string{"a": "1", "b": "7"}))
	assert.True(t, IsCode(err, CodeEvaluation))
}

func TestEvaluateFormulaMissingVariable(t *testing.T) {
	_, err := EvaluateFormula("length*width", decimals(t, map[string]string{"length": "3"}))
	var schemaErr *Error
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, CodeMissingVariable, schemaErr.Code)
	assert.Equal(t, "width", schemaErr.Field)
}

func TestEvaluateFormulaWholeWordSubstitution(t *testing.T) {
	values := decimals(t, map[string]string{"length": "2", "lengthX": "10"})
	got, err := EvaluateFormula("lengthX+length", values)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(12)), got.String())

	_, err = EvaluateFormula("lengthX", decimals(t, map[string]string{"length": "2"}))
	assert.True(t, IsCode(err, CodeMissingVariable))
}

func TestEvaluateFormulaRoundsHalfAwayFromZero(t *testing.T) {
	got, err := EvaluateFormula("a/8", decimals(t, map[string]string{"a": "1"}))
	require.NoError(t, err)
	assert.Equal(t, "0.13", got.String())

	got, err = EvaluateFormula("a/8", decimals(t, map[string]string{"a": "-1"}))
	require.NoError(t, err)
	assert.Equal(t, "-0.13", got.String())
}

func TestEvaluateFormulaRejectsUnsafeCharacters(t *testing.T) {
	_, err := EvaluateFormula("a;b", decimals(t, map[string]string{"a": "1", "b": "2"}))
	assert.True(t, IsCode(err, CodeInvalidCharacter))
}
