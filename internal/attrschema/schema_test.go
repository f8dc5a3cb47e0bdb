package attrschema

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warehouse/backend/internal/domain"
)

func blockTemplate() domain.ProductTemplate {
	return domain.ProductTemplate{
		ID:      "tpl-block",
		Name:    "Block",
		Formula: "length*width",
		Status:  domain.StatusActive,
		Attributes: []domain.TemplateAttribute{
			{Name: "Length", Variable: "length", DataType: domain.DataTypeNumber, IsRequired: true, UseInFormula: true, SortOrder: 0},
			{Name: "Width", Variable: "width", DataType: domain.DataTypeNumber, IsRequired: true, UseInFormula: true, SortOrder: 1},
		},
	}
}

func boardTemplate() domain.ProductTemplate {
	return domain.ProductTemplate{
		ID:     "tpl-board",
		Name:   "Board",
		Status: domain.StatusActive,
		Attributes: []domain.TemplateAttribute{
			{Name: "Comment", Variable: "comment", DataType: domain.DataTypeText, SortOrder: 3},
			{Name: "Grade", Variable: "grade", DataType: domain.DataTypeSelect, Options: []string{"A", "B", ""}, IsRequired: true, SortOrder: 1},
			{Name: "Thickness", Variable: "thickness", DataType: domain.DataTypeNumber, SortOrder: 2},
			{Name: "Species", Variable: "species", DataType: domain.DataTypeSelect, Options: []string{"pine", "oak"}, SortOrder: 0},
		},
	}
}

func TestBlockScenarioValidatesAndEvaluates(t *testing.T) {
	tpl := blockTemplate()
	require.NoError(t, ValidateDefinition(tpl.Attributes, tpl.Formula))

	set, err := ValidateAttributeSet(tpl, domain.RawAttributes{"length": "10", "width": "5"})
	require.NoError(t, err)
	require.Len(t, set, 2)

	result, err := EvaluateTemplate(tpl, set)
	require.NoError(t, err)
	require.True(t, result.Valid)
	assert.True(t, result.Decimal.Equal(decimal.NewFromInt(50)), result.Decimal.String())
}

func TestEvaluateTemplateWithoutFormula(t *testing.T) {
	tpl := boardTemplate()
	set, err := ValidateAttributeSet(tpl, domain.RawAttributes{"grade": "A"})
	require.NoError(t, err)

	result, err := EvaluateTemplate(tpl, set)
	require.NoError(t, err)
	assert.False(t, result.Valid)
}

func TestValidateAttributeSetOrderAndOmissions(t *testing.T) {
	set, err := ValidateAttributeSet(boardTemplate(), domain.RawAttributes{
		"grade":   "B",
		"unknown": "dropped",
	})
	require.NoError(t, err)

	vars := make([]string, 0, len(set))
	for _, entry := range set {
		vars = append(vars, entry.Variable)
	}
	assert.Equal(t, []string{"grade", "comment"}, vars)

	comment, ok := set.Get("comment")
	require.True(t, ok)
	assert.Equal(t, domain.DataTypeText, comment.DataType())
	assert.Equal(t, "", comment.String())

	grade, ok := set.Get("grade")
	require.True(t, ok)
	selectValue, ok := grade.(domain.SelectValue)
	require.True(t, ok)
	assert.Equal(t, []string{"A", "B"}, selectValue.Allowed)
}

func TestValidateAttributeSetRejectsOptionOutsideList(t *testing.T) {
	_, err := ValidateAttributeSet(boardTemplate(), domain.RawAttributes{"grade": "C"})
	var schemaErr *Error
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, CodeInvalidOption, schemaErr.Code)
	assert.Equal(t, "grade", schemaErr.Field)
	assert.Equal(t, []string{"A", "B"}, schemaErr.Allowed)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = ValidateAttributeSet(boardTemplate(), domain.RawAttributes{"grade": "a"})
	assert.True(t, IsCode(err, CodeInvalidOption), "option match is case sensitive")
}

func TestValidateAttributeSetRequired(t *testing.T) {
	for _, raw := range []domain.RawAttributes{
		{},
		{"grade": ""},
		{"grade": "   "},
	} {
		_, err := ValidateAttributeSet(boardTemplate(), raw)
		var schemaErr *Error
		require.ErrorAs(t, err, &schemaErr)
		assert.Equal(t, CodeMissingRequired, schemaErr.Code)
		assert.Equal(t, "grade", schemaErr.Field)
	}
}

func TestValidateAttributeSetInvalidNumber(t *testing.T) {
	for _, value := range []string{"ten", "1,5", "1e", "NaN", "Inf"} {
		_, err := ValidateAttributeSet(boardTemplate(), domain.RawAttributes{"grade": "A", "thickness": value})
		assert.True(t, IsCode(err, CodeInvalidNumber), value)
	}

	for _, value := range []string{"1e2000000000", "-1e2000000000", "1e-2000000000", "1e16", "12345678901234567", "0.000000001"} {
		_, err := ValidateAttributeSet(boardTemplate(), domain.RawAttributes{"grade": "A", "thickness": value})
		require.Error(t, err, value)
		assert.True(t, IsCode(err, CodeInvalidNumber), value)
		var schemaErr *Error
		require.True(t, errors.As(err, &schemaErr), value)
		assert.Equal(t, "thickness", schemaErr.Field)
	}

	set, err := ValidateAttributeSet(boardTemplate(), domain.RawAttributes{"grade": "A", "thickness": "9999999999999999.5"})
	require.NoError(t, err)
	hash, err := ComputeAttributesHash(set)
	require.NoError(t, err)
	assert.Len(t, hash, 64)

	set, err = ValidateAttributeSet(boardTemplate(), domain.RawAttributes{"grade": "A", "thickness": " 2.50 "})
	require.NoError(t, err)
	thickness, ok := set.Get("thickness")
	require.True(t, ok)
	assert.Equal(t, "2.5", thickness.String())
}

func TestValidateAttributeSetKeepsTextVerbatim(t *testing.T) {
	set, err := ValidateAttributeSet(boardTemplate(), domain.RawAttributes{"grade": "A", "comment": "  сухая <доска>  "})
	require.NoError(t, err)
	comment, _ := set.Get("comment")
	assert.Equal(t, "  сухая <доска>  ", comment.String())
}

func TestComputeAttributesHashIgnoresInputOrder(t *testing.T) {
	a := domain.AttributeSet{
		{Variable: "width", Value: domain.NumberValue{Value: decimal.RequireFromString("5")}},
		{Variable: "length", Value: domain.NumberValue{Value: decimal.RequireFromString("10")}},
		{Variable: "color", Value: domain.TextValue{Value: "красный"}},
	}
	b := domain.AttributeSet{
		{Variable: "color", Value: domain.SelectValue{Value: "красный"}},
		{Variable: "length", Value: domain.NumberValue{Value: decimal.RequireFromString("10.00")}},
		{Variable: "width", Value: domain.NumberValue{Value: decimal.RequireFromString("5.0")}},
	}
	ha, err := ComputeAttributesHash(a)
	require.NoError(t, err)
	hb, err := ComputeAttributesHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 64)

	c := append(domain.AttributeSet{}, a...)
	c[0] = domain.AttributeEntry{Variable: "width", Value: domain.NumberValue{Value: decimal.RequireFromString("6")}}
	hc, err := ComputeAttributesHash(c)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)
}

func TestComputeAttributesHashDistinguishesNumberAndText(t *testing.T) {
	num, err := ComputeAttributesHash(domain.AttributeSet{{Variable: "size", Value: domain.NumberValue{Value: decimal.NewFromInt(10)}}})
	require.NoError(t, err)
	text, err := ComputeAttributesHash(domain.AttributeSet{{Variable: "size", Value: domain.TextValue{Value: "10"}}})
	require.NoError(t, err)
	assert.NotEqual(t, num, text)
}

func TestCanonicalJSONForm(t *testing.T) {
	payload, err := CanonicalJSON(domain.AttributeSet{
		{Variable: "b", Value: domain.TextValue{Value: "ёж & <x>"}},
		{Variable: "a", Value: domain.NumberValue{Value: decimal.RequireFromString("1.50")}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1.5,"b":"ёж & <x>"}`, string(payload))
}

func TestEmptyAttributesHash(t *testing.T) {
	sum := sha256.Sum256([]byte("{}"))
	want := hex.EncodeToString(sum[:])
	assert.Equal(t, want, EmptyAttributesHash)

	for _, set := range []domain.AttributeSet{nil, {}} {
		got, err := ComputeAttributesHash(set)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestValidateDefinitionRejections(t *testing.T) {
	number := func(name, variable string, inFormula bool) domain.TemplateAttribute {
		return domain.TemplateAttribute{Name: name, Variable: variable, DataType: domain.DataTypeNumber, UseInFormula: inFormula}
	}
	cases := []struct {
		name    string
		attrs   []domain.TemplateAttribute
		formula string
		code    Code
	}{
		{"duplicate variable", []domain.TemplateAttribute{number("Length", "length", true), number("Length 2", "length", false)}, "", CodeDuplicateVariable},
		{"bad identifier", []domain.TemplateAttribute{number("Length", "1length", false)}, "", CodeInvalidVariable},
		{"formula without variable", []domain.TemplateAttribute{number("Length", "", true)}, "", CodeInvalidVariable},
		{"text in formula", []domain.TemplateAttribute{{Name: "Note", Variable: "note", DataType: domain.DataTypeText, UseInFormula: true}}, "", CodeInvalidDataType},
		{"unknown data type", []domain.TemplateAttribute{{Name: "X", Variable: "x", DataType: "date"}}, "", CodeInvalidDataType},
		{"select without options", []domain.TemplateAttribute{{Name: "Grade", Variable: "grade", DataType: domain.DataTypeSelect, Options: []string{" "}}}, "", CodeMissingOptions},
		{"missing name", []domain.TemplateAttribute{number(" ", "x", false)}, "", CodeMissingName},
		{"formula uses variable not in formula", []domain.TemplateAttribute{number("Length", "length", true), number("Width", "width", false)}, "length*width", CodeUnknownVariable},
		{"formula syntax", []domain.TemplateAttribute{number("Length", "length", true)}, "length*", CodeFormulaSyntax},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateDefinition(tc.attrs, tc.formula)
			require.Error(t, err)
			assert.True(t, IsCode(err, tc.code), "got %v", err)
		})
	}
}

func TestValidateDefinitionKeysUnnamedVariablesByName(t *testing.T) {
	attrs := []domain.TemplateAttribute{
		{Name: "Color", DataType: domain.DataTypeText},
		{Name: "Color", DataType: domain.DataTypeText},
	}
	assert.True(t, IsCode(ValidateDefinition(attrs, ""), CodeDuplicateVariable))

	attrs[1].Name = "Finish"
	assert.NoError(t, ValidateDefinition(attrs, ""))
}

func TestOrderedIsStable(t *testing.T) {
	attrs := []domain.TemplateAttribute{
		{Name: "c", SortOrder: 1},
		{Name: "a", SortOrder: 0},
		{Name: "b", SortOrder: 1},
	}
	ordered := Ordered(attrs)
	assert.Equal(t, "a", ordered[0].Name)
	assert.Equal(t, "c", ordered[1].Name)
	assert.Equal(t, "b", ordered[2].Name)
	assert.Equal(t, "c", attrs[0].Name)
}
