package instruction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstructions_DefaultMentionsRetrievalPolicy(t *testing.T) {
	text := Instructions(Default())

	require.NotEmpty(t, text)
	assert.Contains(t, text, RetrievalToolName)
	assert.Contains(t, text, "use the retrieval tool")
	assert.Contains(t, text, "do not have enough information")
	assert.Contains(t, text, "college admissions")
}

func TestInstructions_AllVariants(t *testing.T) {
	for _, v := range Variants() {
		t.Run(v.String(), func(t *testing.T) {
			text := Instructions(v)
			assert.NotEmpty(t, text)
			assert.Contains(t, text, RetrievalToolName)
		})
	}

	assert.Contains(t, Instructions(VariantDocumentation), "Citations:")
	assert.NotEqual(t, Instructions(VariantAdmissions), Instructions(VariantDocumentation))
	assert.Equal(t, Instructions(VariantAdmissions), Instructions(Variant(42)))
}

func TestParseVariant(t *testing.T) {
	tests := []struct {
		in   string
		want Variant
	}{
		{"", VariantAdmissions},
		{"admissions", VariantAdmissions},
		{"V1", VariantAdmissions},
		{" documentation ", VariantDocumentation},
		{"v0", VariantDocumentation},
	}
	for _, tt := range tests {
		got, err := ParseVariant(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseVariant("pirate")
	assert.Error(t, err)
}

func TestVariantString(t *testing.T) {
	assert.Equal(t, "admissions", VariantAdmissions.String())
	assert.Equal(t, "documentation", VariantDocumentation.String())
	assert.Equal(t, "Variant(9)", Variant(9).String())
}

func TestRender(t *testing.T) {
	state := MapState{
		"student_name":    "Amina",
		"app:college":     "Sullamussalam Science College",
		"user:programme":  "BSc Physics",
		"application_fee": 500,
	}

	got, err := Render("Hello {student_name}, welcome to {app:college}. Applying for {user:programme}; fee {application_fee}.", state)
	require.NoError(t, err)
	assert.Equal(t, "Hello Amina, welcome to Sullamussalam Science College. Applying for BSc Physics; fee 500.", got)
}

func TestRender_Optional(t *testing.T) {
	got, err := Render("Intake: {intake_year?}.", MapState{})
	require.NoError(t, err)
	assert.Equal(t, "Intake: .", got)

	got, err = Render("Intake: {intake_year?}.", nil)
	require.NoError(t, err)
	assert.Equal(t, "Intake: .", got)
}

func TestRender_MissingRequired(t *testing.T) {
	_, err := Render("Hello {student_name}", MapState{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStateKeyNotFound)
	assert.Contains(t, err.Error(), "student_name")
}

func TestRender_LeavesNonIdentifiers(t *testing.T) {
	tmpl := `Reply as JSON like {"answer": "..."} or { not a key }, {bogus:key}.`
	got, err := Render(tmpl, MapState{})
	require.NoError(t, err)
	assert.Equal(t, tmpl, got)
}

func TestRender_PromptsHaveNoRequiredPlaceholders(t *testing.T) {
	for _, v := range Variants() {
		got, err := Render(Instructions(v), MapState{})
		require.NoError(t, err)
		assert.Equal(t, Instructions(v), got)
	}
}

func TestHasPlaceholders(t *testing.T) {
	assert.True(t, HasPlaceholders("hi {name}"))
	assert.False(t, HasPlaceholders("hi there"))
}
