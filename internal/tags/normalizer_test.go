package tags

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_Synonyms(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"jwt maps to auth", "jwt", "auth"},
		{"oauth maps to auth", "oauth", "auth"},
		{"db maps to database", "db", "database"},
		{"rest maps to http", "rest", "http"},
		{"canonical passes through", "auth", "auth"},
		{"unknown passes through", "widget", "widget"},
		{"case insensitive", "JWT", "auth"},
		{"whitespace trimmed", "  sqlite  ", "database"},
		{"unknown preserved lowered", "MyFeature", "myfeature"},
		{"empty stays empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{"jwt", "auth", "DB", "  rest ", "widget", "Testing", ""}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "normalize must be idempotent for %q", in)
	}
}

func TestNormalizeAll(t *testing.T) {
	got := NormalizeAll([]string{"JWT", "oauth", "db", "widget", " ", "widget"})
	assert.Equal(t, []string{"auth", "database", "widget"}, got, "dedupes after normalization, preserves order")
}

func TestNormalizeAll_Empty(t *testing.T) {
	assert.Nil(t, NormalizeAll(nil))
	assert.Nil(t, NormalizeAll([]string{}))
}
