package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty", input: "", expected: nil},
		{name: "only separators", input: " , ,, ", expected: nil},
		{name: "trims and keeps order", input: " b:9092,a:9092 ", expected: []string{"b:9092", "a:9092"}},
		{name: "drops repeats", input: "a,b,a", expected: []string{"a", "b"}},
		{name: "case sensitive", input: "A,a", expected: []string{"A", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SplitList(tt.input))
		})
	}
}

func TestSplitHosts(t *testing.T) {
	assert.Equal(t,
		[]string{"forms.example.com", "airtable.com"},
		SplitHosts(" Forms.example.com,airtable.com,forms.EXAMPLE.com"),
	)
	assert.Nil(t, SplitHosts(""))
}
