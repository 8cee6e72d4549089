package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllow(t *testing.T) {
	mustNew := func(exprs ...string) *Regex {
		f, err := New(exprs...)
		require.NoError(t, err)
		return f
	}
	tests := []struct {
		name             string
		text             string
		include, exclude *Regex
		want             bool
	}{
		{"no filters", "bonn-bcp-parken", nil, nil, true},
		{"empty filters", "bonn-bcp-parken", mustNew(), mustNew(" "), true},
		{"search semantics", "bonn-bcp-parken", mustNew("bcp"), nil, true},
		{"anchored miss", "bonn-bcp-parken", mustNew("^bcp"), nil, false},
		{"any include", "parken-in-ulm", mustNew("^bonn", "ulm$"), nil, true},
		{"exclude wins", "parken-in-ulm", mustNew("ulm"), mustNew("parken"), false},
		{"exclude only", "dresden-parken", nil, mustNew("^bahn"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Allow(tt.text, tt.include, tt.exclude))
		})
	}
}

func TestNewInvalid(t *testing.T) {
	_, err := New("ok", "(")
	assert.ErrorContains(t, err, `invalid filter "("`)
}

func TestNilRegex(t *testing.T) {
	var f *Regex
	assert.True(t, f.Empty())
	assert.False(t, f.Match("x"))
}
