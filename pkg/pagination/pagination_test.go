package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   Params
		want Params
	}{
		{"defaults", Params{}, Params{Page: 1, Limit: 20}},
		{"caps limit", Params{Page: 2, Limit: 500}, Params{Page: 2, Limit: 50}},
		{"negative page", Params{Page: -3, Limit: 10}, Params{Page: 1, Limit: 10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.in.Normalize(0, 0))
		})
	}
}

func TestOffsetAndMeta(t *testing.T) {
	p := Params{Page: 3, Limit: 10}
	assert.Equal(t, 20, p.Offset())

	meta := NewMeta(p, 31)
	assert.Equal(t, 4, meta.TotalPages)
	assert.True(t, meta.HasMore)

	last := NewMeta(Params{Page: 4, Limit: 10}, 31)
	assert.False(t, last.HasMore)

	empty := NewMeta(Params{Page: 1, Limit: 20}, 0)
	assert.Equal(t, 0, empty.TotalPages)
	assert.False(t, empty.HasMore)
}
