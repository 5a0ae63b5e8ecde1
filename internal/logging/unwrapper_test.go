package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnwrapper(t *testing.T) {
	cases := []struct {
		name string
		in   []uint16
		want []int64
	}{
		{name: "empty", in: []uint16{}, want: []int64{}},
		{name: "in-order", in: []uint16{1, 2, 3}, want: []int64{1, 2, 3}},
		{name: "wrap", in: []uint16{65534, 65535, 0, 1}, want: []int64{65534, 65535, 65536, 65537}},
		{name: "reorder-across-wrap", in: []uint16{65535, 0, 65534, 1}, want: []int64{65535, 65536, 65534, 65537}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u := &Unwrapper{}
			got := make([]int64, 0, len(tc.in))
			for _, s := range tc.in {
				got = append(got, u.Unwrap(s))
			}
			assert.Equal(t, tc.want, got)
		})
	}
}
