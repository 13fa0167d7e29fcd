package engine

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEncodeLiteral(t *testing.T) {
	ts := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value any
		want  string
	}{
		{name: "nil", value: nil, want: "NULL"},
		{name: "plain string", value: "Ann", want: "'Ann'"},
		{name: "string with quote", value: "O'Hara", want: "'O''Hara'"},
		{name: "string with two quotes", value: "''", want: "''''''"},
		{name: "empty string", value: "", want: "''"},
		{name: "true", value: true, want: "TRUE"},
		{name: "false", value: false, want: "FALSE"},
		{name: "int", value: 42, want: "42"},
		{name: "negative int64", value: int64(-7), want: "-7"},
		{name: "uint", value: uint(3), want: "3"},
		{name: "float", value: 2.5, want: "2.5"},
		{name: "nan", value: math.NaN(), want: "NULL"},
		{name: "positive inf", value: math.Inf(1), want: "NULL"},
		{name: "negative inf", value: math.Inf(-1), want: "NULL"},
		{name: "time", value: ts, want: "'2024-03-15T09:30:00Z'"},
		{name: "bytes", value: []byte{0xde, 0xad}, want: "X'DEAD'"},
		{name: "map to json", value: map[string]int{"a": 1}, want: `'{"a":1}'`},
		{name: "slice to json", value: []int{1, 2}, want: "'[1,2]'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EncodeLiteral(tt.value))
		})
	}
}

func TestEncodeLiteral_JSONWithQuotes(t *testing.T) {
	// Quote characters inside marshalled JSON must be doubled too.
	got := EncodeLiteral(map[string]string{"name": "O'Hara"})
	assert.Equal(t, `'{"name":"O''Hara"}'`, got)
}
