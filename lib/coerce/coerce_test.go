package coerce

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToInt(t *testing.T) {
	testCases := []struct {
		input  string
		expect int
	}{
		{input: "1,500", expect: 1500},
		{input: "1500", expect: 1500},
		{input: " 2 005 ", expect: 2005},
		{input: "42.0", expect: 42},
		{input: "42.9", expect: 42},
		{input: "", expect: 0},
		{input: "n/a", expect: 0},
		{input: "N/A", expect: 0},
		{input: "unknown", expect: 0},
		{input: "-", expect: 0},
		{input: "—", expect: 0},
		{input: "-1500", expect: 0},
		{input: "garbage", expect: 0},
		{input: "true", expect: 0},
		{input: "1e300", expect: 0},
	}
	for _, test := range testCases {
		require.Equal(t, test.expect, ToInt(test.input), "input: %q", test.input)
	}
}

func TestToFloat(t *testing.T) {
	testCases := []struct {
		input  string
		expect float64
	}{
		{input: "42", expect: 42},
		{input: "42%", expect: 42},
		{input: " 42.5 % ", expect: 42.5},
		{input: "1,234.56", expect: 1234.56},
		{input: "", expect: 0},
		{input: "na", expect: 0},
		{input: "-", expect: 0},
		{input: "-3.5", expect: 0},
		{input: "1000", expect: 0},
		{input: "999", expect: 999},
		{input: "nonsense", expect: 0},
	}
	for _, test := range testCases {
		require.Equal(t, test.expect, ToFloat(test.input), "input: %q", test.input)
	}
}

func TestCoercionIdempotent(t *testing.T) {
	inputs := []string{"1,500", "42%", "", "n/a", "12.5", "-8"}
	for _, in := range inputs {
		once := ToInt(in)
		require.Equal(t, once, ToInt(strconv.Itoa(once)))

		fonce := ToFloat(in)
		require.Equal(t, fonce, ToFloat(strconv.FormatFloat(fonce, 'f', -1, 64)))
	}
}
