package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeTitle(t *testing.T) {
	require.Equal(t, "dune", NormalizeTitle("Dune (Dune, #1)"))
	require.Equal(t, "the left hand of darkness", NormalizeTitle("  The Left\n Hand of   Darkness "))
	require.Equal(t, "(untitled)", NormalizeTitle("(untitled)"))
}

func TestSameTitle(t *testing.T) {
	testCases := []struct {
		a, b   string
		expect bool
	}{
		{a: "Dune", b: "Dune (Dune, #1)", expect: true},
		{a: "The Hobbit", b: "The Hobbit, or There and Back Again", expect: true},
		{a: "Dune", b: "Neuromancer", expect: false},
	}
	for _, test := range testCases {
		require.Equal(t, test.expect, SameTitle(test.a, test.b), "%s / %s", test.a, test.b)
	}
}
