package orm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernelci/kcidb/internal/errs"
	"github.com/kernelci/kcidb/internal/schema"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Chain
	}{
		{in: "checkout", want: Chain{{Type: schema.Checkout}}},
		{in: "build%", want: Chain{{Type: schema.Build}}},
		{in: "checkout[C]>", want: Chain{{Type: schema.Checkout, IDs: []string{"C"}, Children: true}}},
		{in: "test[T1]<", want: Chain{{Type: schema.Test, IDs: []string{"T1"}, Parents: true}}},
		{in: "build[B1]><", want: Chain{{Type: schema.Build, IDs: []string{"B1"}, Parents: true, Children: true}}},
		{
			in:   ` checkout [ a , "b,c" ] > # build > `,
			want: Chain{{Type: schema.Checkout, IDs: []string{"a", "b,c"}, Children: true}, {Type: schema.Build, Children: true}},
		},
		{in: `test["say \"hi\"","back\\slash"]`, want: Chain{{Type: schema.Test, IDs: []string{`say "hi"`, `back\slash`}}}},
		{in: "tests[redhat:1]", want: Chain{{Type: schema.Test, IDs: []string{"redhat:1"}}}},
		{in: "checkout[café]", want: Chain{{Type: schema.Checkout, IDs: []string{"café"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		in      string
		pos     int
		near    string
		message string
	}{
		{in: "", pos: 0, message: "expected object type"},
		{in: "checkout[", pos: 9, message: "expected id"},
		{in: "checkout[]", pos: 9, near: "]", message: "expected id"},
		{in: "checkout[a b]", pos: 11, near: "b]", message: "expected ',' or ']'"},
		{in: "checkout[a", pos: 10, message: "unterminated id list"},
		{in: `checkout["a]`, pos: 9, near: `"a]`, message: "unterminated quoted id"},
		{in: `checkout["\n"]`, pos: 10, near: `\n"]`, message: "invalid escape"},
		{in: "checkout#build", pos: 8, near: "#build", message: "continuation without traversal marker"},
		{in: "checkout>>", pos: 9, near: ">", message: "duplicate child marker"},
		{in: "checkout[C] x", pos: 12, near: "x", message: "unexpected character"},
		{in: "checkout>#", pos: 10, message: "expected object type"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := Parse(tt.in)
			require.Error(t, err)

			var se *SyntaxError
			require.True(t, errors.As(err, &se), "got %T: %v", err, err)
			assert.Equal(t, tt.pos, se.Pos)
			assert.Equal(t, tt.near, se.Near)
			assert.Equal(t, tt.message, se.Msg)
			assert.Equal(t, errs.PatternSyntaxError, errs.CodeOf(err))
		})
	}
}

func TestParseUnknownType(t *testing.T) {
	_, err := Parse("checkout>#revision")
	require.Error(t, err)

	var ute *UnknownTypeError
	require.True(t, errors.As(err, &ute))
	assert.Equal(t, "revision", ute.Name)
	assert.Equal(t, 10, ute.Pos)
	assert.True(t, errs.Is(err, errs.UnknownTypeError))
}

func TestChainStringRoundTrip(t *testing.T) {
	for _, in := range []string{
		"checkout[C]>",
		"test[T1]<",
		`build["a b","c\"d"]<>#test`,
		"checkout>#build>#test",
	} {
		c, err := Parse(in)
		require.NoError(t, err)
		again, err := Parse(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, again, in)
	}
	c, _ := Parse("checkout [ C ] >")
	assert.Equal(t, "checkout[C]>", c.String())
}

func TestParseQueryStopsAtFirstError(t *testing.T) {
	_, err := ParseQuery("checkout[C]", "nope")
	assert.True(t, errs.Is(err, errs.UnknownTypeError))

	q, err := ParseQuery("checkout[C]", "build%")
	require.NoError(t, err)
	assert.Len(t, q.Chains, 2)
}

func TestChainsFromIDs(t *testing.T) {
	ids := map[*schema.Type][]string{
		schema.Checkout: {"C"},
		schema.Test:     {"T1"},
	}

	chains := ChainsFromIDs(ids, false, false)
	require.Len(t, chains, 2)
	assert.Equal(t, "checkout[C]", chains[0].String())
	assert.Equal(t, "test[T1]", chains[1].String())

	chains = ChainsFromIDs(ids, true, true)
	require.Len(t, chains, 2)
	assert.Equal(t, "checkout[C]<>#build>#test", chains[0].String())
	assert.Equal(t, "test[T1]<", chains[1].String())

	assert.Empty(t, ChainsFromIDs(nil, true, true))
}
