package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContentOperands(t *testing.T) {
	src := []byte(`% comment
/P <</MCID 3 /Lang (en)>> BDC
BT /F1 12 Tf 1 0 0 1 72.5 -.5 Tm [(A\)b) -250 <4142>] TJ ET
EMC
/Na#6De MP true false null d0`)

	ops, err := ParseContent(src)
	require.NoError(t, err)
	require.Len(t, ops, 9)

	assert.Equal(t, "BDC", ops[0].Operator)
	assert.Equal(t, Name("P"), ops[0].Operands[0])
	props, ok := ops[0].Operands[1].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 3.0, props["MCID"])
	assert.Equal(t, []byte("en"), props["Lang"])

	assert.Equal(t, "BT", ops[1].Operator)
	assert.Equal(t, "Tf", ops[2].Operator)
	assert.Equal(t, []any{Name("F1"), 12.0}, ops[2].Operands)

	assert.Equal(t, "Tm", ops[3].Operator)
	assert.Equal(t, []any{1.0, 0.0, 0.0, 1.0, 72.5, -0.5}, ops[3].Operands)

	assert.Equal(t, "TJ", ops[4].Operator)
	arr, ok := ops[4].Operands[0].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{[]byte("A)b"), -250.0, []byte("AB")}, arr)

	assert.Equal(t, "ET", ops[5].Operator)
	assert.Equal(t, "EMC", ops[6].Operator)
	assert.Equal(t, "MP", ops[7].Operator)
	assert.Equal(t, []any{Name("Name")}, ops[7].Operands)
	assert.Equal(t, "d0", ops[8].Operator)
	assert.Equal(t, []any{true, false, nil}, ops[8].Operands)
}

func TestParseContentSkipsInlineImages(t *testing.T) {
	src := []byte("q 10 0 0 10 5 5 cm BI /W 2 /H 2 /BPC 8 /CS /G ID \x00EI\xff\x01 EI Q")
	ops, err := ParseContent(src)
	require.NoError(t, err)

	var names []string
	for _, op := range ops {
		names = append(names, op.Operator)
	}
	assert.Equal(t, []string{"q", "cm", "BI", "Q"}, names)
}

func TestParseContentEscapes(t *testing.T) {
	ops, err := ParseContent([]byte(`(a\101\nb\\) Tj <48 6> Tj`))
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, []byte("aA\nb\\"), ops[0].Operands[0])
	assert.Equal(t, []byte{0x48, 0x60}, ops[1].Operands[0])
}

func TestParseContentUnterminated(t *testing.T) {
	ops, err := ParseContent([]byte("q (abc"))
	assert.Error(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "q", ops[0].Operator)
}
