package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/bboxviewer/internal/bbox"
)

func trace(t *testing.T, src string, res Resources) *OperatorList {
	t.Helper()
	ops, err := ParseContent([]byte(src))
	require.NoError(t, err)
	return TraceContent(ops, res)
}

func TestTraceTextAndRectangles(t *testing.T) {
	list := trace(t, `
/P <</MCID 0>> BDC
BT /F1 10 Tf 100 700 Td (Hello) Tj ET
EMC
/Figure <</MCID 1>> BDC
10 20 30 40 re f
EMC
0 0 500 500 re f`, Resources{})

	assert.Equal(t, PositionDataOp, list.FnArray[len(list.FnArray)-1])
	assert.Equal(t, 13, list.Len())

	pd := list.PositionData()
	require.Len(t, pd, 2)
	assert.InDelta(t, 100, pd[0].X, 1e-9)
	assert.InDelta(t, 700, pd[0].Y, 1e-9)
	assert.InDelta(t, 25, pd[0].Width, 1e-9)
	assert.InDelta(t, 10, pd[0].Height, 1e-9)
	assert.Equal(t, bbox.Location{X: 10, Y: 20, Width: 30, Height: 40}, pd[1])
}

func TestTraceUsesFontWidthsAndSpacing(t *testing.T) {
	res := Resources{Fonts: map[string]*FontMetrics{
		"F1": {Widths: map[int]float64{'A': 600, ' ': 250}},
	}}
	list := trace(t, `/Span <</MCID 4>> BDC BT /F1 20 Tf 2 Tw 0 0 Td (A A) Tj ET EMC`, res)
	pd := list.PositionData()
	// 600+250+600 = 1450/1000*20 = 29 plus word spacing 2
	assert.InDelta(t, 31, pd[4].Width, 1e-9)
}

func TestTraceTJAdjustmentsAndAdvance(t *testing.T) {
	list := trace(t, `/P <</MCID 2>> BDC BT /F1 10 Tf [(AB) -1000 (C)] TJ (D) Tj ET EMC`, Resources{})
	pd := list.PositionData()
	// AB=10, kern +10, C=5, D=5
	assert.InDelta(t, 0, pd[2].X, 1e-9)
	assert.InDelta(t, 30, pd[2].Width, 1e-9)
}

func TestTraceNestedMarkedContentAndCTM(t *testing.T) {
	list := trace(t, `
/Sect <</MCID 5>> BDC
q 2 0 0 2 10 10 cm
/Span <</MCID 6>> BDC 0 0 5 5 re f EMC
Q
/Artifact BMC 100 100 1 1 re f EMC
20 20 m 30 40 l S
EMC`, Resources{})
	pd := list.PositionData()
	assert.Equal(t, bbox.Location{X: 10, Y: 10, Width: 10, Height: 10}, pd[6])
	// the artifact is still inside MCID 5
	assert.Equal(t, bbox.Location{X: 10, Y: 10, Width: 91, Height: 91}, pd[5])
}

func TestTraceNamedPropertiesAndXObjects(t *testing.T) {
	res := Resources{
		Properties: map[string]int{"MC0": 9},
		XObjects: map[string]XObject{
			"Im1": {},
			"Fm1": {Form: true, BBox: &bbox.Location{X: 0, Y: 0, Width: 10, Height: 20}},
		},
	}
	list := trace(t, `
/Figure /MC0 BDC q 50 0 0 25 100 200 cm /Im1 Do Q EMC
/Figure <</MCID 10>> BDC q 1 0 0 1 5 5 cm /Fm1 Do Q EMC`, res)
	pd := list.PositionData()
	assert.Equal(t, bbox.Location{X: 100, Y: 200, Width: 50, Height: 25}, pd[9])
	assert.Equal(t, bbox.Location{X: 5, Y: 5, Width: 10, Height: 20}, pd[10])
}

func TestTraceDiscardsClipOnlyPaths(t *testing.T) {
	list := trace(t, `/P <</MCID 1>> BDC 0 0 10 10 re W n EMC`, Resources{})
	assert.Empty(t, list.PositionData())
}

func TestOperatorListPositionDataMissing(t *testing.T) {
	var nilList *OperatorList
	assert.Nil(t, nilList.PositionData())
	l := &OperatorList{FnArray: []string{"q"}, ArgsArray: [][]any{nil}}
	assert.Nil(t, l.PositionData())
	assert.Equal(t, 1, l.Len())
}

func TestRenderOptionsDPI(t *testing.T) {
	size := Size{Width: 612, Height: 792}
	assert.InDelta(t, 72, RenderOptions{}.DPI(size), 1e-9)
	assert.InDelta(t, 144, RenderOptions{Scale: 2}.DPI(size), 1e-9)
	assert.InDelta(t, 72*1224.0/612, RenderOptions{Width: 1224}.DPI(size), 1e-9)
	assert.InDelta(t, 36, RenderOptions{Height: 396}.DPI(size), 1e-9)
}
