package engine

import (
	"github.com/local/bboxviewer/internal/bbox"
)

// Matrix is an affine transform [a b c d e f].
type Matrix [6]float64

// Identity returns the identity matrix.
func Identity() Matrix { return Matrix{1, 0, 0, 1, 0, 0} }

// Mult returns a×b.
func (a Matrix) Mult(b Matrix) Matrix {
	return Matrix{
		a[0]*b[0] + a[1]*b[2],
		a[0]*b[1] + a[1]*b[3],
		a[2]*b[0] + a[3]*b[2],
		a[2]*b[1] + a[3]*b[3],
		a[4]*b[0] + a[5]*b[2] + b[4],
		a[4]*b[1] + a[5]*b[3] + b[5],
	}
}

// Apply maps a point through the matrix.
func (a Matrix) Apply(x, y float64) [2]float64 {
	return [2]float64{a[0]*x + a[2]*y + a[4], a[1]*x + a[3]*y + a[5]}
}

// FontMetrics gives glyph widths in 1/1000 text space units.
type FontMetrics struct {
	Widths  map[int]float64
	Missing float64
	TwoByte bool
}

const defaultGlyphWidth = 500

func (f *FontMetrics) width(code int) float64 {
	if f == nil {
		return defaultGlyphWidth
	}
	if w, ok := f.Widths[code]; ok {
		return w
	}
	if f.Missing > 0 {
		return f.Missing
	}
	return defaultGlyphWidth
}

// XObject describes a named external object for Do.
type XObject struct {
	Form   bool
	BBox   *bbox.Location
	Matrix Matrix
}

// Resources is the subset of page resources the tracer needs.
type Resources struct {
	Fonts      map[string]*FontMetrics
	XObjects   map[string]XObject
	Properties map[string]int // property list name -> MCID
}

type graphicsState struct {
	ctm Matrix

	font      *FontMetrics
	fontSize  float64
	charSpace float64
	wordSpace float64
	hScale    float64
	leading   float64
	rise      float64
}

type marked struct {
	mcid int
	ok   bool
}

type tracer struct {
	res Resources

	gs    graphicsState
	stack []graphicsState

	tm, tlm Matrix

	path    [][2]float64
	open    []marked
	extents bbox.PositionData
}

// TraceContent builds the operator list for ops and appends the position data
// of every marked-content id as the final entry.
func TraceContent(ops []Operation, res Resources) *OperatorList {
	t := &tracer{
		res:     res,
		gs:      graphicsState{ctm: Identity(), hScale: 100},
		tm:      Identity(),
		tlm:     Identity(),
		extents: bbox.PositionData{},
	}
	list := &OperatorList{
		FnArray:   make([]string, 0, len(ops)+1),
		ArgsArray: make([][]any, 0, len(ops)+1),
	}
	for _, op := range ops {
		t.apply(op)
		list.FnArray = append(list.FnArray, op.Operator)
		list.ArgsArray = append(list.ArgsArray, op.Operands)
	}
	list.FnArray = append(list.FnArray, PositionDataOp)
	list.ArgsArray = append(list.ArgsArray, []any{t.extents})
	return list
}

func (t *tracer) apply(op Operation) {
	args := op.Operands
	switch op.Operator {
	case "q":
		t.stack = append(t.stack, t.gs)
	case "Q":
		if n := len(t.stack); n > 0 {
			t.gs = t.stack[n-1]
			t.stack = t.stack[:n-1]
		}
	case "cm":
		if len(args) == 6 {
			t.gs.ctm = toMatrix(args).Mult(t.gs.ctm)
		}

	case "BMC":
		t.open = append(t.open, marked{})
	case "BDC":
		t.open = append(t.open, t.markedFor(args))
	case "EMC":
		if n := len(t.open); n > 0 {
			t.open = t.open[:n-1]
		}

	case "BT":
		t.tm, t.tlm = Identity(), Identity()
	case "Tc":
		t.gs.charSpace = num(args, 0)
	case "Tw":
		t.gs.wordSpace = num(args, 0)
	case "Tz":
		t.gs.hScale = num(args, 0)
	case "TL":
		t.gs.leading = num(args, 0)
	case "Ts":
		t.gs.rise = num(args, 0)
	case "Tf":
		if len(args) == 2 {
			if n, ok := args[0].(Name); ok {
				t.gs.font = t.res.Fonts[string(n)]
			}
			t.gs.fontSize = num(args, 1)
		}
	case "Td":
		t.moveLine(num(args, 0), num(args, 1))
	case "TD":
		t.gs.leading = -num(args, 1)
		t.moveLine(num(args, 0), num(args, 1))
	case "Tm":
		if len(args) == 6 {
			t.tm = toMatrix(args)
			t.tlm = t.tm
		}
	case "T*":
		t.moveLine(0, -t.gs.leading)
	case "Tj":
		if len(args) == 1 {
			t.showText(args[0])
		}
	case "TJ":
		if len(args) == 1 {
			t.showArray(args[0])
		}
	case "'":
		t.moveLine(0, -t.gs.leading)
		if len(args) == 1 {
			t.showText(args[0])
		}
	case "\"":
		if len(args) == 3 {
			t.gs.wordSpace = num(args, 0)
			t.gs.charSpace = num(args, 1)
			t.moveLine(0, -t.gs.leading)
			t.showText(args[2])
		}

	case "m", "l":
		if len(args) == 2 {
			t.path = append(t.path, t.gs.ctm.Apply(num(args, 0), num(args, 1)))
		}
	case "c":
		for i := 0; i+1 < len(args) && i < 6; i += 2 {
			t.path = append(t.path, t.gs.ctm.Apply(num(args, i), num(args, i+1)))
		}
	case "v", "y":
		for i := 0; i+1 < len(args) && i < 4; i += 2 {
			t.path = append(t.path, t.gs.ctm.Apply(num(args, i), num(args, i+1)))
		}
	case "re":
		if len(args) == 4 {
			x, y, w, h := num(args, 0), num(args, 1), num(args, 2), num(args, 3)
			m := t.gs.ctm
			t.path = append(t.path, m.Apply(x, y), m.Apply(x+w, y), m.Apply(x, y+h), m.Apply(x+w, y+h))
		}
	case "S", "s", "f", "F", "f*", "B", "B*", "b", "b*":
		if len(t.path) > 0 {
			t.record(bbox.FromPoints(t.path...))
		}
		t.path = t.path[:0]
	case "n":
		t.path = t.path[:0]

	case "Do":
		if len(args) == 1 {
			if n, ok := args[0].(Name); ok {
				t.drawXObject(t.res.XObjects[string(n)])
			}
		}
	case "BI":
		t.record(t.unitSquare(t.gs.ctm))
	}
}

func (t *tracer) markedFor(args []any) marked {
	if len(args) < 2 {
		return marked{}
	}
	switch p := args[1].(type) {
	case map[string]any:
		if v, ok := p["MCID"].(float64); ok {
			return marked{mcid: int(v), ok: true}
		}
	case Name:
		if id, ok := t.res.Properties[string(p)]; ok {
			return marked{mcid: id, ok: true}
		}
	}
	return marked{}
}

func (t *tracer) record(loc bbox.Location) {
	for _, m := range t.open {
		if !m.ok {
			continue
		}
		if prev, ok := t.extents[m.mcid]; ok {
			t.extents[m.mcid] = prev.Union(loc)
			continue
		}
		t.extents[m.mcid] = loc
	}
}

func (t *tracer) moveLine(tx, ty float64) {
	t.tlm = Matrix{1, 0, 0, 1, tx, ty}.Mult(t.tlm)
	t.tm = t.tlm
}

func (t *tracer) advance(tx float64) {
	t.tm = Matrix{1, 0, 0, 1, tx, 0}.Mult(t.tm)
}

// glyphRun returns the horizontal advance of s in text space.
func (t *tracer) glyphRun(s []byte) float64 {
	th := t.gs.hScale / 100
	step := 1
	if t.gs.font != nil && t.gs.font.TwoByte {
		step = 2
	}
	total := 0.0
	for i := 0; i+step <= len(s); i += step {
		code := int(s[i])
		if step == 2 {
			code = code<<8 | int(s[i+1])
		}
		w := t.gs.font.width(code)/1000*t.gs.fontSize + t.gs.charSpace
		if step == 1 && code == ' ' {
			w += t.gs.wordSpace
		}
		total += w * th
	}
	return total
}

func (t *tracer) showText(arg any) {
	s, ok := arg.([]byte)
	if !ok {
		return
	}
	w := t.glyphRun(s)
	t.recordText(0, w)
	t.advance(w)
}

func (t *tracer) showArray(arg any) {
	arr, ok := arg.([]any)
	if !ok {
		return
	}
	th := t.gs.hScale / 100
	start, x := 0.0, 0.0
	for _, el := range arr {
		switch v := el.(type) {
		case []byte:
			x += t.glyphRun(v)
		case float64:
			x -= v / 1000 * t.gs.fontSize * th
		}
	}
	if x < start {
		start, x = x, start
	}
	t.recordText(start, x)
	t.advance(x)
}

// recordText records the text-space span [x0, x1] on the current baseline.
func (t *tracer) recordText(x0, x1 float64) {
	if t.gs.fontSize == 0 || x0 == x1 {
		return
	}
	m := t.tm.Mult(t.gs.ctm)
	y0 := t.gs.rise
	y1 := t.gs.rise + t.gs.fontSize
	t.record(bbox.FromPoints(m.Apply(x0, y0), m.Apply(x1, y0), m.Apply(x0, y1), m.Apply(x1, y1)))
}

func (t *tracer) unitSquare(m Matrix) bbox.Location {
	return bbox.FromPoints(m.Apply(0, 0), m.Apply(1, 0), m.Apply(0, 1), m.Apply(1, 1))
}

func (t *tracer) drawXObject(x XObject) {
	if !x.Form || x.BBox == nil {
		t.record(t.unitSquare(t.gs.ctm))
		return
	}
	m := x.Matrix
	if m == (Matrix{}) {
		m = Identity()
	}
	m = m.Mult(t.gs.ctm)
	b := x.BBox
	t.record(bbox.FromPoints(
		m.Apply(b.X, b.Y), m.Apply(b.Right(), b.Y),
		m.Apply(b.X, b.Top()), m.Apply(b.Right(), b.Top()),
	))
}

func num(args []any, i int) float64 {
	if i >= len(args) {
		return 0
	}
	if v, ok := args[i].(float64); ok {
		return v
	}
	return 0
}

func toMatrix(args []any) Matrix {
	return Matrix{num(args, 0), num(args, 1), num(args, 2), num(args, 3), num(args, 4), num(args, 5)}
}
