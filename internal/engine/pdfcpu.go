package engine

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	fitz "github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/rs/zerolog/log"

	"github.com/local/bboxviewer/internal/bbox"
)

// PDFOpener opens documents with pdfcpu for structure and go-fitz for
// rasterising. The zero value is ready to use.
type PDFOpener struct {
	Strict bool
}

// Open parses data. Both engines must accept the file.
func (o PDFOpener) Open(ctx context.Context, data []byte) (Document, error) {
	pc, err := readContext(data, o.Strict)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raster, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("open pdf for rendering: %w", err)
	}
	d := &pdfDocument{pc: pc, raster: raster}
	d.info = d.readInfo()
	log.Debug().Int("pages", d.info.NumPages).Bool("tagged", d.info.Tagged).Msg("opened pdf")
	return d, nil
}

// readContext parses and validates data into a pdfcpu context.
func readContext(data []byte, strict bool) (*model.Context, error) {
	conf := model.NewDefaultConfiguration()
	if !strict {
		conf.ValidationMode = model.ValidationRelaxed
	}
	pc, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	if err := api.ValidateContext(pc); err != nil {
		return nil, fmt.Errorf("validate pdf: %w", err)
	}
	return pc, nil
}

type pdfDocument struct {
	mu     sync.Mutex
	pc     *model.Context
	raster *fitz.Document
	info   Info
	closed bool
}

func (d *pdfDocument) NumPages() int { return d.pc.PageCount }

func (d *pdfDocument) Info() Info { return d.info }

func (d *pdfDocument) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.raster.Close()
}

func (d *pdfDocument) readInfo() Info {
	info := Info{NumPages: d.pc.PageCount}
	meta := d.raster.Metadata()
	info.Title = meta["title"]
	info.Author = meta["author"]
	info.Creator = meta["creator"]
	info.Producer = meta["producer"]
	extra := map[string]string{}
	for _, k := range []string{"subject", "keywords", "creationDate", "modDate", "format", "encryption"} {
		if v := meta[k]; v != "" {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		info.Extra = extra
	}
	if cat, err := d.pc.Catalog(); err == nil {
		if mi, err := d.pc.DereferenceDict(cat["MarkInfo"]); err == nil && mi != nil {
			if b, ok := mi["Marked"].(types.Boolean); ok {
				info.Tagged = bool(b)
			}
		}
	}
	return info
}

// Page loads page n (1-based).
func (d *pdfDocument) Page(ctx context.Context, n int) (Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	if n < 1 || n > d.pc.PageCount {
		return nil, fmt.Errorf("page %d of %d: %w", n, d.pc.PageCount, ErrPageOutOfRange)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dict, _, inh, err := d.pc.PageDict(n, false)
	if err != nil {
		return nil, fmt.Errorf("page %d dict: %w", n, err)
	}
	if dict == nil {
		return nil, fmt.Errorf("page %d: %w", n, ErrPageOutOfRange)
	}
	p := &pdfPage{doc: d, number: n, dict: dict}
	if inh != nil {
		p.resources = inh.Resources
		p.size = pageSize(inh.MediaBox, inh.CropBox, inh.Rotate)
	}
	if p.resources == nil {
		if res, err := d.pc.DereferenceDict(dict["Resources"]); err == nil {
			p.resources = res
		}
	}
	return p, nil
}

// pageSize reports the visible box (CropBox, else MediaBox) and the page's
// own rotation; Width and Height are the box after rotation.
func pageSize(media, crop *types.Rectangle, rotate int) Size {
	r := crop
	if r == nil {
		r = media
	}
	if r == nil {
		return Size{Width: 612, Height: 792, Box: bbox.Location{Width: 612, Height: 792}}
	}
	box := bbox.FromPoints([2]float64{r.LL.X, r.LL.Y}, [2]float64{r.UR.X, r.UR.Y})
	s := Size{Width: box.Width, Height: box.Height, Box: box, Rotate: bbox.Rotation(rotate)}
	if s.Rotate%180 != 0 {
		s.Width, s.Height = s.Height, s.Width
	}
	return s
}

type pdfPage struct {
	doc       *pdfDocument
	number    int
	dict      types.Dict
	resources types.Dict
	size      Size
}

func (p *pdfPage) Number() int { return p.number }
func (p *pdfPage) Size() Size  { return p.size }

// OperatorList decodes the page content and traces marked-content extents.
func (p *pdfPage) OperatorList(ctx context.Context) (*OperatorList, error) {
	p.doc.mu.Lock()
	content, err := p.content()
	res := p.traceResources()
	p.doc.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("page %d content: %w", p.number, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ops, err := ParseContent(content)
	if err != nil {
		// keep what parsed; a truncated tail still yields positions for earlier content
		log.Warn().Err(err).Int("page", p.number).Int("ops", len(ops)).Msg("content stream parse stopped early")
	}
	return TraceContent(ops, res), nil
}

func (p *pdfPage) content() ([]byte, error) {
	obj, found := p.dict.Find("Contents")
	if !found || obj == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := p.appendStreams(&buf, obj); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *pdfPage) appendStreams(buf *bytes.Buffer, obj types.Object) error {
	pc := p.doc.pc
	o, err := pc.Dereference(obj)
	if err != nil {
		return err
	}
	switch v := o.(type) {
	case types.StreamDict:
		if len(v.Content) == 0 && len(v.Raw) > 0 {
			if err := v.Decode(); err != nil {
				return fmt.Errorf("decode content stream: %w", err)
			}
		}
		buf.Write(v.Content)
		buf.WriteByte('\n')
	case types.Array:
		for _, el := range v {
			if err := p.appendStreams(buf, el); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *pdfPage) traceResources() Resources {
	res := Resources{
		Fonts:      map[string]*FontMetrics{},
		XObjects:   map[string]XObject{},
		Properties: map[string]int{},
	}
	if p.resources == nil {
		return res
	}
	pc := p.doc.pc
	if fonts, err := pc.DereferenceDict(p.resources["Font"]); err == nil {
		for name, ref := range fonts {
			fd, err := pc.DereferenceDict(ref)
			if err != nil || fd == nil {
				continue
			}
			res.Fonts[name] = p.fontMetrics(fd)
		}
	}
	if xobjs, err := pc.DereferenceDict(p.resources["XObject"]); err == nil {
		for name, ref := range xobjs {
			sd, _, err := pc.DereferenceStreamDict(ref)
			if err != nil || sd == nil {
				continue
			}
			x := XObject{}
			if st, ok := sd.Dict["Subtype"].(types.Name); ok && st == "Form" {
				x.Form = true
				if arr := p.numbers(sd.Dict["BBox"]); len(arr) == 4 {
					l := (bbox.Annotation{Rect: [4]float64{arr[0], arr[1], arr[2], arr[3]}}).Location()
					x.BBox = &l
				}
				if arr := p.numbers(sd.Dict["Matrix"]); len(arr) == 6 {
					x.Matrix = Matrix{arr[0], arr[1], arr[2], arr[3], arr[4], arr[5]}
				}
			}
			res.XObjects[name] = x
		}
	}
	if props, err := pc.DereferenceDict(p.resources["Properties"]); err == nil {
		for name, ref := range props {
			pd, err := pc.DereferenceDict(ref)
			if err != nil || pd == nil {
				continue
			}
			if id, ok := p.integer(pd["MCID"]); ok {
				res.Properties[name] = id
			}
		}
	}
	return res
}

func (p *pdfPage) fontMetrics(fd types.Dict) *FontMetrics {
	fm := &FontMetrics{Widths: map[int]float64{}}
	if st, ok := fd["Subtype"].(types.Name); ok && st == "Type0" {
		fm.TwoByte = true
		fm.Missing = 1000
		if arr, err := p.doc.pc.DereferenceArray(fd["DescendantFonts"]); err == nil && len(arr) > 0 {
			if cid, err := p.doc.pc.DereferenceDict(arr[0]); err == nil && cid != nil {
				if dw, ok := p.num(cid["DW"]); ok {
					fm.Missing = dw
				}
				p.cidWidths(fm, cid["W"])
			}
		}
		return fm
	}
	first, _ := p.integer(fd["FirstChar"])
	for i, w := range p.numbers(fd["Widths"]) {
		fm.Widths[first+i] = w
	}
	if desc, err := p.doc.pc.DereferenceDict(fd["FontDescriptor"]); err == nil && desc != nil {
		if mw, ok := p.num(desc["MissingWidth"]); ok {
			fm.Missing = mw
		}
	}
	return fm
}

// cidWidths reads a CIDFont W array: "c [w1 w2 ...]" or "cfirst clast w".
func (p *pdfPage) cidWidths(fm *FontMetrics, obj types.Object) {
	arr, err := p.doc.pc.DereferenceArray(obj)
	if err != nil {
		return
	}
	for i := 0; i < len(arr); {
		c, ok := p.integer(arr[i])
		if !ok || i+1 >= len(arr) {
			return
		}
		if ws := p.numbers(arr[i+1]); ws != nil {
			if _, isArr := p.deref(arr[i+1]).(types.Array); isArr {
				for j, w := range ws {
					fm.Widths[c+j] = w
				}
				i += 2
				continue
			}
		}
		if i+2 >= len(arr) {
			return
		}
		last, _ := p.integer(arr[i+1])
		w, _ := p.num(arr[i+2])
		for code := c; code <= last && code-c < 65536; code++ {
			fm.Widths[code] = w
		}
		i += 3
	}
}

// Annotations lists the page's annotation dictionaries.
func (p *pdfPage) Annotations(ctx context.Context) ([]bbox.Annotation, error) {
	p.doc.mu.Lock()
	defer p.doc.mu.Unlock()
	pc := p.doc.pc
	obj, found := p.dict.Find("Annots")
	if !found || obj == nil {
		return nil, nil
	}
	arr, err := pc.DereferenceArray(obj)
	if err != nil {
		return nil, fmt.Errorf("page %d annots: %w", p.number, err)
	}
	out := make([]bbox.Annotation, 0, len(arr))
	for i, el := range arr {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, err := pc.DereferenceDict(el)
		if err != nil || d == nil {
			continue
		}
		rect := p.numbers(d["Rect"])
		if len(rect) != 4 {
			continue
		}
		a := bbox.Annotation{Rect: [4]float64{rect[0], rect[1], rect[2], rect[3]}}
		switch ref := el.(type) {
		case types.IndirectRef:
			a.ID = fmt.Sprintf("%dR", ref.ObjectNumber)
		case *types.IndirectRef:
			a.ID = fmt.Sprintf("%dR", ref.ObjectNumber)
		default:
			a.ID = fmt.Sprintf("annot%d", i)
		}
		if nm, ok := d["NM"].(types.StringLiteral); ok {
			a.ID = string(nm)
		}
		if st, ok := d["Subtype"].(types.Name); ok {
			a.Subtype = string(st)
		}
		if sp, ok := p.integer(d["StructParent"]); ok {
			a.StructParent = &sp
		}
		out = append(out, a)
	}
	return out, nil
}

func (p *pdfPage) deref(o types.Object) types.Object {
	v, err := p.doc.pc.Dereference(o)
	if err != nil {
		return nil
	}
	return v
}

func (p *pdfPage) num(o types.Object) (float64, bool) {
	switch v := p.deref(o).(type) {
	case types.Integer:
		return float64(v), true
	case types.Float:
		return float64(v), true
	}
	return 0, false
}

func (p *pdfPage) integer(o types.Object) (int, bool) {
	f, ok := p.num(o)
	return int(f), ok
}

func (p *pdfPage) numbers(o types.Object) []float64 {
	arr, ok := p.deref(o).(types.Array)
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(arr))
	for _, el := range arr {
		f, _ := p.num(el)
		out = append(out, f)
	}
	return out
}
