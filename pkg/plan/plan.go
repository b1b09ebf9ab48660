// Package plan decodes a collective-plan XML document into a tree of
// typed nodes. It only enforces that the attributes required by the
// schema are present and well-formed integers/strings; the semantic
// bounds checking (ordering, ranges, shapes) belongs to the engine
// that consumes the tree.
package plan

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

// Step mirrors one <step> element under a <tb>.
type Step struct {
	S      int
	Type   string
	SrcBuf string
	SrcOff int
	DstBuf string
	DstOff int
	Cnt    int
	DepID  int
	Deps   int
	HasDep int
}

// TB mirrors one <tb> (threadblock) element under a <gpu>.
type TB struct {
	ID    int
	Send  int
	Recv  int
	Chan  int
	Steps []Step
}

// GPU mirrors one <gpu> (rank) element under the root.
type GPU struct {
	ID      int
	IChunks int
	OChunks int
	SChunks int
	TBs     []TB
}

// Root mirrors the plan's root element.
type Root struct {
	Coll             string
	NumGPUs          int
	NumChannels      int
	NumChunksPerLoop int
	OutOfPlace       int
	GPUs             []GPU
}

// Load decodes a plan document from r.
func Load(r io.Reader) (*Root, error) {
	dec := xml.NewDecoder(r)
	var root Root
	if err := dec.Decode(&root); err != nil {
		return nil, errors.Wrap(err, "plan load: malformed xml")
	}
	return &root, nil
}

func attrMap(start xml.StartElement) map[string]string {
	m := make(map[string]string, len(start.Attr))
	for _, a := range start.Attr {
		m[a.Name.Local] = a.Value
	}
	return m
}

func reqStr(m map[string]string, name, ctx string) (string, error) {
	v, ok := m[name]
	if !ok {
		return "", fmt.Errorf("plan load: missing attribute %q on %s", name, ctx)
	}
	return v, nil
}

func reqInt(m map[string]string, name, ctx string) (int, error) {
	v, err := reqStr(m, name, ctx)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("plan load: attribute %q on %s is not an integer: %q", name, ctx, v)
	}
	return n, nil
}

// UnmarshalXML implements xml.Unmarshaler for Step, enforcing strict
// presence of every required attribute.
func (s *Step) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	m := attrMap(start)
	var err error
	if s.S, err = reqInt(m, "s", "step"); err != nil {
		return err
	}
	ctx := fmt.Sprintf("step s=%d", s.S)
	if s.Type, err = reqStr(m, "type", ctx); err != nil {
		return err
	}
	if s.SrcBuf, err = reqStr(m, "srcbuf", ctx); err != nil {
		return err
	}
	if s.SrcOff, err = reqInt(m, "srcoff", ctx); err != nil {
		return err
	}
	if s.DstBuf, err = reqStr(m, "dstbuf", ctx); err != nil {
		return err
	}
	if s.DstOff, err = reqInt(m, "dstoff", ctx); err != nil {
		return err
	}
	if s.Cnt, err = reqInt(m, "cnt", ctx); err != nil {
		return err
	}
	if s.DepID, err = reqInt(m, "depid", ctx); err != nil {
		return err
	}
	if s.Deps, err = reqInt(m, "deps", ctx); err != nil {
		return err
	}
	if s.HasDep, err = reqInt(m, "hasdep", ctx); err != nil {
		return err
	}
	return d.Skip()
}

// UnmarshalXML implements xml.Unmarshaler for TB.
func (t *TB) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	m := attrMap(start)
	var err error
	if t.ID, err = reqInt(m, "id", "tb"); err != nil {
		return err
	}
	ctx := fmt.Sprintf("tb id=%d", t.ID)
	if t.Send, err = reqInt(m, "send", ctx); err != nil {
		return err
	}
	if t.Recv, err = reqInt(m, "recv", ctx); err != nil {
		return err
	}
	if t.Chan, err = reqInt(m, "chan", ctx); err != nil {
		return err
	}
	var alias struct {
		Steps []Step `xml:"step"`
	}
	if err := d.DecodeElement(&alias, &start); err != nil {
		return err
	}
	t.Steps = alias.Steps
	return nil
}

// UnmarshalXML implements xml.Unmarshaler for GPU.
func (g *GPU) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	m := attrMap(start)
	var err error
	if g.ID, err = reqInt(m, "id", "gpu"); err != nil {
		return err
	}
	ctx := fmt.Sprintf("gpu id=%d", g.ID)
	if g.IChunks, err = reqInt(m, "i_chunks", ctx); err != nil {
		return err
	}
	if g.OChunks, err = reqInt(m, "o_chunks", ctx); err != nil {
		return err
	}
	if g.SChunks, err = reqInt(m, "s_chunks", ctx); err != nil {
		return err
	}
	var alias struct {
		TBs []TB `xml:"tb"`
	}
	if err := d.DecodeElement(&alias, &start); err != nil {
		return err
	}
	g.TBs = alias.TBs
	return nil
}

// UnmarshalXML implements xml.Unmarshaler for Root.
func (r *Root) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	m := attrMap(start)
	var err error
	if r.Coll, err = reqStr(m, "coll", "root"); err != nil {
		return err
	}
	if r.NumGPUs, err = reqInt(m, "ngpus", "root"); err != nil {
		return err
	}
	if r.NumChannels, err = reqInt(m, "nchannels", "root"); err != nil {
		return err
	}
	if r.NumChunksPerLoop, err = reqInt(m, "nchunksperloop", "root"); err != nil {
		return err
	}
	if r.OutOfPlace, err = reqInt(m, "outofplace", "root"); err != nil {
		return err
	}
	var alias struct {
		GPUs []GPU `xml:"gpu"`
	}
	if err := d.DecodeElement(&alias, &start); err != nil {
		return err
	}
	r.GPUs = alias.GPUs
	return nil
}
