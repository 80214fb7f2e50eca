// Package eaf reads annotation records out of ELAN (.eaf) documents and
// writes replaced values back into them.
//
// The document tree is kept as parsed so that everything the records do not
// cover (headers, time slots, linguistic types, controlled vocabularies) is
// written back as it was read.
//
// Security Notes:
//   - The xmlquery library is used for parsing, which uses Go's encoding/xml
//     internally and does not fetch external entities.
package eaf

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/FocuswithJustin/eafsr/core/annotation"
	"github.com/FocuswithJustin/eafsr/core/errors"
)

// Element and attribute names of the ELAN exchange format.
const (
	ElemTier        = "TIER"
	ElemRef         = "REF_ANNOTATION"
	ElemAlignable   = "ALIGNABLE_ANNOTATION"
	ElemValue       = "ANNOTATION_VALUE"
	AttrTierID      = "TIER_ID"
	AttrLingType    = "LINGUISTIC_TYPE_REF"
	AttrID          = "ANNOTATION_ID"
	AttrRef         = "ANNOTATION_REF"
	defaultDecl     = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"
	formatName      = "EAF"
	outputEncoding  = "UTF-8"
	tempFilePattern = ".eafsr-*"
)

var (
	tierExpr      = xpath.MustCompile("/*/" + ElemTier)
	refExpr       = xpath.MustCompile(".//" + ElemRef)
	annotatedExpr = xpath.MustCompile(fmt.Sprintf(".//*[name()='%s' or name()='%s']", ElemRef, ElemAlignable))
)

// Options controls which annotations become records.
type Options struct {
	// IncludeAlignable also reads time-aligned ALIGNABLE_ANNOTATION records.
	// By default only REF_ANNOTATION records are read.
	IncludeAlignable bool
}

// Document is a parsed ELAN document.
type Document struct {
	root     *xmlquery.Node
	elements map[string]*xmlquery.Node // annotation id -> annotation element
	records  []annotation.Record
}

// Parse parses EAF data. Malformed XML or a missing root element yields
// *errors.ParseError.
func Parse(data []byte, opts Options) (*Document, error) {
	root, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, &errors.ParseError{Format: formatName, Message: err.Error(), Err: err}
	}
	if documentElement(root) == nil {
		return nil, errors.NewParse(formatName, "", "no root element")
	}

	doc := &Document{
		root:     root,
		elements: make(map[string]*xmlquery.Node),
	}
	doc.collect(opts)
	return doc, nil
}

// ReadFile reads and parses the document at path.
func ReadFile(path string, opts Options) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIO("read", path, err)
	}
	doc, err := Parse(data, opts)
	if err != nil {
		var pe *errors.ParseError
		if errors.As(err, &pe) {
			pe.Path = path
		}
		return nil, err
	}
	return doc, nil
}

func (d *Document) collect(opts Options) {
	expr := refExpr
	if opts.IncludeAlignable {
		expr = annotatedExpr
	}

	for _, tier := range xmlquery.QuerySelectorAll(d.root, tierExpr) {
		tierType := tier.SelectAttr(AttrLingType)
		tierID := tier.SelectAttr(AttrTierID)

		for ordinal, el := range xmlquery.QuerySelectorAll(tier, expr) {
			id := el.SelectAttr(AttrID)
			d.elements[id] = el
			d.records = append(d.records, annotation.Record{
				ID:        id,
				ParentRef: el.SelectAttr(AttrRef),
				Tier:      tierType,
				TierID:    tierID,
				Value:     valueOf(el),
				Ordinal:   ordinal,
			})
		}
	}
}

// valueOf returns the text of the ANNOTATION_VALUE child, or "" if absent.
func valueOf(el *xmlquery.Node) string {
	v := el.SelectElement(ElemValue)
	if v == nil {
		return ""
	}
	return v.InnerText()
}

func documentElement(root *xmlquery.Node) *xmlquery.Node {
	for child := root.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.ElementNode {
			return child
		}
	}
	return nil
}

// Records returns the annotation records in document order.
func (d *Document) Records() []annotation.Record {
	out := make([]annotation.Record, len(d.records))
	copy(out, d.records)
	return out
}

// Apply writes record values back into the tree. Records whose value is
// unchanged, or whose id is not in the document, are left alone. It returns
// the number of value nodes rewritten.
func (d *Document) Apply(records []annotation.Record) int {
	n := 0
	for _, r := range records {
		el, ok := d.elements[r.ID]
		if !ok {
			continue
		}
		if valueOf(el) == r.Value {
			continue
		}
		setValue(el, r.Value)
		n++
	}
	return n
}

func setValue(el *xmlquery.Node, value string) {
	v := el.SelectElement(ElemValue)
	if v == nil {
		v = &xmlquery.Node{Type: xmlquery.ElementNode, Data: ElemValue}
		xmlquery.AddChild(el, v)
	}
	for c := v.FirstChild; c != nil; {
		next := c.NextSibling
		xmlquery.RemoveFromTree(c)
		c = next
	}
	if value != "" {
		xmlquery.AddChild(v, &xmlquery.Node{Type: xmlquery.TextNode, Data: value})
	}
}

// Bytes serializes the document as UTF-8 with an XML declaration followed by
// a line break. An existing declaration is kept; its encoding is set to UTF-8
// to match the output, or added when it has none.
func (d *Document) Bytes() []byte {
	decl := declaration(d.root)
	if decl != nil {
		setEncoding(decl)
	}

	out := d.root.OutputXMLWithOptions(xmlquery.WithPreserveSpace())
	if decl == nil {
		return []byte(defaultDecl + out)
	}
	if end := strings.Index(out, "?>"); end >= 0 {
		end += len("?>")
		if !strings.HasPrefix(out[end:], "\n") && !strings.HasPrefix(out[end:], "\r\n") {
			out = out[:end] + "\n" + out[end:]
		}
	}
	return []byte(out)
}

func setEncoding(decl *xmlquery.Node) {
	for i := range decl.Attr {
		if decl.Attr[i].Name.Local == "encoding" {
			decl.Attr[i].Value = outputEncoding
			return
		}
	}
	xmlquery.AddAttr(decl, "encoding", outputEncoding)
}

func declaration(root *xmlquery.Node) *xmlquery.Node {
	for child := root.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.DeclarationNode {
			return child
		}
		if child.Type == xmlquery.ElementNode {
			break
		}
	}
	return nil
}

// WriteFile writes the document to path atomically via a temp file in the
// same directory. Failures yield *errors.SerializeError.
func (d *Document) WriteFile(path string) error {
	return WriteBytes(path, d.Bytes())
}

// WriteBytes writes already serialized document bytes to path the same way
// WriteFile does.
func WriteBytes(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, tempFilePattern)
	if err != nil {
		return errors.NewSerialize(path, err)
	}
	tmpPath := tmp.Name()

	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.NewSerialize(path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.NewSerialize(path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.NewSerialize(path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.NewSerialize(path, err)
	}
	return nil
}

// TierTypes returns the distinct linguistic types in document order.
func (d *Document) TierTypes() []string {
	var out []string
	seen := make(map[string]bool)
	for _, tier := range xmlquery.QuerySelectorAll(d.root, tierExpr) {
		t := tier.SelectAttr(AttrLingType)
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// IsEAF reports whether name has the .eaf extension.
func IsEAF(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".eaf")
}
