package xmlstream

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"slices"
	"strings"
)

const xmlNamespace = "http://www.w3.org/XML/1998/namespace"

// frame is an open element. Frames are reused when the stack shrinks and
// grows again, so their state sets are allocated only once per depth.
type frame struct {
	name  string
	model *contentModel
	cur   stateSet
	next  stateSet
}

// validator checks elements, attributes and text against a grammar while the
// document streams by. It holds one frame per open element, nothing else.
type validator struct {
	g     *Grammar
	stack []frame
}

func (v *validator) start(se xml.StartElement) error {
	name := se.Name.Local
	if n := len(v.stack); n > 0 {
		if err := v.child(&v.stack[n-1], name); err != nil {
			return err
		}
	}
	m, ok := v.g.elements[name]
	if !ok {
		return fmt.Errorf("element %s is not declared", name)
	}
	if err := v.attributes(name, se.Attr); err != nil {
		return err
	}
	if len(v.stack) < cap(v.stack) {
		v.stack = v.stack[:len(v.stack)+1]
	} else {
		v.stack = append(v.stack, frame{})
	}
	f := &v.stack[len(v.stack)-1]
	f.name, f.model = name, m
	if m.kind == modelChildren {
		f.cur = m.nfa.init(f.cur)
		if cap(f.next) < len(f.cur) {
			f.next = make(stateSet, len(f.cur))
		}
		f.next = f.next[:len(f.cur)]
	}
	return nil
}

// child checks, whether an element may appear as the next child of f.
func (v *validator) child(f *frame, name string) error {
	switch f.model.kind {
	case modelEmpty:
		return fmt.Errorf("element %s is declared EMPTY, found child %s", f.name, name)
	case modelMixed:
		if !f.model.names[name] {
			return fmt.Errorf("element %s not allowed in %s %s", name, f.name, f.model)
		}
	case modelChildren:
		if !f.model.nfa.step(f.cur, f.next, name) {
			return fmt.Errorf("element %s not allowed here in %s %s", name, f.name, f.model)
		}
		f.cur, f.next = f.next, f.cur
	}
	return nil
}

func (v *validator) text(b []byte) error {
	if len(v.stack) == 0 {
		return nil
	}
	f := &v.stack[len(v.stack)-1]
	switch f.model.kind {
	case modelEmpty:
		if len(b) > 0 {
			return fmt.Errorf("element %s is declared EMPTY, found text", f.name)
		}
	case modelChildren:
		if len(bytes.Trim(b, " \t\r\n")) > 0 {
			return fmt.Errorf("text not allowed in element %s %s", f.name, f.model)
		}
	}
	return nil
}

func (v *validator) end() error {
	n := len(v.stack)
	if n == 0 {
		return nil
	}
	f := &v.stack[n-1]
	v.stack = v.stack[:n-1]
	if f.model.kind == modelChildren && !f.model.nfa.accepts(f.cur) {
		return fmt.Errorf("element %s is incomplete, expected %s", f.name, f.model)
	}
	return nil
}

func (v *validator) attributes(elem string, attrs []xml.Attr) error {
	decls := v.g.attlists[elem]
	for _, a := range attrs {
		name := attrName(a.Name)
		if name == "" {
			continue
		}
		d, ok := decls[name]
		if !ok {
			return fmt.Errorf("attribute %s of element %s is not declared", name, elem)
		}
		switch {
		case d.enum != nil && !slices.Contains(d.enum, a.Value):
			return fmt.Errorf("value %q of attribute %s of element %s is not one of (%s)",
				a.Value, name, elem, strings.Join(d.enum, "|"))
		case d.def == attrFixed && a.Value != d.value:
			return fmt.Errorf("attribute %s of element %s must be %q, got %q",
				name, elem, d.value, a.Value)
		}
	}
	for _, d := range decls {
		if d.def != attrRequired {
			continue
		}
		if !slices.ContainsFunc(attrs, func(a xml.Attr) bool { return attrName(a.Name) == d.name }) {
			return fmt.Errorf("required attribute %s of element %s is missing", d.name, elem)
		}
	}
	return nil
}

// attrName returns the attribute name as written in the DTD; namespace
// declarations yield the empty string.
func attrName(n xml.Name) string {
	switch {
	case n.Space == "" && n.Local == "xmlns", n.Space == "xmlns":
		return ""
	case n.Space == "":
		return n.Local
	case n.Space == xmlNamespace:
		return "xml:" + n.Local
	default:
		return n.Space + ":" + n.Local
	}
}
