package xmlstream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"
)

// maxEntityDepth limits nested entity expansion.
const maxEntityDepth = 16

var (
	paramRefPattern   = regexp.MustCompile(`%([A-Za-z_:][-A-Za-z0-9._:]*);`)
	generalRefPattern = regexp.MustCompile(`&(#[0-9]+|#x[0-9a-fA-F]+|[A-Za-z_:][-A-Za-z0-9._:]*);`)
	encodingPattern   = regexp.MustCompile(`^<\?xml[^>]*encoding=["']([A-Za-z0-9._-]+)["']`)
	predefined        = map[string]string{
		"lt":   "<",
		"gt":   ">",
		"amp":  "&",
		"apos": "'",
		"quot": `"`,
	}
)

type defaultKind int

const (
	attrImplied defaultKind = iota
	attrRequired
	attrFixed
	attrDefault
)

type attrDecl struct {
	name  string
	typ   string   // CDATA, ID, NMTOKEN, ..., or ENUM
	enum  []string // allowed values of ENUM and NOTATION attributes
	def   defaultKind
	value string // #FIXED or default value
}

// Grammar is a parsed document type definition: element content models,
// attribute lists and entities. A Grammar does not change after parsing and
// can be shared by concurrent ingestors.
type Grammar struct {
	elements map[string]*contentModel
	attlists map[string]map[string]*attrDecl
	entities map[string]string // general entities, as declared
	params   map[string]string // parameter entities, expanded
	resolved map[string]string // general entities, references expanded
}

func newGrammar() *Grammar {
	return &Grammar{
		elements: make(map[string]*contentModel),
		attlists: make(map[string]map[string]*attrDecl),
		entities: make(map[string]string),
		params:   make(map[string]string),
	}
}

// LoadDTD reads and parses a DTD file, like dblp.dtd.
func LoadDTD(filename string) (*Grammar, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	g, err := parseDTD(decodeDTD(b))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return g, nil
}

// ParseDTD parses a DTD from a reader.
func ParseDTD(r io.Reader) (*Grammar, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return parseDTD(decodeDTD(b))
}

// decodeDTD honors the encoding of an optional text declaration.
func decodeDTD(b []byte) string {
	m := encodingPattern.FindSubmatch(b)
	if m == nil {
		return string(b)
	}
	enc, name := charset.Lookup(string(m[1]))
	if enc == nil || name == "utf-8" {
		return string(b)
	}
	decoded, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(decoded)
}

func parseDTD(s string) (*Grammar, error) {
	g := newGrammar()
	if err := g.parse(s, 0); err != nil {
		return nil, &MalformedInputError{Err: fmt.Errorf("dtd: %w", err)}
	}
	g.resolveEntities()
	return g, nil
}

func (g *Grammar) parse(s string, depth int) error {
	if depth > maxEntityDepth {
		return errors.New("parameter entities nested too deeply")
	}
	for i := 0; i < len(s); {
		switch {
		case isSpace(s[i]):
			i++
		case strings.HasPrefix(s[i:], "<!--"):
			j := strings.Index(s[i+4:], "-->")
			if j == -1 {
				return errors.New("unterminated comment")
			}
			i += 4 + j + 3
		case strings.HasPrefix(s[i:], "<?"):
			j := strings.Index(s[i:], "?>")
			if j == -1 {
				return errors.New("unterminated processing instruction")
			}
			i += j + 2
		case strings.HasPrefix(s[i:], "<!["):
			return errors.New("conditional sections are not supported")
		case strings.HasPrefix(s[i:], "<!"):
			j := declEnd(s, i+2)
			if j == -1 {
				return fmt.Errorf("unterminated declaration: %.40q", s[i:])
			}
			if err := g.declare(s[i+2:j]); err != nil {
				return err
			}
			i = j + 1
		case s[i] == '%':
			loc := paramRefPattern.FindStringSubmatchIndex(s[i:])
			if loc == nil || loc[0] != 0 {
				return fmt.Errorf("invalid parameter entity reference: %.40q", s[i:])
			}
			name := s[i+loc[2] : i+loc[3]]
			v, ok := g.params[name]
			if !ok {
				return fmt.Errorf("undefined parameter entity: %%%s;", name)
			}
			if err := g.parse(v, depth+1); err != nil {
				return err
			}
			i += loc[1]
		default:
			return fmt.Errorf("unexpected content: %.40q", s[i:])
		}
	}
	return nil
}

// declEnd returns the index of the '>' closing the declaration starting at
// i, skipping quoted literals.
func declEnd(s string, i int) int {
	var quote byte
	for ; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '>':
			return i
		}
	}
	return -1
}

func (g *Grammar) declare(body string) error {
	l := &lexer{s: body}
	switch kw := l.name(); kw {
	case "ELEMENT":
		s, err := g.expand(l.rest())
		if err != nil {
			return err
		}
		return g.declareElement(s)
	case "ATTLIST":
		s, err := g.expand(l.rest())
		if err != nil {
			return err
		}
		return g.declareAttlist(s)
	case "ENTITY":
		return g.declareEntity(l.rest())
	case "NOTATION":
		return nil
	default:
		return fmt.Errorf("unknown declaration: <!%s", kw)
	}
}

// expand replaces parameter entity references in s.
func (g *Grammar) expand(s string) (string, error) {
	var err error
	for i := 0; strings.Contains(s, "%"); i++ {
		if i == maxEntityDepth {
			return "", errors.New("parameter entities nested too deeply")
		}
		expanded := paramRefPattern.ReplaceAllStringFunc(s, func(ref string) string {
			v, ok := g.params[ref[1:len(ref)-1]]
			if !ok && err == nil {
				err = fmt.Errorf("undefined parameter entity: %s", ref)
			}
			return v
		})
		if err != nil {
			return "", err
		}
		if expanded == s {
			break
		}
		s = expanded
	}
	return s, nil
}

func (g *Grammar) declareElement(s string) error {
	l := &lexer{s: s}
	l.skipSpace()
	name := l.name()
	if name == "" {
		return fmt.Errorf("element declaration without name: %q", s)
	}
	m, err := parseContentModel(l)
	if err != nil {
		return fmt.Errorf("element %s: %w", name, err)
	}
	l.skipSpace()
	if !l.eof() {
		return fmt.Errorf("element %s: trailing content %q", name, l.rest())
	}
	if _, ok := g.elements[name]; ok {
		return fmt.Errorf("element %s declared more than once", name)
	}
	g.elements[name] = m
	return nil
}

func (g *Grammar) declareAttlist(s string) error {
	l := &lexer{s: s}
	l.skipSpace()
	elem := l.name()
	if elem == "" {
		return fmt.Errorf("attribute list without element name: %q", s)
	}
	attrs, ok := g.attlists[elem]
	if !ok {
		attrs = make(map[string]*attrDecl)
		g.attlists[elem] = attrs
	}
	for {
		l.skipSpace()
		if l.eof() {
			return nil
		}
		ad := &attrDecl{name: l.name()}
		if ad.name == "" {
			return fmt.Errorf("attlist %s: invalid attribute definition %q", elem, l.rest())
		}
		l.skipSpace()
		if l.peek() == '(' {
			ad.typ = "ENUM"
		} else {
			ad.typ = l.name()
			l.skipSpace()
		}
		if ad.typ == "ENUM" || ad.typ == "NOTATION" {
			values, ok := l.enumeration()
			if !ok {
				return fmt.Errorf("attlist %s: invalid enumeration for %s", elem, ad.name)
			}
			ad.enum = values
		}
		l.skipSpace()
		switch {
		case l.keyword("#REQUIRED"):
			ad.def = attrRequired
		case l.keyword("#IMPLIED"):
			ad.def = attrImplied
		case l.keyword("#FIXED"):
			l.skipSpace()
			v, ok := l.quoted()
			if !ok {
				return fmt.Errorf("attlist %s: missing #FIXED value for %s", elem, ad.name)
			}
			ad.def, ad.value = attrFixed, v
		default:
			v, ok := l.quoted()
			if !ok {
				return fmt.Errorf("attlist %s: invalid default for %s: %q", elem, ad.name, l.rest())
			}
			ad.def, ad.value = attrDefault, v
		}
		// The first declaration of an attribute is binding.
		if _, ok := attrs[ad.name]; !ok {
			attrs[ad.name] = ad
		}
	}
}

func (g *Grammar) declareEntity(s string) error {
	l := &lexer{s: s}
	l.skipSpace()
	param := l.peek() == '%'
	if param {
		l.pos++
		l.skipSpace()
	}
	name := l.name()
	if name == "" {
		return fmt.Errorf("entity declaration without name: %q", s)
	}
	l.skipSpace()
	v, ok := l.quoted()
	if !ok {
		// External entities (SYSTEM, PUBLIC) are not fetched.
		return nil
	}
	v, err := g.expand(v)
	if err != nil {
		return fmt.Errorf("entity %s: %w", name, err)
	}
	switch {
	case param:
		if _, ok := g.params[name]; !ok {
			g.params[name] = v
		}
	default:
		if _, ok := g.entities[name]; !ok {
			g.entities[name] = v
		}
	}
	return nil
}

func (g *Grammar) resolveEntities() {
	g.resolved = make(map[string]string, len(g.entities))
	for name, v := range g.entities {
		g.resolved[name] = g.expandRefs(v, 0)
	}
}

// expandRefs replaces character and entity references in an entity value,
// since the decoder inserts entity text literally.
func (g *Grammar) expandRefs(v string, depth int) string {
	if !strings.Contains(v, "&") {
		return v
	}
	return generalRefPattern.ReplaceAllStringFunc(v, func(ref string) string {
		name := ref[1 : len(ref)-1]
		switch {
		case strings.HasPrefix(name, "#x"):
			if n, err := strconv.ParseInt(name[2:], 16, 32); err == nil {
				return string(rune(n))
			}
		case strings.HasPrefix(name, "#"):
			if n, err := strconv.ParseInt(name[1:], 10, 32); err == nil {
				return string(rune(n))
			}
		}
		if s, ok := predefined[name]; ok {
			return s
		}
		if s, ok := g.entities[name]; ok && depth < maxEntityDepth {
			return g.expandRefs(s, depth+1)
		}
		return ref
	})
}

// Entities returns the general entities with their replacement text, to be
// used as xml.Decoder.Entity. The map must not be modified.
func (g *Grammar) Entities() map[string]string {
	return g.resolved
}

// Declared reports whether an element type is declared.
func (g *Grammar) Declared(name string) bool {
	_, ok := g.elements[name]
	return ok
}

// merge returns a new grammar with the declarations of g and other; where
// both declare the same thing, g wins.
func (g *Grammar) merge(other *Grammar) *Grammar {
	m := newGrammar()
	for _, src := range []*Grammar{g, other} {
		if src == nil {
			continue
		}
		for k, v := range src.elements {
			if _, ok := m.elements[k]; !ok {
				m.elements[k] = v
			}
		}
		for elem, attrs := range src.attlists {
			dst, ok := m.attlists[elem]
			if !ok {
				dst = make(map[string]*attrDecl)
				m.attlists[elem] = dst
			}
			for k, v := range attrs {
				if _, ok := dst[k]; !ok {
					dst[k] = v
				}
			}
		}
		for k, v := range src.entities {
			if _, ok := m.entities[k]; !ok {
				m.entities[k] = v
			}
		}
		for k, v := range src.params {
			if _, ok := m.params[k]; !ok {
				m.params[k] = v
			}
		}
	}
	m.resolveEntities()
	return m
}

// doctype is the content of a DOCTYPE directive.
type doctype struct {
	name     string
	systemID string
	subset   string
}

// parseDoctype parses a directive like `DOCTYPE dblp SYSTEM "dblp.dtd"`.
func parseDoctype(b []byte) (doctype, bool) {
	var dt doctype
	b = bytes.TrimSpace(b)
	l := &lexer{s: string(b)}
	if !l.keyword("DOCTYPE") {
		return dt, false
	}
	l.skipSpace()
	if dt.name = l.name(); dt.name == "" {
		return dt, false
	}
	l.skipSpace()
	switch {
	case l.keyword("SYSTEM"):
		l.skipSpace()
		dt.systemID, _ = l.quoted()
	case l.keyword("PUBLIC"):
		l.skipSpace()
		if _, ok := l.quoted(); !ok {
			return dt, false
		}
		l.skipSpace()
		dt.systemID, _ = l.quoted()
	}
	l.skipSpace()
	if l.peek() == '[' {
		if end := strings.LastIndexByte(l.s, ']'); end > l.pos {
			dt.subset = l.s[l.pos+1 : end]
		}
	}
	return dt, true
}
