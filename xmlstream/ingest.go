// Package xmlstream reads large XML documents, like the dblp dump, one
// top-level record at a time.
//
// The Ingestor keeps the current record and a stack of open elements in
// memory, nothing more: subtrees outside of records are never built, and a
// record is released as soon as the next one is requested. Structure is
// validated against the document's DTD while streaming.
package xmlstream

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/miku/dblptab/schema/dblp"
	"golang.org/x/net/html/charset"
)

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithGrammar validates against g, regardless of any DOCTYPE.
func WithGrammar(g *Grammar) Option {
	return func(ing *Ingestor) {
		ing.grammar = g
	}
}

// WithGrammarResolver sets a function that loads the DTD named by the
// system identifier of the DOCTYPE.
func WithGrammarResolver(f func(systemID string) (*Grammar, error)) Option {
	return func(ing *Ingestor) {
		ing.resolve = f
	}
}

// WithKinds sets the element names that are surfaced as records, defaults to
// the dblp record kinds.
func WithKinds(kinds ...string) Option {
	return func(ing *Ingestor) {
		ing.kinds = make(map[string]bool)
		for _, k := range kinds {
			ing.kinds[k] = true
		}
	}
}

// WithoutValidation only checks well-formedness.
func WithoutValidation() Option {
	return func(ing *Ingestor) {
		ing.validate = false
	}
}

// WithCharsetReader overrides the charset conversion for documents not
// encoded in UTF-8.
func WithCharsetReader(f func(label string, input io.Reader) (io.Reader, error)) Option {
	return func(ing *Ingestor) {
		ing.dec.CharsetReader = f
	}
}

// Ingestor yields the records of a document in document order. Usage
// follows bufio.Scanner:
//
//	ing := xmlstream.NewIngestor(r)
//	defer ing.Close()
//	for ing.Next() {
//		rec := ing.Record()
//	}
//	if err := ing.Err(); err != nil { ... }
type Ingestor struct {
	dec      *xml.Decoder
	closer   io.Closer
	grammar  *Grammar
	resolve  func(systemID string) (*Grammar, error)
	validate bool
	kinds    map[string]bool
	v        *validator
	doctype  doctype
	rootSeen bool
	depth    int
	rec      Record
	inRecord bool
	field    string
	text     []byte
	err      error
	done     bool
}

// NewIngestor returns an ingestor reading from r. Validation is enabled by
// default; the grammar is taken from WithGrammar or resolved from the
// DOCTYPE.
func NewIngestor(r io.Reader, opts ...Option) *Ingestor {
	ing := &Ingestor{
		dec:      xml.NewDecoder(&errReader{r: r}),
		validate: true,
	}
	ing.dec.CharsetReader = charset.NewReaderLabel
	WithKinds(dblp.Kinds...)(ing)
	for _, opt := range opts {
		opt(ing)
	}
	if ing.grammar != nil {
		ing.dec.Entity = ing.grammar.Entities()
	} else {
		ing.dec.Entity = xml.HTMLEntity
	}
	return ing
}

// OpenIngestor opens a possibly compressed file and returns an ingestor for
// it. Unless a grammar is given, the DTD named in the DOCTYPE is loaded
// relative to the directory of the file.
func OpenIngestor(filename string, opts ...Option) (*Ingestor, error) {
	rc, err := Open(filename)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithGrammarResolver(DirResolver(filepath.Dir(filename)))}, opts...)
	ing := NewIngestor(rc, opts...)
	ing.closer = rc
	return ing, nil
}

// DirResolver loads DTDs relative to dir. Remote DTDs are not fetched.
func DirResolver(dir string) func(systemID string) (*Grammar, error) {
	return func(systemID string) (*Grammar, error) {
		if strings.Contains(systemID, "://") {
			return nil, fmt.Errorf("%w: will not fetch remote DTD %s", ErrSourceUnavailable, systemID)
		}
		if !filepath.IsAbs(systemID) {
			systemID = filepath.Join(dir, systemID)
		}
		return LoadDTD(systemID)
	}
}

// Next advances to the next record. It returns false at the end of the
// document or on error. The previous record is released.
func (ing *Ingestor) Next() bool {
	if ing.done {
		return false
	}
	ing.rec.reset()
	for {
		tok, err := ing.dec.Token()
		if err == io.EOF {
			ing.done = true
			if !ing.rootSeen {
				ing.fail(errors.New("document has no root element"))
			}
			return false
		}
		if err != nil {
			ing.fail(err)
			return false
		}
		var complete bool
		switch t := tok.(type) {
		case xml.StartElement:
			err = ing.start(t)
		case xml.EndElement:
			complete, err = ing.end()
		case xml.CharData:
			err = ing.chardata(t)
		case xml.Directive:
			err = ing.directive(t)
		}
		if err != nil {
			ing.fail(err)
			return false
		}
		if complete {
			return true
		}
	}
}

// Record returns the current record, valid until the next call to Next.
func (ing *Ingestor) Record() *Record {
	return &ing.rec
}

// Err returns the first error encountered, wrapping ErrMalformedInput or
// ErrSourceUnavailable.
func (ing *Ingestor) Err() error {
	return ing.err
}

// InputOffset returns the number of bytes consumed so far.
func (ing *Ingestor) InputOffset() int64 {
	return ing.dec.InputOffset()
}

// Close releases the current record and closes the underlying file, if the
// ingestor was created by OpenIngestor. It is safe to call Close before the
// document was read to the end, and more than once.
func (ing *Ingestor) Close() error {
	ing.done = true
	ing.rec.release()
	ing.text = nil
	ing.v = nil
	if ing.closer == nil {
		return nil
	}
	c := ing.closer
	ing.closer = nil
	return c.Close()
}

func (ing *Ingestor) fail(err error) {
	ing.done = true
	var re *readError
	switch {
	case errors.As(err, &re):
		ing.err = fmt.Errorf("%w: %v", ErrSourceUnavailable, re.err)
	case errors.Is(err, ErrSourceUnavailable), errors.Is(err, ErrMalformedInput):
		ing.err = err
	default:
		line, col := ing.dec.InputPos()
		var se *xml.SyntaxError
		if errors.As(err, &se) {
			line = se.Line
		}
		ing.err = &MalformedInputError{
			Line:   line,
			Column: col,
			Offset: ing.dec.InputOffset(),
			Err:    err,
		}
	}
}

func (ing *Ingestor) startRoot(se xml.StartElement) error {
	if ing.rootSeen {
		return fmt.Errorf("second root element %s", se.Name.Local)
	}
	ing.rootSeen = true
	if !ing.validate {
		return nil
	}
	if ing.grammar == nil {
		return errors.New("no DTD found to validate against")
	}
	if ing.doctype.name != "" && ing.doctype.name != se.Name.Local {
		return fmt.Errorf("root element %s does not match document type %s",
			se.Name.Local, ing.doctype.name)
	}
	ing.v = &validator{g: ing.grammar}
	return nil
}

func (ing *Ingestor) start(se xml.StartElement) error {
	if ing.depth == 0 {
		if err := ing.startRoot(se); err != nil {
			return err
		}
	}
	if ing.v != nil {
		if err := ing.v.start(se); err != nil {
			return err
		}
	}
	ing.depth++
	switch {
	case ing.depth == 2 && ing.kinds[se.Name.Local]:
		ing.inRecord = true
		ing.rec.Kind = se.Name.Local
		ing.rec.Attr = append(ing.rec.Attr, se.Attr...)
		ing.rec.Key = ing.rec.Attribute("key")
	case ing.depth == 3 && ing.inRecord:
		ing.field = se.Name.Local
		ing.text = ing.text[:0]
	}
	return nil
}

// end handles a closing tag; the decoder has already checked that it
// matches. It reports whether a record is complete.
func (ing *Ingestor) end() (bool, error) {
	if ing.v != nil {
		if err := ing.v.end(); err != nil {
			return false, err
		}
	}
	ing.depth--
	if !ing.inRecord {
		return false, nil
	}
	switch ing.depth {
	case 2:
		ing.rec.Fields = append(ing.rec.Fields, Field{Name: ing.field, Value: string(ing.text)})
	case 1:
		ing.inRecord = false
		return true, nil
	}
	return false, nil
}

func (ing *Ingestor) chardata(cd xml.CharData) error {
	if ing.depth == 0 {
		if len(bytes.TrimSpace(cd)) > 0 {
			return errors.New("text outside of root element")
		}
		return nil
	}
	if ing.v != nil {
		if err := ing.v.text(cd); err != nil {
			return err
		}
	}
	if ing.inRecord && ing.depth >= 3 {
		ing.text = append(ing.text, cd...)
	}
	return nil
}

func (ing *Ingestor) directive(d xml.Directive) error {
	dt, ok := parseDoctype(d)
	if !ok {
		return nil
	}
	if ing.rootSeen {
		return errors.New("DOCTYPE after root element")
	}
	ing.doctype = dt
	if !ing.validate && ing.grammar == nil && dt.subset == "" {
		return nil
	}
	g := ing.grammar
	if g == nil && dt.systemID != "" && ing.resolve != nil {
		var err error
		if g, err = ing.resolve(dt.systemID); err != nil {
			return err
		}
	}
	if dt.subset != "" {
		internal, err := parseDTD(dt.subset)
		if err != nil {
			return err
		}
		g = internal.merge(g)
	}
	if g != nil {
		ing.grammar = g
		ing.dec.Entity = g.Entities()
	}
	return nil
}

// errReader marks errors of the underlying reader.
type errReader struct {
	r io.Reader
}

func (r *errReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if err != nil && err != io.EOF {
		err = &readError{err: err}
	}
	return n, err
}
