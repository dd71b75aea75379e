package xmlstream

import "encoding/xml"

// Field is a sub-element of a record with its full text content.
type Field struct {
	Name  string
	Value string
}

// Record is a completed top-level element, e.g. an article. The Record
// returned by Ingestor.Record is only valid until the next call to Next or
// Close; the strings it holds may be retained.
type Record struct {
	Kind   string
	Key    string
	Attr   []xml.Attr
	Fields []Field
}

// Lookup returns the value of the first sub-field with the given name.
func (r *Record) Lookup(name string) (string, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Field returns the value of the first sub-field with the given name or the
// empty string.
func (r *Record) Field(name string) string {
	v, _ := r.Lookup(name)
	return v
}

// Values returns the values of all sub-fields with the given name, in
// document order.
func (r *Record) Values(name string) []string {
	var values []string
	for _, f := range r.Fields {
		if f.Name == name {
			values = append(values, f.Value)
		}
	}
	return values
}

// Attribute returns the value of an attribute of the record element.
func (r *Record) Attribute(name string) string {
	for _, a := range r.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// reset drops all references to the previous record, keeping the backing
// arrays for the next one.
func (r *Record) reset() {
	clear(r.Attr)
	clear(r.Fields)
	r.Kind, r.Key = "", ""
	r.Attr = r.Attr[:0]
	r.Fields = r.Fields[:0]
}

// release drops the backing arrays as well.
func (r *Record) release() {
	*r = Record{}
}
