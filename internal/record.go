package internal

import (
	"slices"

	specs "github.com/chrisconley/rhizome/specs"
)

const (
	setSpecField    = "setSpec"
	identifierField = "identifier"
	statusField     = "status"
)

// Record is one normalized harvest record: field name -> ordered values.
type Record struct {
	fields map[string][]string
}

func NewRecord(spec specs.RecordSpec) Record {
	fields := make(map[string][]string, len(spec))
	for name, values := range spec {
		fields[name] = slices.Clone(values)
	}
	return Record{fields: fields}
}

// Values returns the values of a field; an absent field has no values.
func (r Record) Values(field string) []string {
	return r.fields[field]
}

func (r Record) Has(field string) bool {
	_, ok := r.fields[field]
	return ok
}

// Set replaces a field's values.
func (r *Record) Set(field string, values []string) {
	if r.fields == nil {
		r.fields = make(map[string][]string)
	}
	r.fields[field] = values
}

// HasSetToken reports whether the record is tagged with a set-membership
// token such as "partner:HHCT".
func (r Record) HasSetToken(token string) bool {
	return slices.Contains(r.fields[setSpecField], token)
}

// Deleted reports a tombstone: the archive withdrew the record and sent only
// its header.
func (r Record) Deleted() bool {
	return slices.Contains(r.fields[statusField], "deleted")
}

func (r Record) ToSpec() specs.RecordSpec {
	out := make(specs.RecordSpec, len(r.fields))
	for name, values := range r.fields {
		out[name] = slices.Clone(values)
	}
	return out
}
