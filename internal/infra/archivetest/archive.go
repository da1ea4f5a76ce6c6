// Package archivetest serves canned OAI-PMH ListRecords pages for tests.
package archivetest

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

type Field struct {
	Name  string
	Value string
}

func F(name, value string) Field {
	return Field{Name: name, Value: value}
}

// Record is one canned record. Fields are emitted as dc:<name> elements in
// order.
type Record struct {
	ID        string
	Datestamp string
	Sets      []string
	Deleted   bool
	Fields    []Field
}

type RecordOption func(*Record)

func WithSets(sets ...string) RecordOption {
	return func(r *Record) { r.Sets = append(r.Sets, sets...) }
}

func WithField(name string, values ...string) RecordOption {
	return func(r *Record) {
		for _, v := range values {
			r.Fields = append(r.Fields, F(name, v))
		}
	}
}

func Deleted() RecordOption {
	return func(r *Record) { r.Deleted = true }
}

// NewRecord builds a record with identifier "info:ark:/67531/<id>".
func NewRecord(id string, opts ...RecordOption) Record {
	r := Record{
		ID:        "info:ark:/67531/" + id,
		Datestamp: "2024-01-01",
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// PageXML renders a ListRecords response. An empty token renders the empty
// resumptionToken element that marks the last page.
func PageXML(token string, records ...Record) []byte {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<OAI-PMH xmlns="http://www.openarchives.org/OAI/2.0/">`)
	b.WriteString(`<responseDate>2024-01-01T00:00:00Z</responseDate>`)
	b.WriteString(`<request verb="ListRecords" metadataPrefix="oai_dc">https://texashistory.unt.edu/oai/</request>`)
	b.WriteString(`<ListRecords>`)
	for _, r := range records {
		writeRecord(&b, r)
	}
	if token == "" {
		b.WriteString(`<resumptionToken completeListSize="0" cursor="0"/>`)
	} else {
		b.WriteString(`<resumptionToken>`)
		escape(&b, token)
		b.WriteString(`</resumptionToken>`)
	}
	b.WriteString(`</ListRecords></OAI-PMH>`)
	return b.Bytes()
}

// ErrorXML renders a protocol error response.
func ErrorXML(code, message string) []byte {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<OAI-PMH xmlns="http://www.openarchives.org/OAI/2.0/">`)
	b.WriteString(`<responseDate>2024-01-01T00:00:00Z</responseDate>`)
	fmt.Fprintf(&b, `<error code="%s">`, code)
	escape(&b, message)
	b.WriteString(`</error></OAI-PMH>`)
	return b.Bytes()
}

func writeRecord(b *bytes.Buffer, r Record) {
	b.WriteString(`<record>`)
	if r.Deleted {
		b.WriteString(`<header status="deleted">`)
	} else {
		b.WriteString(`<header>`)
	}
	b.WriteString(`<identifier>`)
	escape(b, r.ID)
	b.WriteString(`</identifier><datestamp>`)
	escape(b, r.Datestamp)
	b.WriteString(`</datestamp>`)
	for _, s := range r.Sets {
		b.WriteString(`<setSpec>`)
		escape(b, s)
		b.WriteString(`</setSpec>`)
	}
	b.WriteString(`</header>`)
	if !r.Deleted {
		b.WriteString(`<metadata><oai_dc:dc xmlns:oai_dc="http://www.openarchives.org/OAI/2.0/oai_dc/" xmlns:dc="http://purl.org/dc/elements/1.1/">`)
		for _, f := range r.Fields {
			fmt.Fprintf(b, `<dc:%s>`, f.Name)
			escape(b, f.Value)
			fmt.Fprintf(b, `</dc:%s>`, f.Name)
		}
		b.WriteString(`</oai_dc:dc></metadata>`)
	}
	b.WriteString(`</record>`)
}

func escape(b *bytes.Buffer, s string) {
	_ = xml.EscapeText(b, []byte(s))
}

// Server is a paginating archive. Page i links to page i+1 with the token
// "page-<i+1>"; the last page carries an empty token.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	pages    [][]Record
	requests []url.Values
	failures map[int][]int
	rejects  map[int][2]string
}

func NewServer(pages ...[]Record) *Server {
	s := &Server{
		pages:    pages,
		failures: map[int][]int{},
		rejects:  map[int][2]string{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// FailPage answers the next requests for page with the given statuses, in
// order, before serving it normally.
func (s *Server) FailPage(page int, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[page] = append(s.failures[page], statuses...)
}

// RejectPage answers every request for page with a protocol error.
func (s *Server) RejectPage(page int, code, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejects[page] = [2]string{code, message}
}

// Requests returns the query of every request received so far.
func (s *Server) Requests() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.requests...)
}

func Token(page int) string {
	return "page-" + strconv.Itoa(page)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := r.URL.Query()
	s.requests = append(s.requests, q)

	if q.Get("verb") != "ListRecords" {
		s.write(w, ErrorXML("badVerb", "Illegal OAI verb"))
		return
	}

	page := 0
	if token := q.Get("resumptionToken"); token != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(token, "page-"))
		if err != nil || !strings.HasPrefix(token, "page-") || n <= 0 || n >= len(s.pages) {
			s.write(w, ErrorXML("badResumptionToken", "The value of the resumptionToken argument is invalid or expired."))
			return
		}
		if q.Has("metadataPrefix") {
			s.write(w, ErrorXML("badArgument", "resumptionToken is an exclusive argument."))
			return
		}
		page = n
	} else if q.Get("metadataPrefix") == "" {
		s.write(w, ErrorXML("badArgument", "Missing metadataPrefix."))
		return
	}

	if pending := s.failures[page]; len(pending) > 0 {
		s.failures[page] = pending[1:]
		w.WriteHeader(pending[0])
		return
	}
	if reject, ok := s.rejects[page]; ok {
		s.write(w, ErrorXML(reject[0], reject[1]))
		return
	}
	if len(s.pages) == 0 {
		s.write(w, ErrorXML("noRecordsMatch", "No records match."))
		return
	}

	token := ""
	if page+1 < len(s.pages) {
		token = Token(page + 1)
	}
	s.write(w, PageXML(token, s.pages[page]...))
}

func (s *Server) write(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	_, _ = w.Write(body)
}
