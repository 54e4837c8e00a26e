// Package metadata fetches, parses and serializes the RDF descriptions of
// trains and their payloads.
package metadata

import (
	"bytes"
	"fmt"
	"io"

	"github.com/knakk/rdf"
)

// Graph is an immutable set of triples with the lookups the station needs.
type Graph struct {
	triples []rdf.Triple
}

func NewGraph(triples []rdf.Triple) *Graph {
	return &Graph{triples: triples}
}

// ParseTurtle reads a Turtle document, resolving relative IRIs against base.
func ParseTurtle(r io.Reader, base string) (*Graph, error) {
	dec := rdf.NewTripleDecoder(r, rdf.Turtle)
	if base != "" {
		baseIRI, err := rdf.NewIRI(base)
		if err != nil {
			return nil, fmt.Errorf("base iri %q: %w", base, err)
		}
		if err := dec.SetOption(rdf.Base, baseIRI); err != nil {
			return nil, fmt.Errorf("set base iri: %w", err)
		}
	}
	triples, err := dec.DecodeAll()
	if err != nil {
		return nil, fmt.Errorf("parse turtle: %w", err)
	}
	return NewGraph(triples), nil
}

func (g *Graph) Len() int {
	return len(g.triples)
}

func (g *Graph) Triples() []rdf.Triple {
	return g.triples
}

// Subjects returns the distinct subjects having pred with value obj.
func (g *Graph) Subjects(pred rdf.Predicate, obj rdf.Object) []rdf.Subject {
	seen := make(map[string]bool)
	var out []rdf.Subject
	for _, t := range g.triples {
		if !rdf.TermsEqual(t.Pred, pred) || !rdf.TermsEqual(t.Obj, obj) {
			continue
		}
		key := t.Subj.Serialize(rdf.NTriples)
		if !seen[key] {
			seen[key] = true
			out = append(out, t.Subj)
		}
	}
	return out
}

// Objects returns the distinct values of pred on subj.
func (g *Graph) Objects(subj rdf.Subject, pred rdf.Predicate) []rdf.Object {
	seen := make(map[string]bool)
	var out []rdf.Object
	for _, t := range g.triples {
		if !rdf.TermsEqual(t.Subj, subj) || !rdf.TermsEqual(t.Pred, pred) {
			continue
		}
		key := t.Obj.Serialize(rdf.NTriples)
		if !seen[key] {
			seen[key] = true
			out = append(out, t.Obj)
		}
	}
	return out
}

// Object returns the first value of pred on subj.
func (g *Graph) Object(subj rdf.Subject, pred rdf.Predicate) (rdf.Object, bool) {
	for _, t := range g.triples {
		if rdf.TermsEqual(t.Subj, subj) && rdf.TermsEqual(t.Pred, pred) {
			return t.Obj, true
		}
	}
	return nil, false
}

// ResourceObject returns the first IRI or blank node value of pred on subj.
func (g *Graph) ResourceObject(subj rdf.Subject, pred rdf.Predicate) (rdf.Subject, bool) {
	for _, o := range g.Objects(subj, pred) {
		switch v := o.(type) {
		case rdf.IRI:
			return v, true
		case rdf.Blank:
			return v, true
		}
	}
	return nil, false
}

// StringObject returns the lexical value of the first value of pred on subj.
func (g *Graph) StringObject(subj rdf.Subject, pred rdf.Predicate) (string, bool) {
	o, ok := g.Object(subj, pred)
	if !ok {
		return "", false
	}
	return o.String(), true
}

// WriteTurtle serializes triples as Turtle using the station prefix set.
func WriteTurtle(w io.Writer, triples []rdf.Triple) error {
	enc := rdf.NewTripleEncoder(w, rdf.Turtle)
	for ns, prefix := range prefixes {
		enc.Namespaces[ns] = prefix
	}
	if err := enc.EncodeAll(triples); err != nil {
		return fmt.Errorf("encode turtle: %w", err)
	}
	return enc.Close()
}

// WriteNTriples serializes triples as N-Triples.
func WriteNTriples(w io.Writer, triples []rdf.Triple) error {
	enc := rdf.NewTripleEncoder(w, rdf.NTriples)
	if err := enc.EncodeAll(triples); err != nil {
		return fmt.Errorf("encode n-triples: %w", err)
	}
	return enc.Close()
}

// Turtle returns the graph serialized as Turtle.
func (g *Graph) Turtle() (string, error) {
	var buf bytes.Buffer
	if err := WriteTurtle(&buf, g.triples); err != nil {
		return "", err
	}
	return buf.String(), nil
}
