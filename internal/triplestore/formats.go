package triplestore

import (
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/knakk/rdf"

	"fairdatastation/internal/metadata"
)

const sparqlResultsNS = "http://www.w3.org/2005/sparql-results#"

// Format is one serialization a result can be written in.
type Format struct {
	Name      string
	Extension string
	MIMEType  string
	aliases   []string
}

func (f Format) matches(mime string) bool {
	if f.MIMEType == mime {
		return true
	}
	for _, a := range f.aliases {
		if a == mime {
			return true
		}
	}
	return false
}

// Term is one bound value of a solution.
type Term struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Lang     string `json:"xml:lang,omitempty"`
	Datatype string `json:"datatype,omitempty"`
}

// Table is a tabular (SELECT) result.
type Table struct {
	Vars []string
	Rows []map[string]Term
}

type tabularWriter struct {
	Format
	write func(io.Writer, Table) error
}

type booleanWriter struct {
	Format
	write func(io.Writer, bool) error
}

type graphWriter struct {
	Format
	write func(io.Writer, []rdf.Triple) error
}

var (
	formatSPARQLJSON = Format{Name: "SPARQL/JSON", Extension: "srj", MIMEType: "application/sparql-results+json", aliases: []string{"application/json"}}
	formatSPARQLXML  = Format{Name: "SPARQL/XML", Extension: "srx", MIMEType: "application/sparql-results+xml", aliases: []string{"application/xml"}}
	formatSPARQLCSV  = Format{Name: "SPARQL/CSV", Extension: "csv", MIMEType: "text/csv"}
	formatSPARQLTSV  = Format{Name: "SPARQL/TSV", Extension: "tsv", MIMEType: "text/tab-separated-values"}
	formatText       = Format{Name: "TEXT", Extension: "txt", MIMEType: "text/plain", aliases: []string{"text/boolean"}}
	formatTurtle     = Format{Name: "Turtle", Extension: "ttl", MIMEType: "text/turtle", aliases: []string{"application/x-turtle"}}
	formatNTriples   = Format{Name: "N-Triples", Extension: "nt", MIMEType: "application/n-triples", aliases: []string{"text/plain"}}
)

var tabularWriters = []tabularWriter{
	{formatSPARQLJSON, writeTableJSON},
	{formatSPARQLXML, writeTableXML},
	{formatSPARQLCSV, writeTableCSV},
	{formatSPARQLTSV, writeTableTSV},
}

var booleanWriters = []booleanWriter{
	{formatSPARQLJSON, writeBooleanJSON},
	{formatSPARQLXML, writeBooleanXML},
	{formatText, writeBooleanText},
}

var graphWriters = []graphWriter{
	{formatTurtle, metadata.WriteTurtle},
	{formatNTriples, metadata.WriteNTriples},
}

// wildcard selects the default writer of each result kind.
const wildcard = "*/*"

// normalizeAccept strips parameters and case from a media range.
func normalizeAccept(v string) string {
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = v[:i]
	}
	return strings.ToLower(strings.TrimSpace(v))
}

// resolve returns the index of every writer selected by accept, deduplicated,
// in order of first request. def is the writer used for a wildcard.
func resolve(accept []string, def int, matches func(i int, mime string) bool, n int) []int {
	seen := make(map[int]bool)
	var out []int
	add := func(i int) {
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	for _, a := range accept {
		mime := normalizeAccept(a)
		if mime == wildcard {
			add(def)
			continue
		}
		for i := 0; i < n; i++ {
			if matches(i, mime) {
				add(i)
				break
			}
		}
	}
	return out
}

func resolveTabular(accept []string) []tabularWriter {
	var out []tabularWriter
	for _, i := range resolve(accept, 0, func(i int, m string) bool { return tabularWriters[i].matches(m) }, len(tabularWriters)) {
		out = append(out, tabularWriters[i])
	}
	return out
}

func resolveBoolean(accept []string) []booleanWriter {
	var out []booleanWriter
	for _, i := range resolve(accept, 2, func(i int, m string) bool { return booleanWriters[i].matches(m) }, len(booleanWriters)) {
		out = append(out, booleanWriters[i])
	}
	return out
}

func resolveGraph(accept []string) []graphWriter {
	var out []graphWriter
	for _, i := range resolve(accept, 0, func(i int, m string) bool { return graphWriters[i].matches(m) }, len(graphWriters)) {
		out = append(out, graphWriters[i])
	}
	return out
}

func writeTableJSON(w io.Writer, t Table) error {
	bindings := t.Rows
	if bindings == nil {
		bindings = []map[string]Term{}
	}
	vars := t.Vars
	if vars == nil {
		vars = []string{}
	}
	doc := map[string]any{
		"head":    map[string]any{"vars": vars},
		"results": map[string]any{"bindings": bindings},
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func writeTableXML(w io.Writer, t Table) error {
	var b strings.Builder
	b.WriteString(xml.Header)
	fmt.Fprintf(&b, "<sparql xmlns=\"%s\">\n  <head>\n", sparqlResultsNS)
	for _, v := range t.Vars {
		fmt.Fprintf(&b, "    <variable name=\"%s\"/>\n", xmlEscape(v))
	}
	b.WriteString("  </head>\n  <results>\n")
	for _, row := range t.Rows {
		b.WriteString("    <result>\n")
		for _, v := range t.Vars {
			term, ok := row[v]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "      <binding name=\"%s\">", xmlEscape(v))
			switch term.Type {
			case "uri":
				fmt.Fprintf(&b, "<uri>%s</uri>", xmlEscape(term.Value))
			case "bnode":
				fmt.Fprintf(&b, "<bnode>%s</bnode>", xmlEscape(term.Value))
			default:
				b.WriteString("<literal")
				if term.Lang != "" {
					fmt.Fprintf(&b, " xml:lang=\"%s\"", xmlEscape(term.Lang))
				} else if term.Datatype != "" {
					fmt.Fprintf(&b, " datatype=\"%s\"", xmlEscape(term.Datatype))
				}
				fmt.Fprintf(&b, ">%s</literal>", xmlEscape(term.Value))
			}
			b.WriteString("</binding>\n")
		}
		b.WriteString("    </result>\n")
	}
	b.WriteString("  </results>\n</sparql>\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func writeTableCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	cw.UseCRLF = true
	if err := cw.Write(t.Vars); err != nil {
		return err
	}
	for _, row := range t.Rows {
		rec := make([]string, len(t.Vars))
		for i, v := range t.Vars {
			if term, ok := row[v]; ok {
				rec[i] = csvValue(term)
			}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvValue(t Term) string {
	if t.Type == "bnode" {
		return "_:" + t.Value
	}
	return t.Value
}

func writeTableTSV(w io.Writer, t Table) error {
	var b strings.Builder
	for i, v := range t.Vars {
		if i > 0 {
			b.WriteByte('\t')
		}
		b.WriteString("?" + v)
	}
	b.WriteByte('\n')
	for _, row := range t.Rows {
		for i, v := range t.Vars {
			if i > 0 {
				b.WriteByte('\t')
			}
			if term, ok := row[v]; ok {
				b.WriteString(tsvValue(term))
			}
		}
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// tsvValue renders a term in N-Triples syntax.
func tsvValue(t Term) string {
	switch t.Type {
	case "uri":
		return "<" + t.Value + ">"
	case "bnode":
		return "_:" + t.Value
	}
	lit := strconv.Quote(t.Value)
	switch {
	case t.Lang != "":
		return lit + "@" + t.Lang
	case t.Datatype != "":
		return lit + "^^<" + t.Datatype + ">"
	}
	return lit
}

func writeBooleanJSON(w io.Writer, v bool) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"head": map[string]any{}, "boolean": v})
}

func writeBooleanXML(w io.Writer, v bool) error {
	_, err := fmt.Fprintf(w, "%s<sparql xmlns=\"%s\">\n  <head/>\n  <boolean>%t</boolean>\n</sparql>\n", xml.Header, sparqlResultsNS, v)
	return err
}

func writeBooleanText(w io.Writer, v bool) error {
	_, err := io.WriteString(w, strconv.FormatBool(v))
	return err
}

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
