package triplestore

import (
	"strings"
	"unicode"
)

// QueryForm is the operation kind of a SPARQL request.
type QueryForm string

const (
	FormSelect    QueryForm = "SELECT"
	FormAsk       QueryForm = "ASK"
	FormConstruct QueryForm = "CONSTRUCT"
	FormDescribe  QueryForm = "DESCRIBE"
	FormUpdate    QueryForm = "UPDATE"
	FormUnknown   QueryForm = ""
)

var queryKeywords = map[string]QueryForm{
	"SELECT":    FormSelect,
	"ASK":       FormAsk,
	"CONSTRUCT": FormConstruct,
	"DESCRIBE":  FormDescribe,
	"INSERT":    FormUpdate,
	"DELETE":    FormUpdate,
	"LOAD":      FormUpdate,
	"CLEAR":     FormUpdate,
	"CREATE":    FormUpdate,
	"DROP":      FormUpdate,
	"COPY":      FormUpdate,
	"MOVE":      FormUpdate,
	"ADD":       FormUpdate,
	"WITH":      FormUpdate,
}

// IsReadOnly reports whether form can be sent to a query endpoint.
func (f QueryForm) IsReadOnly() bool {
	switch f {
	case FormSelect, FormAsk, FormConstruct, FormDescribe:
		return true
	}
	return false
}

// ClassifyQuery returns the form of the first operation in q. The prologue
// (BASE and PREFIX declarations), comments, IRIs and string literals are
// skipped.
func ClassifyQuery(q string) QueryForm {
	afterPrefix := false
	for i := 0; i < len(q); {
		c := q[i]
		switch {
		case c == '#':
			for i < len(q) && q[i] != '\n' {
				i++
			}
		case c == '<':
			afterPrefix = false
			for i < len(q) && q[i] != '>' {
				i++
			}
			i++
		case c == '"' || c == '\'':
			i = skipString(q, i)
		case isWordByte(c):
			start := i
			for i < len(q) && (isWordByte(q[i]) || q[i] == ':' || q[i] == '-' || q[i] == '.') {
				i++
			}
			word := strings.TrimRight(q[start:i], ".")
			if afterPrefix {
				afterPrefix = false
				continue
			}
			upper := strings.ToUpper(word)
			switch upper {
			case "PREFIX":
				afterPrefix = true
				continue
			case "BASE":
				continue
			}
			if form, ok := queryKeywords[upper]; ok {
				return form
			}
			return FormUnknown
		default:
			i++
		}
	}
	return FormUnknown
}

func isWordByte(c byte) bool {
	return c == '_' || c < 0x80 && (unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c)))
}

// skipString returns the index just past the literal opening at i, which
// may use single, double or long quotes.
func skipString(q string, i int) int {
	quote := q[i]
	long := strings.Repeat(string(quote), 3)
	if strings.HasPrefix(q[i:], long) {
		end := strings.Index(q[i+3:], long)
		if end < 0 {
			return len(q)
		}
		return i + 3 + end + 3
	}
	for i++; i < len(q); i++ {
		switch q[i] {
		case '\\':
			i++
		case quote:
			return i + 1
		}
	}
	return len(q)
}
