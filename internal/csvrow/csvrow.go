// Package csvrow encodes and decodes the delimited, quote-escaped rows used
// by the roster and the daily ledger files.
//
// A field is wrapped in quotes when it contains the delimiter, a quote or a
// line break; quotes inside a quoted field are doubled. A quoted field may
// span physical lines, so Reader works on logical records rather than lines.
package csvrow

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

const (
	Delim = ','
	Quote = '"'
)

// ErrMalformed reports a row that does not tokenize cleanly.
var ErrMalformed = errors.New("csvrow: malformed row")

// Encode renders fields as a single logical row without the trailing newline.
func Encode(fields []string) string {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(Delim)
		}
		if !needsQuote(f) {
			b.WriteString(f)
			continue
		}
		b.WriteByte(Quote)
		b.WriteString(strings.ReplaceAll(f, `"`, `""`))
		b.WriteByte(Quote)
	}
	return b.String()
}

// Write encodes fields and terminates the row with a newline.
func Write(w io.Writer, fields []string) error {
	_, err := io.WriteString(w, Encode(fields)+"\n")
	return err
}

func needsQuote(s string) bool {
	return strings.ContainsAny(s, ",\"\r\n")
}

// Decode splits one logical row into its fields.
func Decode(row string) ([]string, error) {
	var (
		fields     []string
		field      strings.Builder
		fieldStart = true
		inQuotes   bool
		closed     bool // closing quote seen, only a delimiter may follow
	)
	for i := 0; i < len(row); i++ {
		c := row[i]
		switch {
		case inQuotes:
			if c != Quote {
				field.WriteByte(c)
				continue
			}
			if i+1 < len(row) && row[i+1] == Quote {
				field.WriteByte(Quote)
				i++
				continue
			}
			inQuotes = false
			closed = true
		case c == Delim:
			fields = append(fields, field.String())
			field.Reset()
			fieldStart, closed = true, false
		case closed:
			return nil, ErrMalformed
		case c == Quote:
			if !fieldStart {
				return nil, ErrMalformed
			}
			inQuotes = true
			fieldStart = false
		default:
			field.WriteByte(c)
			fieldStart = false
		}
	}
	if inQuotes {
		return nil, ErrMalformed
	}
	return append(fields, field.String()), nil
}

// Row is one logical record read from a file. Raw holds the record text
// without its terminating newline, so callers can copy rows they could not
// decode.
type Row struct {
	Fields []string
	Raw    string
}

// Reader yields logical rows from r. Blank lines are skipped. A row that
// fails to decode is returned together with ErrMalformed; reading may
// continue after it.
type Reader struct {
	br      *bufio.Reader
	pending []string // physical lines pushed back after a failed multi-line row
	eof     bool
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

func (r *Reader) line() (string, bool, error) {
	if n := len(r.pending); n > 0 {
		l := r.pending[n-1]
		r.pending = r.pending[:n-1]
		return l, true, nil
	}
	if r.eof {
		return "", false, nil
	}
	l, err := r.br.ReadString('\n')
	if err == io.EOF {
		r.eof = true
		if l == "" {
			return "", false, nil
		}
		return l, true, nil
	}
	if err != nil {
		return "", false, err
	}
	return strings.TrimSuffix(l, "\n"), true, nil
}

// Next returns the next row, or io.EOF once the input is exhausted.
func (r *Reader) Next() (Row, error) {
	var first string
	for {
		l, ok, err := r.line()
		if err != nil {
			return Row{}, err
		}
		if !ok {
			return Row{}, io.EOF
		}
		if strings.TrimSpace(l) != "" {
			first = l
			break
		}
	}

	// A quoted field left open continues on the next physical line.
	lines := []string{first}
	for oddQuotes(strings.Join(lines, "\n")) {
		l, ok, err := r.line()
		if err != nil {
			return Row{}, err
		}
		if !ok {
			break
		}
		lines = append(lines, l)
	}

	// A CR before the record's final newline is a terminator, not data:
	// the encoder always quotes fields that carry one.
	last := len(lines) - 1
	lines[last] = strings.TrimSuffix(lines[last], "\r")

	raw := strings.Join(lines, "\n")
	fields, err := Decode(raw)
	if err == nil {
		return Row{Fields: fields, Raw: raw}, nil
	}
	if len(lines) > 1 {
		// Give back everything after the first line so one stray quote
		// cannot swallow the rest of the file.
		for i := len(lines) - 1; i >= 1; i-- {
			r.pending = append(r.pending, lines[i])
		}
	}
	return Row{Raw: strings.TrimSuffix(lines[0], "\r")}, ErrMalformed
}

func oddQuotes(s string) bool {
	return strings.Count(s, `"`)%2 == 1
}
