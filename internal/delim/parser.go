// Package delim converts delimited byte streams (CSV, TSV) into records
// keyed by header name. It exists because the upstream sources are too large
// to buffer whole: the incremental parser carries at most one partial logical
// line between chunks, so memory stays O(line) regardless of input size.
//
// Malformed quoting degrades to best-effort field splitting rather than
// returning an error; downstream consumers tolerate occasional garbled
// fields and coerce them to null.
package delim

// Record maps header name to raw field value for one logical line.
type Record map[string]string

// StreamParser is the incremental variant. Feed successive chunks through
// Write and collect completed records; call Flush once at end-of-stream to
// parse a trailing line that did not end with a newline.
//
// The first non-empty line is taken as the header. Record boundaries are
// quote-aware: a newline inside a quoted field does not terminate a record.
type StreamParser struct {
	sep      byte
	headers  []string
	buf      []byte
	scanOff  int
	inQuotes bool
}

// NewStreamParser returns a parser for the given field separator.
func NewStreamParser(sep rune) *StreamParser {
	return &StreamParser{sep: byte(sep)}
}

// Headers returns the header line fields, or nil before the header has been
// seen.
func (p *StreamParser) Headers() []string { return p.headers }

// Write appends a chunk and returns the records completed by it. Records
// split across the chunk boundary are neither dropped nor duplicated; the
// partial tail stays buffered for the next call.
func (p *StreamParser) Write(chunk []byte) []Record {
	p.buf = append(p.buf, chunk...)

	var out []Record
	lineStart := 0
	for i := p.scanOff; i < len(p.buf); i++ {
		switch p.buf[i] {
		case '"':
			p.inQuotes = !p.inQuotes
		case '\n':
			if p.inQuotes {
				continue
			}
			if rec := p.consumeLine(p.buf[lineStart:i]); rec != nil {
				out = append(out, rec)
			}
			lineStart = i + 1
		}
	}
	p.buf = p.buf[lineStart:]
	p.scanOff = len(p.buf)
	return out
}

// Flush parses the buffered trailing fragment, if any. A final line without
// a terminating newline is still a data line and is parsed, not discarded.
func (p *StreamParser) Flush() Record {
	if len(p.buf) == 0 {
		return nil
	}
	line := p.buf
	p.buf = nil
	p.scanOff = 0
	p.inQuotes = false
	return p.consumeLine(line)
}

// consumeLine handles one logical line: the first non-empty line becomes the
// header, later lines become records. Returns nil for header and blank lines.
func (p *StreamParser) consumeLine(line []byte) Record {
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	if len(line) == 0 {
		return nil
	}
	fields := SplitFields(string(line), rune(p.sep))
	if p.headers == nil {
		p.headers = fields
		return nil
	}
	rec := make(Record, len(p.headers))
	for i, h := range p.headers {
		if i < len(fields) {
			rec[h] = fields[i]
		} else {
			rec[h] = ""
		}
	}
	return rec
}

// Parse is the synchronous whole-body variant: it returns the header fields
// and one record per data line.
func Parse(data string, sep rune) ([]string, []Record) {
	p := NewStreamParser(sep)
	rows := p.Write([]byte(data))
	if rec := p.Flush(); rec != nil {
		rows = append(rows, rec)
	}
	return p.Headers(), rows
}

// SplitFields splits a single logical line into fields. Quoted fields may
// contain the separator, embedded newlines, and "" as a literal quote. A
// stray quote mid-field is kept as-is (best effort).
func SplitFields(line string, sep rune) []string {
	s := byte(sep)
	var fields []string
	var cur []byte
	inQuotes := false

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			if inQuotes && i+1 < len(line) && line[i+1] == '"' {
				cur = append(cur, '"')
				i++
				continue
			}
			if inQuotes {
				inQuotes = false
			} else if len(cur) == 0 {
				inQuotes = true
			} else {
				// quote in the middle of an unquoted field
				cur = append(cur, '"')
			}
		case c == s && !inQuotes:
			fields = append(fields, string(cur))
			cur = cur[:0]
		default:
			cur = append(cur, c)
		}
	}
	fields = append(fields, string(cur))
	return fields
}
