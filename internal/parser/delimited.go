package parser

import (
	"bytes"
	"strings"

	"github.com/ksred/tradejournal-api/internal/normalize"
	"github.com/ksred/tradejournal-api/internal/types"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseDelimited reads a broker export with a header row. Tab-delimited text is
// treated as comma-delimited. Rows naming neither a ticket nor a symbol are
// dropped without being reported.
func ParseDelimited(data []byte) ([]types.RawTradeRecord, error) {
	text := string(bytes.TrimPrefix(data, utf8BOM))
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")

	headerAt := -1
	for i, line := range lines {
		if strings.TrimSpace(line) != "" {
			headerAt = i
			break
		}
	}
	if headerAt < 0 {
		return nil, types.ValidationError("File is empty")
	}

	if strings.Contains(lines[headerAt], "\t") {
		for i := range lines {
			lines[i] = tabsToCommas(lines[i])
		}
	}

	header := SplitLine(lines[headerAt])
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}

	var records []types.RawTradeRecord
	for i := headerAt + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}

		values := SplitLine(lines[i])
		fields := make(map[string]string, len(header))
		for col, key := range header {
			if key == "" || col >= len(values) {
				continue
			}
			// Some exports repeat a header; the first column keeps the name
			if _, dup := fields[key]; dup {
				continue
			}
			fields[key] = strings.TrimSpace(values[col])
		}

		if !normalize.Identifies(fields) {
			continue
		}
		records = append(records, types.RawTradeRecord{Index: i + 1, Fields: fields})
	}

	return records, nil
}

// SplitLine splits one comma-delimited line. A double quote toggles quoting
// for the characters that follow, so commas inside quotes stay in the field.
// Inside quotes a doubled quote yields one literal quote.
func SplitLine(line string) []string {
	var (
		fields  []string
		field   strings.Builder
		inQuote bool
	)

	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case ch == '"' && inQuote && i+1 < len(line) && line[i+1] == '"':
			field.WriteByte('"')
			i++
		case ch == '"':
			inQuote = !inQuote
		case ch == ',' && !inQuote:
			fields = append(fields, field.String())
			field.Reset()
		default:
			field.WriteByte(ch)
		}
	}

	return append(fields, field.String())
}

// tabsToCommas turns tab delimiters into commas, leaving tabs inside quoted
// fields as they are
func tabsToCommas(line string) string {
	if !strings.Contains(line, "\t") {
		return line
	}

	out := []byte(line)
	inQuote := false
	for i := 0; i < len(out); i++ {
		switch {
		case out[i] == '"':
			inQuote = !inQuote
		case out[i] == '\t' && !inQuote:
			out[i] = ','
		}
	}
	return string(out)
}
