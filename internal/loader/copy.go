package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Row is one NormalizedRow: column values in table order. Values are nil,
// string, int64, bool, float64, time.Time or json.RawMessage.
type Row []any

const copyTimeLayout = "2006-01-02 15:04:05.999999Z07:00"

var copyEscaper = strings.NewReplacer(
	`\`, `\\`,
	"\t", `\t`,
	"\n", `\n`,
	"\r", `\r`,
)

// EncodeRow appends the row in PostgreSQL text COPY format: tab separated,
// backslash escaped, NULL as an empty field, newline terminated.
func EncodeRow(buf *bytes.Buffer, row Row) {
	for i, v := range row {
		if i > 0 {
			buf.WriteByte('\t')
		}
		encodeValue(buf, v)
	}
	buf.WriteByte('\n')
}

func encodeValue(buf *bytes.Buffer, v any) {
	switch x := v.(type) {
	case nil:
	case string:
		buf.WriteString(copyEscaper.Replace(x))
	case int64:
		buf.WriteString(strconv.FormatInt(x, 10))
	case int:
		buf.WriteString(strconv.Itoa(x))
	case bool:
		if x {
			buf.WriteByte('t')
		} else {
			buf.WriteByte('f')
		}
	case float64:
		buf.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
	case time.Time:
		buf.WriteString(x.UTC().Format(copyTimeLayout))
	case json.RawMessage:
		buf.WriteString(copyEscaper.Replace(string(x)))
	default:
		buf.WriteString(copyEscaper.Replace(fmt.Sprint(x)))
	}
}

func copySQL(table string, columns []string) string {
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = pgx.Identifier{c}.Sanitize()
	}
	return fmt.Sprintf("COPY %s (%s) FROM STDIN WITH (FORMAT text, NULL '')",
		QuoteTable(table), strings.Join(cols, ", "))
}

// QuoteTable quotes a possibly schema-qualified table name.
func QuoteTable(table string) string {
	return pgx.Identifier(strings.Split(table, ".")).Sanitize()
}

// compactJSON marshals v without HTML escaping so stored JSON matches the
// JSON lines byte for byte.
func compactJSON(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
