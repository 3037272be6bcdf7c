package credstore

import (
	"strconv"
	"strings"
)

// Dialect selects the `?`-placeholder rebinding SQLStore's queries need for
// a given database/sql driver. sqlite and mysql-style drivers accept `?`
// natively; postgres (lib/pq) requires positional `$1, $2, ...`.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// rebind rewrites every `?` placeholder in query into the form d expects.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
