package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect names accepted in Config.
const (
	SQLite   = "sqlite"
	Postgres = "postgres"
)

type dialect struct {
	name     string
	driver   string
	numbered bool
}

func dialectFor(name string) (dialect, error) {
	switch name {
	case SQLite, "":
		return dialect{name: SQLite, driver: "sqlite"}, nil
	case Postgres, "postgresql", "pgx":
		return dialect{name: Postgres, driver: "pgx", numbered: true}, nil
	}
	return dialect{}, fmt.Errorf("sqlstore: unknown dialect %q", name)
}

// rebind turns ? placeholders into $n for dialects that number them.
// Queries in this package never contain a literal question mark.
func (d dialect) rebind(q string) string {
	if !d.numbered {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
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

// placeholders returns n comma separated placeholders.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
