package store

import (
	"fmt"
	"strings"
)

const selectColumns = `SELECT id, date_recorded, name, region, latitude, longitude, temperature FROM weather_records`

// placeholder renders the n-th (1-based) bind parameter for a SQL dialect.
type placeholder func(n int) string

func questionMark(int) string { return "?" }

func dollar(n int) string { return fmt.Sprintf("$%d", n) }

// whereClause renders f as a WHERE clause. dateArg converts a range bound to
// the driver's date representation. Returns "" and no args for an empty filter.
func whereClause(f Filter, ph placeholder, dateArg func(DateRange) (any, any)) (string, []any) {
	var conds []string
	var args []any
	if f.Range != nil {
		start, end := dateArg(*f.Range)
		args = append(args, start, end)
		conds = append(conds, fmt.Sprintf("date_recorded BETWEEN %s AND %s", ph(len(args)-1), ph(len(args))))
	}
	if f.Coords != nil {
		args = append(args, f.Coords.Latitude, f.Coords.Longitude)
		conds = append(conds, fmt.Sprintf("latitude = %s AND longitude = %s", ph(len(args)-1), ph(len(args))))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
