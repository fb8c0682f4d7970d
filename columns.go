package datatables

import (
	"strconv"
)

// returnedFields applies Only or Except to the field list. Only wins when
// both are set.
func returnedFields(fields, only, except []string) []string {
	switch {
	case len(only) > 0:
		known := make(map[string]bool, len(fields))
		for _, f := range fields {
			known[f] = true
		}
		out := []string{}
		for _, f := range only {
			if known[f] {
				out = append(out, f)
				// duplicates in only are returned once
				known[f] = false
			}
		}
		return out
	case len(except) > 0:
		skip := make(map[string]bool, len(except))
		for _, f := range except {
			skip[f] = true
		}
		out := []string{}
		for _, f := range fields {
			if !skip[f] {
				out = append(out, f)
			}
		}
		return out
	default:
		return append([]string(nil), fields...)
	}
}

// dedupe drops repeated names, keeping the first occurrence.
func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// resolveColumn maps a request column to the SQL expression to filter or
// sort by. ok is false for the sequence number slot, extra columns and
// anything the query does not know about.
func (dt *DataTables) resolveColumn(c Column) (expr string, ok bool) {
	var field string

	if dt.asObject {
		field = c.Data
		if field == "" || (dt.sequence && field == dt.sequenceKey) {
			return "", false
		}
		if _, extra := dt.extras[field]; extra {
			return "", false
		}
		if !dt.known[field] {
			if _, aliased := dt.aliases.Lookup(field); !aliased {
				return "", false
			}
		}
	} else {
		idx, err := strconv.Atoi(c.Data)
		if err != nil {
			return "", false
		}
		if dt.sequence {
			if idx == 0 {
				return "", false
			}
			idx--
		}
		// slots past the returned fields hold extra columns
		if idx < 0 || idx >= len(dt.returned) {
			return "", false
		}
		field = dt.returned[idx]
	}

	return dt.aliases.Resolve(field), true
}
