package datatables

import (
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// MaxColumns bounds the column indexes accepted from a request.
const MaxColumns = 1000

// Column is one client-declared column slot.
type Column struct {
	// Data is the column's data key: the slot index in array mode, the
	// field name in object mode.
	Data        string
	Name        string
	Searchable  bool
	Orderable   bool
	SearchValue string
}

// Order is one requested sort entry.
type Order struct {
	Column int
	Dir    string
}

// Request captures the DataTables server-side processing parameters.
type Request struct {
	Draw int
	// Start and Length are only meaningful when HasStart and HasLength are
	// set. Length -1 requests all rows.
	Start     int
	HasStart  bool
	Length    int
	HasLength bool
	Search    string
	Columns   []Column
	Order     []Order
}

// ParseHTTPRequest reads the grid parameters from the query string and, for
// POST requests, the form body.
func ParseHTTPRequest(r *http.Request) (*Request, error) {
	if err := r.ParseForm(); err != nil {
		return nil, &RequestError{Param: "body", Err: err}
	}
	return ParseRequest(r.Form)
}

// ParseRequest decodes grid parameters. Both the bracket encoding sent by
// jQuery (columns[0][search][value]) and the dotted one
// (columns[0].search.value) are accepted.
func ParseRequest(v url.Values) (*Request, error) {
	req := &Request{}
	columns := map[int]*Column{}
	orders := map[int]*Order{}

	for rawKey, values := range v {
		if len(values) == 0 {
			continue
		}
		value := values[0]
		blank := strings.TrimSpace(value) == ""
		path := splitKey(rawKey)

		switch path[0] {
		case "draw":
			if blank {
				continue
			}
			n, err := parseInt(rawKey, value)
			if err != nil {
				return nil, err
			}
			req.Draw = n
		case "start":
			if blank {
				continue
			}
			n, err := parseInt(rawKey, value)
			if err != nil {
				return nil, err
			}
			if n < 0 {
				return nil, &RequestError{Param: rawKey, Value: value, Err: errors.New("must not be negative")}
			}
			req.Start, req.HasStart = n, true
		case "length":
			if blank {
				continue
			}
			n, err := parseInt(rawKey, value)
			if err != nil {
				return nil, err
			}
			if n < -1 {
				return nil, &RequestError{Param: rawKey, Value: value, Err: errors.New("must be -1 or more")}
			}
			req.Length, req.HasLength = n, true
		case "search":
			if len(path) == 2 && path[1] == "value" {
				req.Search = value
			}
		case "columns":
			if len(path) < 3 {
				continue
			}
			idx, err := parseIndex(rawKey, path[1])
			if err != nil {
				return nil, err
			}
			c := columns[idx]
			if c == nil {
				c = &Column{}
				columns[idx] = c
			}
			switch strings.Join(path[2:], ".") {
			case "data":
				c.Data = value
			case "name":
				c.Name = value
			case "searchable":
				c.Searchable = parseBool(value)
			case "orderable":
				c.Orderable = parseBool(value)
			case "search.value":
				c.SearchValue = value
			}
		case "order":
			if len(path) != 3 {
				continue
			}
			idx, err := parseIndex(rawKey, path[1])
			if err != nil {
				return nil, err
			}
			o := orders[idx]
			if o == nil {
				o = &Order{Column: -1}
				orders[idx] = o
			}
			switch path[2] {
			case "column":
				n, err := parseInt(rawKey, value)
				if err != nil {
					return nil, err
				}
				o.Column = n
			case "dir":
				o.Dir = value
			}
		}
	}

	if len(columns) > 0 {
		req.Columns = make([]Column, maxKey(columns)+1)
		for i, c := range columns {
			req.Columns[i] = *c
		}
	}
	for _, i := range sortedKeys(orders) {
		if o := orders[i]; o.Column >= 0 {
			req.Order = append(req.Order, *o)
		}
	}
	return req, nil
}

// splitKey turns columns[0][search][value] and columns[0].search.value
// into [columns 0 search value].
func splitKey(key string) []string {
	key = strings.NewReplacer("][", ".", "[", ".", "]", "").Replace(key)
	return strings.Split(key, ".")
}

func parseInt(param, value string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, &RequestError{Param: param, Value: value, Err: errors.New("not an integer")}
	}
	return n, nil
}

func parseIndex(param, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n >= MaxColumns {
		return 0, &RequestError{Param: param, Value: s, Err: errors.New("index out of range")}
	}
	return n, nil
}

// parseBool accepts 1, true, on and yes, case-insensitively.
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

func maxKey[V any](m map[int]V) int {
	top := -1
	for k := range m {
		if k > top {
			top = k
		}
	}
	return top
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
