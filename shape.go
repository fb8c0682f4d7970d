package datatables

import (
	"bytes"
	"encoding/json"

	"github.com/gnemet/datatables/builder"
)

// Formatter renders the value of one field. row is the full result row.
type Formatter func(value interface{}, row builder.Row) interface{}

// ColumnFunc computes an extra output column from a result row.
type ColumnFunc func(row builder.Row) interface{}

// Response is the DataTables JSON envelope.
type Response struct {
	Draw            int           `json:"draw"`
	RecordsTotal    int64         `json:"recordsTotal"`
	RecordsFiltered int64         `json:"recordsFiltered"`
	Data            []interface{} `json:"data"`
}

// OutputRow is an object-mode row. It marshals its keys in insertion order.
type OutputRow struct {
	keys   []string
	values map[string]interface{}
}

func newOutputRow(size int) *OutputRow {
	return &OutputRow{
		keys:   make([]string, 0, size),
		values: make(map[string]interface{}, size),
	}
}

// Set stores v under key. Re-setting a key keeps its original position.
func (r *OutputRow) Set(key string, v interface{}) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

func (r *OutputRow) Get(key string) (interface{}, bool) {
	v, ok := r.values[key]
	return v, ok
}

func (r *OutputRow) Keys() []string {
	return append([]string(nil), r.keys...)
}

// Values returns the values in key order.
func (r *OutputRow) Values() []interface{} {
	out := make([]interface{}, len(r.keys))
	for i, k := range r.keys {
		out[i] = r.values[k]
	}
	return out
}

func (r *OutputRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// shape converts result rows into output rows. Each row gets its own
// container.
func (dt *DataTables) shape(rows []builder.Row, fields []string, start int) []interface{} {
	data := make([]interface{}, 0, len(rows))
	seq := start + 1

	for _, res := range rows {
		row := newOutputRow(len(fields) + len(dt.extraKeys) + 1)

		if dt.sequence {
			row.Set(dt.sequenceKey, seq)
			seq++
		}

		for _, field := range fields {
			v := res[field]
			if f, ok := dt.formatters[field]; ok {
				v = f(v, res)
			}
			row.Set(field, v)
		}

		for _, key := range dt.extraKeys {
			row.Set(key, dt.extras[key](res))
		}

		if dt.asObject {
			data = append(data, row)
		} else {
			data = append(data, row.Values())
		}
	}
	return data
}
