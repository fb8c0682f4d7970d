package sqlselect

import "fmt"

// SyntaxError describes a SELECT statement that cannot be analyzed.
type SyntaxError struct {
	Offset int // byte offset into the statement, -1 if unknown
	Msg    string
}

func (e *SyntaxError) Error() string {
	if e == nil {
		return ""
	}
	if e.Offset >= 0 {
		return fmt.Sprintf("sql: offset %d: %s", e.Offset, e.Msg)
	}
	return "sql: " + e.Msg
}
