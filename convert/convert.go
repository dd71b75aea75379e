// Package convert turns dblp records into table rows.
package convert

import "errors"

// Skip marks a record that does not belong into a table. It is a filter,
// not a failure.
type Skip struct {
	err error
}

func (s Skip) Error() string {
	return s.err.Error()
}

var (
	ErrSkipNoKey = Skip{err: errors.New("no key")}
	ErrSkipYear  = Skip{err: errors.New("year is not an integer")}
)

// IsSkip reports whether err is a Skip.
func IsSkip(err error) bool {
	var s Skip
	return errors.As(err, &s)
}

// Row is a single line of output, one value per column.
type Row []string
