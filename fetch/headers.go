package fetch

import (
	"strings"

	"github.com/wippyai/edgecache/errors"
)

// HeaderSource is the header surface shared by requests and responses.
type HeaderSource interface {
	Names() ([]string, error)
	// Values returns nil with no error when the header is absent.
	Values(name string) ([]string, error)
	Insert(name, value string) error
	Append(name, value string) error
	Remove(name string) error
}

// HeaderEntry is one name/value pair.
type HeaderEntry struct {
	Name  string
	Value string
}

// Entries lists every header value in name order, one entry per value.
func Entries(src HeaderSource) ([]HeaderEntry, error) {
	names, err := src.Names()
	if err != nil {
		return nil, err
	}
	var out []HeaderEntry
	for _, name := range names {
		values, err := src.Values(name)
		if err != nil {
			return nil, err
		}
		for _, v := range values {
			out = append(out, HeaderEntry{Name: name, Value: v})
		}
	}
	return out, nil
}

// Get returns all values of a header joined with ", ", and whether the
// header was present.
func Get(src HeaderSource, name string) (string, bool, error) {
	values, err := src.Values(name)
	if err != nil || len(values) == 0 {
		return "", false, err
	}
	var b strings.Builder
	for i, v := range values {
		b.WriteString(v)
		if i < len(values)-1 {
			b.WriteString(", ")
		}
	}
	return b.String(), true, nil
}

// Set replaces a header with a single value.
func Set(src HeaderSource, name, value string) error {
	if err := validHeaderName(name); err != nil {
		return err
	}
	return src.Insert(name, value)
}

func validHeaderName(name string) error {
	if name == "" {
		return errors.InvalidInput("name", "header name is empty")
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= ' ' || c >= 0x7f || c == ':' {
			return errors.New(errors.PhaseValidate, errors.KindInvalidInput).
				Path("name").
				Value(name).
				Detail("invalid character %q in header name", c).
				Build()
		}
	}
	return nil
}

// optionalValues folds optional_none into an absent header.
func optionalValues(values []string, err error) ([]string, error) {
	if errors.IsOptionalNone(err) {
		return nil, nil
	}
	return values, err
}
