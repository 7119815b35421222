package sessions

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidField = errors.New("invalid session field")

// Aggregation says how a field's total is rebuilt when its series is narrowed.
type Aggregation int

const (
	AggregateSum Aggregation = iota
	AggregateMean
	// AggregateUnchanged keeps the original total: distinct counts cannot be
	// narrowed without the underlying sets.
	AggregateUnchanged
)

func (a Aggregation) String() string {
	switch a {
	case AggregateMean:
		return "mean"
	case AggregateUnchanged:
		return "unchanged"
	default:
		return "sum"
	}
}

type FieldSpec struct {
	Name        Field
	Aggregation Aggregation
}

type Fields []FieldSpec

func ClassifyField(field Field) Aggregation {
	function, _, _ := strings.Cut(string(field), "(")
	switch {
	case strings.HasPrefix(function, "p50"):
		return AggregateMean
	case strings.HasPrefix(function, "count_unique"):
		return AggregateUnchanged
	default:
		return AggregateSum
	}
}

// ParseFields validates requested field names and classifies each one once.
// Duplicates are dropped, first occurrence wins.
func ParseFields(names []string) (Fields, error) {
	fields := make(Fields, 0, len(names))
	seen := make(map[Field]struct{}, len(names))
	for _, name := range names {
		trimmed := strings.TrimSpace(name)
		if !validFieldName(trimmed) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidField, name)
		}

		field := Field(trimmed)
		if _, exists := seen[field]; exists {
			continue
		}
		seen[field] = struct{}{}
		fields = append(fields, FieldSpec{Name: field, Aggregation: ClassifyField(field)})
	}
	return fields, nil
}

func MustParseFields(names ...string) Fields {
	fields, err := ParseFields(names)
	if err != nil {
		panic(err)
	}
	return fields
}

func (f Fields) Aggregation(field Field) Aggregation {
	for _, spec := range f {
		if spec.Name == field {
			return spec.Aggregation
		}
	}
	return AggregateSum
}

func (f Fields) Names() []Field {
	names := make([]Field, 0, len(f))
	for _, spec := range f {
		names = append(names, spec.Name)
	}
	return names
}

func (f Fields) Has(field Field) bool {
	for _, spec := range f {
		if spec.Name == field {
			return true
		}
	}
	return false
}

// validFieldName accepts function(argument) with a non-empty function and argument.
func validFieldName(name string) bool {
	open := strings.IndexByte(name, '(')
	if open <= 0 || !strings.HasSuffix(name, ")") {
		return false
	}
	argument := name[open+1 : len(name)-1]
	return argument != "" && !strings.ContainsAny(argument, "()")
}
