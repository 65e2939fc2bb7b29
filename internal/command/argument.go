package command

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/weblate/distributor/internal/domain"
)

// ArgumentType parses one token into a value and formats the value back.
// Format(Parse(tok)) must parse to an equal value.
type ArgumentType interface {
	// Name describes the expected input, e.g. "integer".
	Name() string
	Parse(sender domain.Audience, token string) (any, error)
	Format(value any) string
}

// Argument is one positional parameter of a command.
type Argument struct {
	Name        string
	Type        ArgumentType
	Description string
	// Optional arguments bind Default when absent. A nil Default leaves the
	// argument unbound.
	Optional bool
	Default  any
	// Variadic consumes every remaining token; the bound value is []any.
	Variadic bool
}

func (a Argument) usage() string {
	name := a.Name
	if a.Variadic {
		name += "..."
	}
	if a.Optional {
		return "[" + name + "]"
	}
	return "<" + name + ">"
}

type stringType struct{}

// String accepts any token.
func String() ArgumentType { return stringType{} }

func (stringType) Name() string { return "string" }

func (stringType) Parse(_ domain.Audience, token string) (any, error) { return token, nil }

func (stringType) Format(v any) string { return fmt.Sprint(v) }

// IntType parses base-10 integers within optional bounds.
type IntType struct {
	Min, Max *int
}

// Int accepts any int.
func Int() ArgumentType { return IntType{} }

// IntRange accepts ints in [min, max].
func IntRange(min, max int) ArgumentType { return IntType{Min: &min, Max: &max} }

func (t IntType) Name() string {
	switch {
	case t.Min != nil && t.Max != nil:
		return fmt.Sprintf("integer between %d and %d", *t.Min, *t.Max)
	case t.Min != nil:
		return fmt.Sprintf("integer >= %d", *t.Min)
	case t.Max != nil:
		return fmt.Sprintf("integer <= %d", *t.Max)
	}
	return "integer"
}

func (t IntType) Parse(_ domain.Audience, token string) (any, error) {
	n, err := strconv.Atoi(token)
	if err != nil {
		return nil, errors.New("not an integer")
	}
	if t.Min != nil && n < *t.Min {
		return nil, fmt.Errorf("%d is below %d", n, *t.Min)
	}
	if t.Max != nil && n > *t.Max {
		return nil, fmt.Errorf("%d is above %d", n, *t.Max)
	}
	return n, nil
}

func (IntType) Format(v any) string { return strconv.Itoa(v.(int)) }

type floatType struct{}

// Float accepts finite decimal numbers.
func Float() ArgumentType { return floatType{} }

func (floatType) Name() string { return "number" }

func (floatType) Parse(_ domain.Audience, token string) (any, error) {
	f, err := strconv.ParseFloat(token, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, errors.New("not a finite number")
	}
	return f, nil
}

func (floatType) Format(v any) string { return strconv.FormatFloat(v.(float64), 'g', -1, 64) }

type boolType struct{}

// Bool accepts true/false, yes/no and on/off.
func Bool() ArgumentType { return boolType{} }

func (boolType) Name() string { return "boolean" }

func (boolType) Parse(_ domain.Audience, token string) (any, error) {
	switch strings.ToLower(token) {
	case "true", "yes", "on":
		return true, nil
	case "false", "no", "off":
		return false, nil
	}
	return nil, errors.New("not a boolean")
}

func (boolType) Format(v any) string { return strconv.FormatBool(v.(bool)) }

type durationType struct{}

// Duration accepts Go duration strings such as 90s or 1h30m.
func Duration() ArgumentType { return durationType{} }

func (durationType) Name() string { return "duration" }

func (durationType) Parse(_ domain.Audience, token string) (any, error) {
	d, err := time.ParseDuration(token)
	if err != nil {
		return nil, errors.New("not a duration")
	}
	return d, nil
}

func (durationType) Format(v any) string { return v.(time.Duration).String() }

type enumType struct {
	values []string
}

// Enum accepts one of values, case-insensitively, and binds the canonical
// spelling.
func Enum(values ...string) ArgumentType {
	return enumType{values: append([]string(nil), values...)}
}

func (t enumType) Name() string { return "one of " + strings.Join(t.values, "|") }

func (t enumType) Parse(_ domain.Audience, token string) (any, error) {
	for _, v := range t.values {
		if strings.EqualFold(v, token) {
			return v, nil
		}
	}
	return nil, errors.New("not an accepted value")
}

func (enumType) Format(v any) string { return v.(string) }

// CustomType adapts a pair of functions to ArgumentType.
type CustomType struct {
	Label     string
	ParseFunc func(sender domain.Audience, token string) (any, error)
	// FormatFunc defaults to fmt.Sprint.
	FormatFunc func(value any) string
}

// Custom builds an ArgumentType from functions.
func Custom(label string, parse func(domain.Audience, string) (any, error), format func(any) string) ArgumentType {
	return CustomType{Label: label, ParseFunc: parse, FormatFunc: format}
}

func (t CustomType) Name() string { return t.Label }

func (t CustomType) Parse(sender domain.Audience, token string) (any, error) {
	return t.ParseFunc(sender, token)
}

func (t CustomType) Format(v any) string {
	if t.FormatFunc == nil {
		return fmt.Sprint(v)
	}
	return t.FormatFunc(v)
}
