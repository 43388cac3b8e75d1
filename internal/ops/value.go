package ops

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"

	"hft/internal/schema"
	"hft/pkg/exception"
)

var (
	priceScale = decimal.NewFromInt(schema.PriceScale)
	maxInt64   = decimal.NewFromInt(math.MaxInt64)
	minInt64   = decimal.NewFromInt(math.MinInt64)
)

// Decimal is a decimal literal kept as text until it is scaled. JSON accepts
// both "0.01" and 0.01; the bare number is read from its source text, never
// through float64.
type Decimal string

func (d *Decimal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*d = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*d = Decimal(s)
		return nil
	}
	*d = Decimal(data)
	return nil
}

// IsZero reports whether the value was left empty.
func (d Decimal) IsZero() bool { return strings.TrimSpace(string(d)) == "" }

// Value parses d. An empty value is zero.
func (d Decimal) Value() (decimal.Decimal, error) {
	if d.IsZero() {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(strings.TrimSpace(string(d)))
	if err != nil {
		return decimal.Zero, errors.Wrapf(exception.ErrConfigMalformed, "decimal %q", string(d))
	}
	return v, nil
}

// Scaled converts d into PriceScale units. Values with more precision than
// the scale holds, or that overflow int64, are rejected.
func (d Decimal) Scaled() (int64, error) {
	v, err := d.Value()
	if err != nil {
		return 0, err
	}
	return scale(v, string(d))
}

func scale(v decimal.Decimal, text string) (int64, error) {
	s := v.Mul(priceScale)
	if !s.Equal(s.Truncate(0)) {
		return 0, errors.Wrapf(exception.ErrConfigInvalidValue, "%q has more than %d decimal places", text, scaleDigits())
	}
	if s.GreaterThan(maxInt64) || s.LessThan(minInt64) {
		return 0, errors.Wrapf(exception.ErrConfigInvalidValue, "%q overflows", text)
	}
	return s.IntPart(), nil
}

func scaleDigits() int {
	n := 0
	for v := schema.PriceScale; v > 1; v /= 10 {
		n++
	}
	return n
}

// Duration is a time.Duration written as a Go duration string. JSON also
// accepts a bare integer of nanoseconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*d = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return d.parse(s)
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return errors.Wrapf(exception.ErrConfigMalformed, "duration %s", data)
	}
	*d = Duration(n)
	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return errors.Wrapf(exception.ErrConfigMalformed, "duration at line %d is not a scalar", node.Line)
	}
	if n, err := strconv.ParseInt(node.Value, 10, 64); err == nil {
		*d = Duration(n)
		return nil
	}
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(exception.ErrConfigMalformed, "duration %q", s)
	}
	if v < 0 {
		return errors.Wrapf(exception.ErrConfigInvalidValue, "duration %q is negative", s)
	}
	*d = Duration(v)
	return nil
}
