package models

import (
	"bytes"
	"encoding/json"
	"math"

	"github.com/shopspring/decimal"
)

// Snapshot fields come in two categories with different roll-up rules:
//
//   Amount   - money in the snapshot currency. Converted to the target currency and summed.
//   Weighted - a return, ratio or weight. Averaged across accounts weighted by market value.
//
// Facets expose both categories through AdditiveFields and WeightedFields so the roll-up
// never needs per-field logic.

// Amount is an additive money field.
type Amount struct {
	decimal.Decimal
}

// AmountOf wraps a decimal as an Amount.
func AmountOf(d decimal.Decimal) Amount {
	return Amount{Decimal: d}
}

// ZeroAmount is the additive identity.
var ZeroAmount = Amount{Decimal: decimal.Zero}

// Weighted is a nullable float metric. An invalid Weighted serializes as JSON null
// and is distinct from a computed zero.
type Weighted struct {
	Value  float64
	Valid  bool
	Reason NullReason
}

// Value wraps a computed metric. NaN and infinities are never surfaced; they become null.
func Value(v float64) Weighted {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Weighted{Reason: NullUndefined}
	}
	return Weighted{Value: v, Valid: true}
}

// Null returns an undefined metric with a reason.
func Null(reason NullReason) Weighted {
	return Weighted{Reason: reason}
}

// Ptr returns the value as a pointer, nil when undefined.
func (w Weighted) Ptr() *float64 {
	if !w.Valid {
		return nil
	}
	v := w.Value
	return &v
}

func (w Weighted) MarshalJSON() ([]byte, error) {
	if !w.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(w.Value)
}

func (w *Weighted) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*w = Weighted{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*w = Weighted{Value: v, Valid: true}
	return nil
}

// NamedAmount addresses one additive field of a facet.
type NamedAmount struct {
	Name  string
	Field *Amount
}

// NamedWeighted addresses one weighted field of a facet.
type NamedWeighted struct {
	Name  string
	Field *Weighted
}

// NullReasons collects the reasons of every undefined field, keyed by field name.
func NullReasons(fields []NamedWeighted) map[string]NullReason {
	out := make(map[string]NullReason)
	for _, f := range fields {
		if !f.Field.Valid {
			reason := f.Field.Reason
			if reason == "" {
				reason = NullUndefined
			}
			out[f.Name] = reason
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
