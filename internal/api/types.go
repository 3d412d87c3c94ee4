package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Transaction types accepted by the inventory endpoint
const (
	TransactionIn     = "IN"
	TransactionOut    = "OUT"
	TransactionAdjust = "ADJ"
)

// Decimal is a quantity the backend sends either as a JSON number or as a
// decimal string ("2.50"). It keeps the textual form to avoid rounding.
type Decimal string

// UnmarshalJSON accepts numbers, strings and null
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
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decimal: %w", err)
	}
	*d = Decimal(n.String())
	return nil
}

// Float returns the numeric value, or 0 if empty or malformed
func (d Decimal) Float() float64 {
	f, err := strconv.ParseFloat(string(d), 64)
	if err != nil {
		return 0
	}
	return f
}
