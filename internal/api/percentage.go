package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var errBadPercentage = errors.New("percentage must be a number, a string like \"25%\", or \"OFF\"")

// Percentage is the relative amount in a control request. Clients send it as a number,
// as "25" or "25%", or as "OFF" for no movement.
type Percentage struct {
	Value float64
	Off   bool
}

func (p *Percentage) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*p = Percentage{Off: true}
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*p = Percentage{Value: n}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errBadPercentage
	}
	parsed, err := ParsePercentage(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func (p Percentage) MarshalJSON() ([]byte, error) {
	if p.Off {
		return json.Marshal("OFF")
	}
	return json.Marshal(FormatPercent(p.Value))
}

func ParsePercentage(s string) (Percentage, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "off") {
		return Percentage{Off: true}, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "%")), 64)
	if err != nil {
		return Percentage{}, fmt.Errorf("%w: %q", errBadPercentage, s)
	}
	return Percentage{Value: v}, nil
}

// FormatPercent renders a stored percentage the way the status endpoint reports it.
func FormatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "%"
}
