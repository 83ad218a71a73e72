// Package payload defines the sensor telemetry record published by the
// shmpub commands.
package payload

import (
	_ "embed"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

//go:embed sample.json
var sampleJSON []byte

// Number is a decimal reading encoded as a bare JSON number.
type Number struct {
	decimal.Decimal
}

// NewNumber parses s into a Number.
func NewNumber(s string) (Number, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Number{}, err
	}
	return Number{Decimal: d}, nil
}

// MustNumber is NewNumber for literals.
func MustNumber(s string) Number {
	n, err := NewNumber(s)
	if err != nil {
		panic(err)
	}
	return n
}

// MarshalJSON implements json.Marshaler.
func (n Number) MarshalJSON() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalJSON accepts quoted and unquoted numbers.
func (n *Number) UnmarshalJSON(data []byte) error {
	return n.Decimal.UnmarshalJSON(data)
}

// Records holds parallel series of readings, one entry per timestamp.
type Records struct {
	Timestamps     []string `json:"timestamps"`
	Illuminance    []Number `json:"illuminance"`
	Occupancy      []bool   `json:"occupancy"`
	Temperature    []Number `json:"temperature"`
	Humidity       []Number `json:"humidity"`
	Pressure       []Number `json:"pressure"`
	Windspeed      []Number `json:"windspeed"`
	Winddirection  []string `json:"winddirection"`
	OutPressure    []Number `json:"out_pressure"`
	OutHumidity    []Number `json:"out_humidity"`
	OutTemperature []Number `json:"out_temperature"`
	Precipitation  []Number `json:"precipitation"`
}

// Telemetry is one house's batch of readings.
type Telemetry struct {
	House   string  `json:"house"`
	Records Records `json:"records"`
}

// Sample returns the fixed record the commands publish.
func Sample() (Telemetry, error) {
	var t Telemetry
	if err := json.Unmarshal(sampleJSON, &t); err != nil {
		return Telemetry{}, fmt.Errorf("decode sample payload: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Telemetry{}, err
	}
	return t, nil
}

// Len returns the number of readings per series.
func (t Telemetry) Len() int { return len(t.Records.Timestamps) }

// Validate checks that every series has one entry per timestamp.
func (t Telemetry) Validate() error {
	if t.House == "" {
		return fmt.Errorf("telemetry: house is required")
	}
	r := t.Records
	want := len(r.Timestamps)
	lengths := []struct {
		name string
		n    int
	}{
		{"illuminance", len(r.Illuminance)},
		{"occupancy", len(r.Occupancy)},
		{"temperature", len(r.Temperature)},
		{"humidity", len(r.Humidity)},
		{"pressure", len(r.Pressure)},
		{"windspeed", len(r.Windspeed)},
		{"winddirection", len(r.Winddirection)},
		{"out_pressure", len(r.OutPressure)},
		{"out_humidity", len(r.OutHumidity)},
		{"out_temperature", len(r.OutTemperature)},
		{"precipitation", len(r.Precipitation)},
	}
	for _, l := range lengths {
		if l.n != want {
			return fmt.Errorf("telemetry: %s has %d readings, expected %d", l.name, l.n, want)
		}
	}
	return nil
}
