// Package api is the device's JSON-RPC surface: the signal catalog, the
// start/stop commands and the values notification.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/OpenPSG/edf"

	"github.com/openpsg/pressure-sensor/internal/sampler"
)

// TransducerType names the sensing element.
type TransducerType string

const MEMSPressureTransducer TransducerType = "MEMS Pressure Transducer"

// Unit is a physical unit.
type Unit string

const (
	Hertz     Unit = "Hz"
	Kilohertz Unit = "kHz"
	Pascal    Unit = "Pa"
)

// FilterKind is the token used for a filter in a FilterList.
type FilterKind string

const (
	HighPass FilterKind = "HP"
	LowPass  FilterKind = "LP"
	Notch    FilterKind = "N"
)

// Filter describes one prefiltering stage.
type Filter struct {
	Kind      FilterKind
	Unit      Unit
	Frequency float32
}

func (f Filter) String() string {
	return fmt.Sprintf("%s:%.2f%s", f.Kind, f.Frequency, f.Unit)
}

// FilterList encodes as a space separated token string such as
// "HP:0.10Hz N:4.00Hz".
type FilterList struct {
	Filters []Filter
}

var errFilterFormat = errors.New("api: invalid filter")

var frequencyRe = regexp.MustCompile(`^(\d+\.\d+|\d+)(Hz|kHz)$`)

// ParseFilterList parses the token form written by String.
func ParseFilterList(s string) (FilterList, error) {
	var fl FilterList
	for _, part := range strings.Fields(s) {
		kind, freq, ok := strings.Cut(part, ":")
		if !ok || kind == "" {
			return FilterList{}, fmt.Errorf("%w: %q", errFilterFormat, part)
		}
		m := frequencyRe.FindStringSubmatch(freq)
		if m == nil {
			return FilterList{}, fmt.Errorf("%w: frequency %q", errFilterFormat, freq)
		}
		f, err := strconv.ParseFloat(m[1], 32)
		if err != nil {
			return FilterList{}, fmt.Errorf("%w: %w", errFilterFormat, err)
		}
		fl.Filters = append(fl.Filters, Filter{
			Kind:      FilterKind(kind),
			Unit:      Unit(m[2]),
			Frequency: float32(f),
		})
	}
	return fl, nil
}

func (fl FilterList) String() string {
	parts := make([]string, len(fl.Filters))
	for i, f := range fl.Filters {
		parts[i] = f.String()
	}
	return strings.Join(parts, " ")
}

// MarshalJSON implements json.Marshaler.
func (fl FilterList) MarshalJSON() ([]byte, error) {
	return json.Marshal(fl.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (fl *FilterList) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseFilterList(s)
	if err != nil {
		return err
	}
	*fl = parsed
	return nil
}

// Signal is a catalog entry.
type Signal struct {
	ID             uint32         `json:"id"`
	Name           string         `json:"name"`
	TransducerType TransducerType `json:"transducerType"`
	Unit           Unit           `json:"unit"`
	Min            float32        `json:"min"`
	Max            float32        `json:"max"`
	Prefiltering   FilterList     `json:"prefiltering"`
	SampleRate     uint32         `json:"sampleRate"`
}

// NasalPressure is the only signal this device produces.
var NasalPressure = Signal{
	ID:             sampler.SignalID,
	Name:           "Nasal Pressure",
	TransducerType: MEMSPressureTransducer,
	Unit:           Pascal,
	Min:            -sampler.ClampPa,
	Max:            sampler.ClampPa,
	Prefiltering: FilterList{Filters: []Filter{
		{Kind: HighPass, Unit: Hertz, Frequency: 0.1},
		{Kind: Notch, Unit: Hertz, Frequency: 4.0},
	}},
	SampleRate: sampler.SamplesPerSecond,
}

// Catalog returns every signal the device offers.
func Catalog() []Signal {
	return []Signal{NasalPressure}
}

// EDF describes s as an EDF signal whose data records last recordDuration.
// Samples map one to one onto the EDF digital range.
func (s Signal) EDF(recordDuration time.Duration) edf.Signal {
	return edf.Signal{
		Label:             s.Name,
		TransducerType:    string(s.TransducerType),
		PhysicalDimension: string(s.Unit),
		PhysicalMin:       float64(s.Min),
		PhysicalMax:       float64(s.Max),
		DigitalMin:        math.MinInt16,
		DigitalMax:        math.MaxInt16,
		Prefiltering:      s.Prefiltering.String(),
		SamplesPerRecord:  int(float64(s.SampleRate) * recordDuration.Seconds()),
	}
}

// EDFSignals describes the whole catalog as EDF signal headers.
func EDFSignals(recordDuration time.Duration) []edf.Signal {
	catalog := Catalog()
	out := make([]edf.Signal, len(catalog))
	for i, s := range catalog {
		out[i] = s.EDF(recordDuration)
	}
	return out
}
