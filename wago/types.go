package wago

import (
	"fmt"
	"strings"
	"time"
)

// SensorKind selects the conversion applied to a sensor register.
type SensorKind uint8

// Sensor kinds.
const (
	// SensorUnknown is the zero SensorKind and never valid in a sensor table.
	SensorUnknown SensorKind = iota
	// SensorRTD is a Pt RTD channel of a 750-461 module.
	SensorRTD
	// SensorHumidity is the humidity half of a humidity/temperature sensor.
	SensorHumidity
	// SensorTemperature is the temperature half of a humidity/temperature sensor.
	SensorTemperature
)

func (k SensorKind) String() string {
	switch k {
	case SensorRTD:
		return "rtd"
	case SensorHumidity:
		return "humidity"
	case SensorTemperature:
		return "temperature"
	default:
		return "unknown"
	}
}

// ParseSensorKind parses the names returned by SensorKind.String.
func ParseSensorKind(s string) (SensorKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rtd":
		return SensorRTD, nil
	case "humidity", "rh":
		return SensorHumidity, nil
	case "temperature", "temp":
		return SensorTemperature, nil
	}
	return SensorUnknown, fmt.Errorf("wago: unknown sensor kind %q", s)
}

// Unit returns the unit of converted values.
func (k SensorKind) Unit() string {
	if k == SensorHumidity {
		return "%"
	}
	return "C"
}

func (k SensorKind) convert(raw uint16) float64 {
	switch k {
	case SensorRTD:
		return RTDToCelsius(raw)
	case SensorHumidity:
		return HumidityFromRaw(raw)
	default:
		return TemperatureFromRaw(raw)
	}
}

// Sensor maps a named sensor onto a holding register.
type Sensor struct {
	Name     string
	Kind     SensorKind
	Register uint16
}

// Relay maps a named power relay onto a digital output.
type Relay struct {
	Name string
	Coil uint16
	// Inverted relays power their device while the output is off.
	Inverted bool
}

// Reading is one converted sensor value.
type Reading struct {
	Name  string    `json:"name" msgpack:"name"`
	Kind  string    `json:"kind" msgpack:"kind"`
	Value float64   `json:"value" msgpack:"value"`
	Unit  string    `json:"unit" msgpack:"unit"`
	Raw   uint16    `json:"raw" msgpack:"raw"`
	Time  time.Time `json:"time" msgpack:"time"`
}

// RelayState is the power state of a relay. On is the device power, Output the coil.
type RelayState struct {
	Name   string `json:"name" msgpack:"name"`
	On     bool   `json:"on" msgpack:"on"`
	Output bool   `json:"output" msgpack:"output"`
}

// DefaultSensors returns the sensor layout of the IEB: three
// humidity/temperature sensors on registers 0-5 and four RTDs on registers 8-11.
func DefaultSensors() []Sensor {
	sensors := make([]Sensor, 0, 10)
	for i := range 3 {
		sensors = append(sensors,
			Sensor{Name: fmt.Sprintf("rh%d", i+1), Kind: SensorHumidity, Register: uint16(2 * i)},
			Sensor{Name: fmt.Sprintf("t%d", i+1), Kind: SensorTemperature, Register: uint16(2*i + 1)},
		)
	}
	for i := range 4 {
		sensors = append(sensors, Sensor{Name: fmt.Sprintf("rtd%d", i+1), Kind: SensorRTD, Register: uint16(8 + i)})
	}
	return sensors
}

// DefaultRelays returns the relay layout of the IEB 8DO module.
func DefaultRelays() []Relay {
	return []Relay{
		{Name: "shutter_power", Coil: 0, Inverted: true},
		{Name: "hartmann_left_power", Coil: 2},
		{Name: "hartmann_right_power", Coil: 3},
	}
}
