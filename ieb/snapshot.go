package ieb

import (
	"slices"
	"time"

	"github.com/arloliu/go-ieb/transport"
)

// StatusSnapshot is a point-in-time copy of every channel and device group.
// It is never modified after it is returned.
type StatusSnapshot struct {
	Time       time.Time
	Connection transport.ConnState
	Channels   map[string]ChannelState
	Groups     map[string]GroupStatus
}

// Channel returns the state of the named channel.
func (s *StatusSnapshot) Channel(name string) (ChannelState, bool) {
	st, ok := s.Channels[name]
	return st, ok
}

// Group returns the status of the named device group.
func (s *StatusSnapshot) Group(name string) (GroupStatus, bool) {
	g, ok := s.Groups[name]
	return g, ok
}

// StatusReport is the serializable form of a StatusSnapshot.
type StatusReport struct {
	Time       time.Time     `json:"time" msgpack:"time"`
	Connection string        `json:"connection" msgpack:"connection"`
	Channels   []Reading     `json:"channels" msgpack:"channels"`
	Groups     []GroupReport `json:"groups" msgpack:"groups"`
}

// Report converts s into its serializable form with channels and groups sorted by name.
func (s *StatusSnapshot) Report() StatusReport {
	r := StatusReport{
		Time:       s.Time,
		Connection: s.Connection.String(),
		Channels:   readings(s.Channels),
		Groups:     make([]GroupReport, 0, len(s.Groups)),
	}
	for _, name := range sortedKeys(s.Groups) {
		r.Groups = append(r.Groups, s.Groups[name].Report())
	}

	return r
}

// EnvSnapshot holds the analog environment readings produced by WAGOEnv.
type EnvSnapshot struct {
	Time     time.Time
	Readings map[string]ChannelState
}

// Fresh returns the names of the channels read successfully, sorted.
func (e *EnvSnapshot) Fresh() []string {
	var names []string
	for _, name := range sortedKeys(e.Readings) {
		if !e.Readings[name].Stale {
			names = append(names, name)
		}
	}
	return names
}

// Stale returns the names of the channels that could not be read, sorted.
func (e *EnvSnapshot) Stale() []string {
	var names []string
	for _, name := range sortedKeys(e.Readings) {
		if e.Readings[name].Stale {
			names = append(names, name)
		}
	}
	return names
}

// EnvReport is the serializable form of an EnvSnapshot.
type EnvReport struct {
	Time     time.Time `json:"time" msgpack:"time"`
	Readings []Reading `json:"readings" msgpack:"readings"`
}

// Report converts e into its serializable form.
func (e *EnvSnapshot) Report() EnvReport {
	return EnvReport{Time: e.Time, Readings: readings(e.Readings)}
}

func readings(states map[string]ChannelState) []Reading {
	out := make([]Reading, 0, len(states))
	for _, name := range sortedKeys(states) {
		out = append(out, states[name].Reading())
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	return keys
}
