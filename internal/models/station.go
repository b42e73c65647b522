// Package models defines the core domain entities for luftonline.
// These models represent monitoring stations, the substances they measure,
// query periods, and the outcome of each export attempt.
//
// Terminology (matching the portal's own naming):
//   - Station: a monitoring site listed in the station dropdown.
//   - Substance: a pollutant measured at one station ("Schadstoff").
//   - Accuracy: the averaging interval an export is produced with ("Mittelwertzeit").
package models

import (
	"errors"
	"fmt"
)

// Accuracy tokens as posted to the averaging dropdown.
const (
	AccuracyHourly  = "45; 3600"
	AccuracyDaily   = "21; 86400"
	AccuracyMonthly = "177; 1"
)

// PreferredAccuracies lists accuracy tokens from finest to coarsest.
var PreferredAccuracies = []string{
	AccuracyHourly,
	AccuracyDaily,
	AccuracyMonthly,
}

// SelectAccuracy returns the finest preferred token present in options.
// The order of options does not matter. ok is false when none of the
// preferred tokens is offered.
func SelectAccuracy(options []string) (token string, ok bool) {
	available := make(map[string]bool, len(options))
	for _, opt := range options {
		available[opt] = true
	}
	for _, pref := range PreferredAccuracies {
		if available[pref] {
			return pref, true
		}
	}
	return "", false
}

// AccuracyName returns a human readable label for an accuracy token.
func AccuracyName(token string) string {
	switch token {
	case AccuracyHourly:
		return "hourly"
	case AccuracyDaily:
		return "daily"
	case AccuracyMonthly:
		return "monthly"
	case "":
		return "unset"
	default:
		return fmt.Sprintf("unknown(%s)", token)
	}
}

// Station represents a monitoring station offered by the portal.
// Substances are rebuilt every time the station is selected, since the
// dependent dropdown is the only source of truth for them.
type Station struct {
	ID         string       `json:"id"`   // Portal-assigned option value
	Name       string       `json:"name"` // Option text, used for file names
	Substances []*Substance `json:"substances"`
}

// Substance represents a pollutant measured at one station.
type Substance struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Station  *Station `json:"-"`
	Accuracy string   `json:"accuracy,omitempty"` // Empty until negotiated
}

// Validate checks that the station fields are valid.
func (s *Station) Validate() error {
	if s.ID == "" {
		return errors.New("station ID must not be empty")
	}
	if s.Name == "" {
		return errors.New("station name must not be empty")
	}
	return nil
}

// ResetSubstances drops all known substances of the station.
func (s *Station) ResetSubstances() {
	for _, sub := range s.Substances {
		sub.Station = nil
	}
	s.Substances = nil
}

// AddSubstance appends a substance and links it back to the station.
func (s *Station) AddSubstance(id, name string) *Substance {
	sub := &Substance{ID: id, Name: name, Station: s}
	s.Substances = append(s.Substances, sub)
	return sub
}

// Validate checks that the substance fields are valid.
func (s *Substance) Validate() error {
	if s.ID == "" {
		return errors.New("substance ID must not be empty")
	}
	if s.Name == "" {
		return errors.New("substance name must not be empty")
	}
	if s.Station == nil {
		return errors.New("substance must belong to a station")
	}
	return nil
}

// String returns "station/substance" for log messages.
func (s *Substance) String() string {
	station := "?"
	if s.Station != nil {
		station = s.Station.Name
	}
	return station + "/" + s.Name
}
