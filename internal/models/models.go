package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Coordinates represents a geographic point
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (c Coordinates) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// Location is one end of a search: unset, free text awaiting geocoding, or resolved coordinates.
// A Location never carries text and coordinates at the same time.
type Location struct {
	text   string
	coords *Coordinates
}

// TextLocation returns a location that still needs to be resolved
func TextLocation(address string) Location {
	address = strings.TrimSpace(address)
	if address == "" {
		return Location{}
	}
	return Location{text: address}
}

// PointLocation returns a resolved location
func PointLocation(c Coordinates) Location {
	return Location{coords: &c}
}

// IsNull reports whether the location is unset
func (l Location) IsNull() bool {
	return l.coords == nil && l.text == ""
}

// IsResolved reports whether the location holds coordinates
func (l Location) IsResolved() bool {
	return l.coords != nil
}

// Text returns the unresolved address text, or "" for null and resolved locations
func (l Location) Text() string {
	return l.text
}

// Coords returns the resolved coordinates
func (l Location) Coords() (Coordinates, bool) {
	if l.coords == nil {
		return Coordinates{}, false
	}
	return *l.coords, true
}

// Equal compares two locations by value
func (l Location) Equal(o Location) bool {
	if l.text != o.text {
		return false
	}
	if l.coords == nil || o.coords == nil {
		return l.coords == nil && o.coords == nil
	}
	return *l.coords == *o.coords
}

func (l Location) MarshalJSON() ([]byte, error) {
	switch {
	case l.coords != nil:
		return json.Marshal(l.coords)
	case l.text != "":
		return json.Marshal(l.text)
	default:
		return []byte("null"), nil
	}
}

func (l *Location) UnmarshalJSON(data []byte) error {
	*l = Location{}
	if string(data) == "null" {
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*l = TextLocation(text)
		return nil
	}
	var c Coordinates
	if err := json.Unmarshal(data, &c); err != nil {
		return fmt.Errorf("location must be null, a string or {lat, lon}: %w", err)
	}
	*l = PointLocation(c)
	return nil
}

// TimeOption controls how the departure timestamp is interpreted
type TimeOption string

const (
	TimeOptionDeparture TimeOption = "DEPARTURE"
	TimeOptionArrival   TimeOption = "ARRIVAL"
	TimeOptionRange     TimeOption = "RANGE"
)

// Valid reports whether t is a known time option
func (t TimeOption) Valid() bool {
	switch t {
	case TimeOptionDeparture, TimeOptionArrival, TimeOptionRange:
		return true
	}
	return false
}

// SearchState is the full set of routing parameters owned by the controller
type SearchState struct {
	From               Location      `json:"from"`
	To                 Location      `json:"to"`
	DepartureDateTime  time.Time     `json:"departure_date_time"`
	TimeOption         TimeOption    `json:"time_option"`
	AccessProfile      string        `json:"access_profile"`
	EgressProfile      string        `json:"egress_profile"`
	BetaAccessTime     float64       `json:"beta_access_time"`
	BetaEgressTime     float64       `json:"beta_egress_time"`
	RangeQuery         bool          `json:"range_query"`
	RangeQueryDuration time.Duration `json:"range_query_duration"`
	LimitStreetTime    time.Duration `json:"limit_street_time"`
	IgnoreTransfers    bool          `json:"ignore_transfers"`
}

// DefaultSearchState returns the state a fresh page starts from
func DefaultSearchState(now time.Time) SearchState {
	return SearchState{
		DepartureDateTime:  now.UTC().Truncate(time.Second),
		TimeOption:         TimeOptionDeparture,
		AccessProfile:      "foot",
		EgressProfile:      "foot",
		BetaAccessTime:     1.0,
		BetaEgressTime:     1.0,
		RangeQuery:         false,
		RangeQueryDuration: 120 * time.Minute,
		LimitStreetTime:    30 * time.Minute,
		IgnoreTransfers:    false,
	}
}

// Normalize applies the cross-field rules: a range time option implies a range query,
// and timestamps are kept in UTC at second precision.
func (s *SearchState) Normalize() {
	if s.TimeOption == TimeOptionRange {
		s.RangeQuery = true
	}
	if !s.TimeOption.Valid() {
		s.TimeOption = TimeOptionDeparture
	}
	s.DepartureDateTime = s.DepartureDateTime.UTC().Truncate(time.Second)
}

// Resolved reports whether both ends hold coordinates
func (s SearchState) Resolved() bool {
	return s.From.IsResolved() && s.To.IsResolved()
}

// Leg is one segment of an itinerary
type Leg struct {
	Type              string    `json:"type"`
	DepartureLocation string    `json:"departure_location,omitempty"`
	DepartureTime     time.Time `json:"departure_time"`
	ArrivalTime       time.Time `json:"arrival_time"`
	Distance          float64   `json:"distance"`
	FeedID            string    `json:"feed_id,omitempty"`
	TripHeadsign      string    `json:"trip_headsign,omitempty"`
	RouteID           string    `json:"route_id,omitempty"`
	TripID            string    `json:"trip_id,omitempty"`
	IsInSameVehicle   bool      `json:"is_in_same_vehicle_as_previous,omitempty"`
}

// Path is a single itinerary candidate returned by the routing service
type Path struct {
	Distance   float64 `json:"distance"`
	TimeMillis int64   `json:"time"`
	Transfers  int     `json:"transfers"`
	Fare       string  `json:"fare,omitempty"`
	Legs       []Leg   `json:"legs"`
	IsPossible bool    `json:"is_possible"`
	IsSelected bool    `json:"is_selected"`
}

// Duration returns the total travel time
func (p Path) Duration() time.Duration {
	return time.Duration(p.TimeMillis) * time.Millisecond
}

// DepartureTime returns the departure of the first leg
func (p Path) DepartureTime() time.Time {
	if len(p.Legs) == 0 {
		return time.Time{}
	}
	return p.Legs[0].DepartureTime
}

// ArrivalTime returns the arrival of the last leg
func (p Path) ArrivalTime() time.Time {
	if len(p.Legs) == 0 {
		return time.Time{}
	}
	return p.Legs[len(p.Legs)-1].ArrivalTime
}

// Clone returns a deep copy of the path
func (p Path) Clone() Path {
	if p.Legs != nil {
		legs := make([]Leg, len(p.Legs))
		copy(legs, p.Legs)
		p.Legs = legs
	}
	return p
}

// RouteResult is the state of the latest routing attempt
type RouteResult struct {
	Query              string `json:"query"`
	IsFetching         bool   `json:"is_fetching"`
	Paths              []Path `json:"paths,omitempty"`
	IsLastQuerySuccess *bool  `json:"is_last_query_success,omitempty"`
	SelectedRouteIndex int    `json:"selected_route_index"`
}

// Clone returns a deep copy of the result
func (r RouteResult) Clone() RouteResult {
	if r.Paths != nil {
		paths := make([]Path, len(r.Paths))
		for i := range r.Paths {
			paths[i] = r.Paths[i].Clone()
		}
		r.Paths = paths
	}
	if r.IsLastQuerySuccess != nil {
		ok := *r.IsLastQuerySuccess
		r.IsLastQuerySuccess = &ok
	}
	return r
}

// Info is the capability descriptor served by the routing service at /info.
// BBox is required; unknown fields are kept in Extras.
type Info struct {
	BBox       []float64                  `json:"bbox"`
	Version    string                     `json:"version,omitempty"`
	BuildDate  string                     `json:"build_date,omitempty"`
	ImportDate string                     `json:"import_date,omitempty"`
	DataDate   string                     `json:"data_date,omitempty"`
	Profiles   []InfoProfile              `json:"profiles,omitempty"`
	Extras     map[string]json.RawMessage `json:"-"`
}

// InfoProfile is a routing profile advertised by /info
type InfoProfile struct {
	Name    string `json:"name"`
	Vehicle string `json:"vehicle,omitempty"`
}

var infoKnownFields = map[string]bool{
	"bbox": true, "version": true, "build_date": true, "import_date": true, "data_date": true, "profiles": true,
}

func (i *Info) UnmarshalJSON(data []byte) error {
	type plain Info
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if infoKnownFields[k] {
			continue
		}
		if p.Extras == nil {
			p.Extras = make(map[string]json.RawMessage)
		}
		p.Extras[k] = v
	}
	*i = Info(p)
	return nil
}

// Validate checks the required fields
func (i *Info) Validate() error {
	if len(i.BBox) != 4 {
		return fmt.Errorf("info: bbox must have 4 values, got %d", len(i.BBox))
	}
	return nil
}

// Clone returns a deep copy of the descriptor
func (i *Info) Clone() *Info {
	if i == nil {
		return nil
	}
	c := *i
	c.BBox = append([]float64(nil), i.BBox...)
	c.Profiles = append([]InfoProfile(nil), i.Profiles...)
	if i.Extras != nil {
		c.Extras = make(map[string]json.RawMessage, len(i.Extras))
		for k, v := range i.Extras {
			c.Extras[k] = v
		}
	}
	return &c
}
