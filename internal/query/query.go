// Package query converts search state to and from its canonical URL form.
// The same encoding is used for the routing request and for the shareable app URL.
package query

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"transit-planner/internal/models"
)

// Parameter names understood by the routing service
const (
	ParamPoint           = "point"
	ParamDepartureTime   = "pt.earliest_departure_time"
	ParamArriveBy        = "pt.arrive_by"
	ParamProfileQuery    = "pt.profile"
	ParamProfileDuration = "pt.profile_duration"
	ParamAccessProfile   = "pt.access_profile"
	ParamEgressProfile   = "pt.egress_profile"
	ParamBetaAccessTime  = "pt.beta_access_time"
	ParamBetaEgressTime  = "pt.beta_egress_time"
	ParamLimitStreetTime = "pt.limit_street_time"
	ParamIgnoreTransfers = "pt.ignore_transfers"
	ParamLocale          = "locale"
	ParamTimeOption      = "time_option"
)

// Locale sent with every query
const Locale = "en-US"

// Encode serializes state onto base, replacing any query parameters base carries.
// Output is byte-identical for semantically identical states.
func Encode(state models.SearchState, base *url.URL) string {
	u := url.URL{}
	if base != nil {
		u = *base
	}
	u.RawQuery = Values(state).Encode()
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// Values returns the flat parameter set for state
func Values(state models.SearchState) url.Values {
	v := url.Values{}
	v.Add(ParamPoint, encodeLocation(state.From))
	v.Add(ParamPoint, encodeLocation(state.To))

	v.Set(ParamDepartureTime, state.DepartureDateTime.UTC().Format(time.RFC3339))
	v.Set(ParamTimeOption, string(state.TimeOption))
	v.Set(ParamArriveBy, strconv.FormatBool(state.TimeOption == models.TimeOptionArrival))
	v.Set(ParamProfileQuery, strconv.FormatBool(state.RangeQuery))
	v.Set(ParamProfileDuration, FormatISODuration(state.RangeQueryDuration))
	v.Set(ParamAccessProfile, state.AccessProfile)
	v.Set(ParamEgressProfile, state.EgressProfile)
	v.Set(ParamBetaAccessTime, strconv.FormatFloat(state.BetaAccessTime, 'g', -1, 64))
	v.Set(ParamBetaEgressTime, strconv.FormatFloat(state.BetaEgressTime, 'g', -1, 64))
	v.Set(ParamLimitStreetTime, FormatISODuration(state.LimitStreetTime))
	v.Set(ParamIgnoreTransfers, strconv.FormatBool(state.IgnoreTransfers))
	v.Set(ParamLocale, Locale)
	return v
}

// Decode restores a search state from URL parameters. Every absent or malformed
// field keeps the value from defaults; Decode never fails.
func Decode(params url.Values, defaults models.SearchState) models.SearchState {
	s := defaults

	points := params[ParamPoint]
	if len(points) > 0 {
		s.From = ParseLocation(points[0])
	}
	if len(points) > 1 {
		s.To = ParseLocation(points[1])
	}

	if raw := params.Get(ParamDepartureTime); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			s.DepartureDateTime = t.UTC().Truncate(time.Second)
		}
	}

	if b, ok := parseBool(params, ParamProfileQuery); ok {
		s.RangeQuery = b
	}
	// links produced by other clients carry only pt.arrive_by
	if opt := models.TimeOption(params.Get(ParamTimeOption)); opt.Valid() {
		s.TimeOption = opt
	} else if arriveBy, ok := parseBool(params, ParamArriveBy); ok {
		if arriveBy {
			s.TimeOption = models.TimeOptionArrival
		} else {
			s.TimeOption = models.TimeOptionDeparture
		}
	}

	if d, err := ParseISODuration(params.Get(ParamProfileDuration)); err == nil {
		s.RangeQueryDuration = d
	}
	if d, err := ParseISODuration(params.Get(ParamLimitStreetTime)); err == nil {
		s.LimitStreetTime = d
	}
	if p := params.Get(ParamAccessProfile); p != "" {
		s.AccessProfile = p
	}
	if p := params.Get(ParamEgressProfile); p != "" {
		s.EgressProfile = p
	}
	if f, ok := parseFloat(params, ParamBetaAccessTime); ok {
		s.BetaAccessTime = f
	}
	if f, ok := parseFloat(params, ParamBetaEgressTime); ok {
		s.BetaEgressTime = f
	}
	if b, ok := parseBool(params, ParamIgnoreTransfers); ok {
		s.IgnoreTransfers = b
	}
	return s
}

// DecodeURL parses raw and decodes its query string
func DecodeURL(raw string, defaults models.SearchState) models.SearchState {
	u, err := url.Parse(raw)
	if err != nil {
		return defaults
	}
	return Decode(u.Query(), defaults)
}

func encodeLocation(l models.Location) string {
	if c, ok := l.Coords(); ok {
		return strconv.FormatFloat(c.Lat, 'g', -1, 64) + "," + strconv.FormatFloat(c.Lon, 'g', -1, 64)
	}
	return l.Text()
}

// ParseLocation reads "lat,lon" as coordinates and anything else as address text.
// Out-of-range coordinates are kept as text.
func ParseLocation(raw string) models.Location {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.Location{}
	}
	if latStr, lonStr, ok := strings.Cut(raw, ","); ok {
		lat, errLat := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
		lon, errLon := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
		if errLat == nil && errLon == nil && validLatLon(lat, lon) {
			return models.PointLocation(models.Coordinates{Lat: lat, Lon: lon})
		}
	}
	return models.TextLocation(raw)
}

func validLatLon(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func parseBool(params url.Values, key string) (bool, bool) {
	raw := params.Get(key)
	if raw == "" {
		return false, false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return b, true
}

func parseFloat(params url.Values, key string) (float64, bool) {
	raw := params.Get(key)
	if raw == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
