package strava

import (
	"encoding/json"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Activity represents a Strava activity summary from the API
type Activity struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	Distance           float64   `json:"distance"`
	MovingTime         int       `json:"moving_time"`
	ElapsedTime        int       `json:"elapsed_time"`
	TotalElevationGain float64   `json:"total_elevation_gain"`
	Type               string    `json:"type"`
	SportType          string    `json:"sport_type"`
	StartDate          time.Time `json:"start_date"`
	StartDateLocal     time.Time `json:"start_date_local"`
	Timezone           string    `json:"timezone"`
	AverageSpeed       float64   `json:"average_speed"`
	MaxSpeed           float64   `json:"max_speed"`
	AverageCadence     float64   `json:"average_cadence,omitempty"`
	AverageHeartrate   float64   `json:"average_heartrate,omitempty"`
	MaxHeartrate       float64   `json:"max_heartrate,omitempty"`
	Kilojoules         float64   `json:"kilojoules,omitempty"`
	Calories           float64   `json:"calories,omitempty"`
	Description        string    `json:"description,omitempty"`
	Commute            bool      `json:"commute"`
	Trainer            bool      `json:"trainer"`
	KudosCount         int       `json:"kudos_count"`
	AchievementCount   int       `json:"achievement_count"`

	// extra holds upstream keys not interpreted here, such as map or gear_id
	extra map[string]json.RawMessage
}

// activityFields has Activity's layout without its JSON methods
type activityFields Activity

// activityKeys are the JSON names of Activity's typed fields
var activityKeys = func() []string {
	t := reflect.TypeOf(activityFields{})
	keys := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			keys = append(keys, name)
		}
	}
	return keys
}()

// UnmarshalJSON decodes the typed fields and keeps every other key verbatim
func (a *Activity) UnmarshalJSON(data []byte) error {
	var fields activityFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range activityKeys {
		delete(raw, k)
	}

	*a = Activity(fields)
	if len(raw) > 0 {
		a.extra = raw
	}
	return nil
}

// MarshalJSON writes the typed fields merged over the passthrough keys
func (a Activity) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(activityFields(a))
	if err != nil || len(a.extra) == 0 {
		return known, err
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range a.extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// Extra returns the raw value of an upstream key that has no typed field
func (a *Activity) Extra(key string) (json.RawMessage, bool) {
	v, ok := a.extra[key]
	return v, ok
}

// Athlete is the authenticated athlete's profile
type Athlete struct {
	ID                    int64     `json:"id"`
	Username              string    `json:"username"`
	Firstname             string    `json:"firstname"`
	Lastname              string    `json:"lastname"`
	City                  string    `json:"city"`
	State                 string    `json:"state"`
	Country               string    `json:"country"`
	Sex                   string    `json:"sex"`
	Premium               bool      `json:"premium"`
	CreatedAt             time.Time `json:"created_at"`
	MeasurementPreference string    `json:"measurement_preference"`
}

// ActivityTotal is one rollup inside AthleteStats
type ActivityTotal struct {
	Count            int     `json:"count"`
	Distance         float64 `json:"distance"`
	MovingTime       int     `json:"moving_time"`
	ElapsedTime      int     `json:"elapsed_time"`
	ElevationGain    float64 `json:"elevation_gain"`
	AchievementCount int     `json:"achievement_count"`
}

// AthleteStats mirrors the athletes/{id}/stats response
type AthleteStats struct {
	BiggestRideDistance       float64       `json:"biggest_ride_distance"`
	BiggestClimbElevationGain float64       `json:"biggest_climb_elevation_gain"`
	RecentRideTotals          ActivityTotal `json:"recent_ride_totals"`
	RecentRunTotals           ActivityTotal `json:"recent_run_totals"`
	RecentSwimTotals          ActivityTotal `json:"recent_swim_totals"`
	YTDRideTotals             ActivityTotal `json:"ytd_ride_totals"`
	YTDRunTotals              ActivityTotal `json:"ytd_run_totals"`
	YTDSwimTotals             ActivityTotal `json:"ytd_swim_totals"`
	AllRideTotals             ActivityTotal `json:"all_ride_totals"`
	AllRunTotals              ActivityTotal `json:"all_run_totals"`
	AllSwimTotals             ActivityTotal `json:"all_swim_totals"`
}

// ListParams are the query parameters of athlete/activities.
// Before and After are Unix timestamps; zero means unset.
type ListParams struct {
	Page    int
	PerPage int
	Before  int64
	After   int64
}

func (p ListParams) values() url.Values {
	v := url.Values{}
	if p.Page > 0 {
		v.Set("page", strconv.Itoa(p.Page))
	}
	if p.PerPage > 0 {
		v.Set("per_page", strconv.Itoa(min(p.PerPage, MaxPerPage)))
	}
	if p.Before > 0 {
		v.Set("before", strconv.FormatInt(p.Before, 10))
	}
	if p.After > 0 {
		v.Set("after", strconv.FormatInt(p.After, 10))
	}
	return v
}
