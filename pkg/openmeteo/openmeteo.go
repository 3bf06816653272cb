package openmeteo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	ErrGeocoding = errors.New("open-meteo geocoding failed")
	ErrArchive   = errors.New("open-meteo archive failed")
	ErrNotFound  = errors.New("open-meteo location not found")
)

const (
	minArchiveYear       = 1940
	dailyArchiveFields   = "temperature_2m_max,temperature_2m_min,precipitation_sum,windspeed_10m_max"
	maxResponseSizeBytes = 4 << 20
)

type Config struct {
	WeatherURL string        `split_words:"true" default:"https://archive-api.open-meteo.com/v1"`
	GeoURL     string        `split_words:"true" default:"https://geocoding-api.open-meteo.com/v1"`
	Timeout    time.Duration `split_words:"true" default:"20s"`
}

type Location struct {
	Name      string  `json:"name"`
	Country   string  `json:"country"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timezone  string  `json:"timezone,omitempty"`
}

// MonthSummary aggregates one calendar month of daily archive values.
// Aggregates are nil when the archive has no value for any day.
type MonthSummary struct {
	City          string   `json:"city"`
	Country       string   `json:"country"`
	Year          int      `json:"year"`
	Month         int      `json:"month"`
	DaysCount     int      `json:"days_count"`
	AvgTempMaxC   *float64 `json:"avg_temp_max_c"`
	AvgTempMinC   *float64 `json:"avg_temp_min_c"`
	TotalPrecipMM *float64 `json:"total_precip_mm"`
	AvgWindMaxKmh *float64 `json:"avg_wind_max_kmh"`
}

type Client struct {
	weatherURL string
	geoURL     string
	httpClient *http.Client
	now        func() time.Time
}

func NewClient(cfg Config) (*Client, error) {
	weatherURL := strings.TrimRight(strings.TrimSpace(cfg.WeatherURL), "/")
	geoURL := strings.TrimRight(strings.TrimSpace(cfg.GeoURL), "/")
	if weatherURL == "" || geoURL == "" {
		return nil, errors.New("open-meteo weather and geo urls are required")
	}
	for _, raw := range []string{weatherURL, geoURL} {
		if _, err := url.ParseRequestURI(raw); err != nil {
			return nil, fmt.Errorf("invalid open-meteo url: %w", err)
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	return &Client{
		weatherURL: weatherURL,
		geoURL:     geoURL,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}, nil
}

func MustNew(cfg Config) *Client {
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

// GeocodeCity resolves city to its best matching location.
func (c *Client) GeocodeCity(ctx context.Context, city string) (Location, error) {
	name := strings.TrimSpace(city)
	if name == "" {
		return Location{}, fmt.Errorf("%w: city must be a non-empty string", ErrGeocoding)
	}

	var payload struct {
		Results []struct {
			Name      string   `json:"name"`
			Country   string   `json:"country"`
			Latitude  *float64 `json:"latitude"`
			Longitude *float64 `json:"longitude"`
			Timezone  string   `json:"timezone"`
		} `json:"results"`
	}
	query := url.Values{
		"name":     {name},
		"count":    {"1"},
		"language": {"en"},
		"format":   {"json"},
	}
	if err := c.getJSON(ctx, c.geoURL+"/search", query, ErrGeocoding, &payload); err != nil {
		return Location{}, err
	}
	if len(payload.Results) == 0 {
		return Location{}, fmt.Errorf("%w: no geocoding result for city %q", ErrNotFound, name)
	}

	first := payload.Results[0]
	if first.Latitude == nil || first.Longitude == nil {
		return Location{}, fmt.Errorf("%w: malformed geocoding result", ErrGeocoding)
	}
	loc := Location{
		Name:      first.Name,
		Country:   first.Country,
		Latitude:  *first.Latitude,
		Longitude: *first.Longitude,
		Timezone:  first.Timezone,
	}
	if loc.Name == "" {
		loc.Name = name
	}
	return loc, nil
}

// HistoricalMonth geocodes city and summarises the archive for year/month.
func (c *Client) HistoricalMonth(ctx context.Context, city string, year, month int) (MonthSummary, error) {
	name := strings.TrimSpace(city)
	if name == "" {
		return MonthSummary{}, fmt.Errorf("%w: city must be a non-empty string", ErrArchive)
	}
	if month < 1 || month > 12 {
		return MonthSummary{}, fmt.Errorf("%w: month must be between 1 and 12", ErrArchive)
	}
	currentYear := c.now().UTC().Year()
	if year < minArchiveYear || year > currentYear {
		return MonthSummary{}, fmt.Errorf("%w: year must be between %d and %d", ErrArchive, minArchiveYear, currentYear)
	}

	loc, err := c.GeocodeCity(ctx, name)
	if err != nil {
		return MonthSummary{}, err
	}

	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, -1)

	var payload struct {
		Daily *struct {
			Time    []string   `json:"time"`
			TempMax []*float64 `json:"temperature_2m_max"`
			TempMin []*float64 `json:"temperature_2m_min"`
			Precip  []*float64 `json:"precipitation_sum"`
			WindMax []*float64 `json:"windspeed_10m_max"`
		} `json:"daily"`
	}
	query := url.Values{
		"latitude":   {strconv.FormatFloat(loc.Latitude, 'f', -1, 64)},
		"longitude":  {strconv.FormatFloat(loc.Longitude, 'f', -1, 64)},
		"start_date": {start.Format(time.DateOnly)},
		"end_date":   {end.Format(time.DateOnly)},
		"daily":      {dailyArchiveFields},
		"timezone":   {"auto"},
	}
	if err := c.getJSON(ctx, c.weatherURL+"/archive", query, ErrArchive, &payload); err != nil {
		return MonthSummary{}, err
	}
	if payload.Daily == nil {
		return MonthSummary{}, fmt.Errorf("%w: missing daily object", ErrArchive)
	}

	d := payload.Daily
	n := len(d.Time)
	if len(d.TempMax) != n || len(d.TempMin) != n || len(d.Precip) != n || len(d.WindMax) != n {
		return MonthSummary{}, fmt.Errorf("%w: daily array lengths do not match", ErrArchive)
	}

	return MonthSummary{
		City:          loc.Name,
		Country:       loc.Country,
		Year:          year,
		Month:         month,
		DaysCount:     n,
		AvgTempMaxC:   average(d.TempMax),
		AvgTempMinC:   average(d.TempMin),
		TotalPrecipMM: total(d.Precip),
		AvgWindMaxKmh: average(d.WindMax),
	}, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values, kind error, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", kind, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", kind, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", kind, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body := string(raw)
		if len(body) > 500 {
			body = body[:500]
		}
		return fmt.Errorf("%w: status=%d body=%s", kind, resp.StatusCode, body)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", kind, err)
	}
	return nil
}

func average(values []*float64) *float64 {
	sum, n := 0.0, 0
	for _, v := range values {
		if v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return nil
	}
	return round2(sum / float64(n))
}

func total(values []*float64) *float64 {
	sum, n := 0.0, 0
	for _, v := range values {
		if v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return nil
	}
	return round2(sum)
}

func round2(v float64) *float64 {
	r := math.Round(v*100) / 100
	return &r
}
