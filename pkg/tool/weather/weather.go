package weather

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/lapine/pkg/model"
	"github.com/m-mizutani/lapine/pkg/tool"
	"google.golang.org/genai"
)

const (
	defaultGeocodingURL = "https://geocoding-api.open-meteo.com/v1"
	defaultForecastURL  = "https://api.open-meteo.com/v1"
)

type forecastInput struct {
	Location string `json:"location"`
	Days     int    `json:"days"`
}

// Forecast is the weather_data payload
type Forecast struct {
	Location string      `json:"location"`
	Timezone string      `json:"timezone"`
	Days     []DailyItem `json:"days"`
}

type DailyItem struct {
	Date             string  `json:"date"`
	TempMax          float64 `json:"temp_max"`
	TempMin          float64 `json:"temp_min"`
	PrecipitationPct float64 `json:"precipitation_pct"`
}

type weather struct {
	geocodingURL string
	forecastURL  string
	httpClient   *http.Client
}

type Option func(*weather)

// WithEndpoints overrides the API endpoints, mainly for tests
func WithEndpoints(geocodingURL, forecastURL string) Option {
	return func(x *weather) {
		x.geocodingURL = geocodingURL
		x.forecastURL = forecastURL
	}
}

// New creates the weather forecast tool
func New(opts ...Option) tool.Tool {
	x := &weather{
		geocodingURL: defaultGeocodingURL,
		forecastURL:  defaultForecastURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

func (x *weather) Descriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:        "get_weather",
		Description: "Get the weather forecast for a city or place, including temperature and precipitation",
		Category:    "weather",
	}
}

func (x *weather) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        "get_weather",
		Description: "Get the daily weather forecast for a location",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"location": {
					Type:        genai.TypeString,
					Description: "City or place name, e.g. 'Tokyo' or 'San Francisco'",
				},
				"days": {
					Type:        genai.TypeInteger,
					Description: "Number of forecast days (1-7), default 3",
				},
			},
			Required: []string{"location"},
		},
	}
}

func (x *weather) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	paramsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal function arguments")
	}

	var input forecastInput
	if err := json.Unmarshal(paramsJSON, &input); err != nil {
		return nil, goerr.Wrap(err, "failed to parse input parameters")
	}
	if input.Location == "" {
		return nil, goerr.New("location is required")
	}
	if input.Days <= 0 || input.Days > 7 {
		input.Days = 3
	}

	lat, lon, name, err := x.geocode(ctx, input.Location)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to geocode location", goerr.V("location", input.Location))
	}

	forecast, err := x.forecast(ctx, lat, lon, input.Days)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to fetch forecast", goerr.V("location", name))
	}
	forecast.Location = name

	resultJSON, err := json.MarshalIndent(forecast, "", "  ")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal forecast")
	}

	return &tool.Result{
		Content: string(resultJSON),
		Data: map[string]any{
			model.KeyWeatherData: forecast,
		},
	}, nil
}

type geocodeResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"results"`
}

func (x *weather) geocode(ctx context.Context, location string) (lat, lon float64, name string, err error) {
	endpoint := x.geocodingURL + "/search?name=" + url.QueryEscape(location) + "&count=1"

	var resp geocodeResponse
	if err := x.getJSON(ctx, endpoint, &resp); err != nil {
		return 0, 0, "", err
	}
	if len(resp.Results) == 0 {
		return 0, 0, "", goerr.New("location not found", goerr.V("location", location))
	}

	r := resp.Results[0]
	return r.Latitude, r.Longitude, r.Name, nil
}

type forecastResponse struct {
	Timezone string `json:"timezone"`
	Daily    struct {
		Time                       []string  `json:"time"`
		Temperature2mMax           []float64 `json:"temperature_2m_max"`
		Temperature2mMin           []float64 `json:"temperature_2m_min"`
		PrecipitationProbabilityMax []float64 `json:"precipitation_probability_max"`
	} `json:"daily"`
}

func (x *weather) forecast(ctx context.Context, lat, lon float64, days int) (*Forecast, error) {
	query := url.Values{}
	query.Set("latitude", formatFloat(lat))
	query.Set("longitude", formatFloat(lon))
	query.Set("daily", "temperature_2m_max,temperature_2m_min,precipitation_probability_max")
	query.Set("forecast_days", formatInt(days))
	query.Set("timezone", "auto")
	endpoint := x.forecastURL + "/forecast?" + query.Encode()

	var resp forecastResponse
	if err := x.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, err
	}

	forecast := &Forecast{Timezone: resp.Timezone}
	for i, date := range resp.Daily.Time {
		item := DailyItem{Date: date}
		if i < len(resp.Daily.Temperature2mMax) {
			item.TempMax = resp.Daily.Temperature2mMax[i]
		}
		if i < len(resp.Daily.Temperature2mMin) {
			item.TempMin = resp.Daily.Temperature2mMin[i]
		}
		if i < len(resp.Daily.PrecipitationProbabilityMax) {
			item.PrecipitationPct = resp.Daily.PrecipitationProbabilityMax[i]
		}
		forecast.Days = append(forecast.Days, item)
	}

	return forecast, nil
}

func (x *weather) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to create request")
	}

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return goerr.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return goerr.New("weather API returned error",
			goerr.V("status", resp.StatusCode),
			goerr.V("body", string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return goerr.Wrap(err, "failed to decode response")
	}

	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatInt(v int) string {
	return strconv.Itoa(v)
}
