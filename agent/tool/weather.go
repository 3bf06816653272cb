package tool

import (
	"context"
	"errors"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
	"github.com/tanpawarit/Chative-Shopping-Assistant/pkg/openmeteo"
)

type WeatherService interface {
	GeocodeCity(ctx context.Context, city string) (openmeteo.Location, error)
	HistoricalMonth(ctx context.Context, city string, year, month int) (openmeteo.MonthSummary, error)
}

var ResolveCityLocationSpec = Spec{
	Name: string(contractx.ToolResolveCityLocation),
	Desc: "Resolve a city into normalized location metadata for weather-aware shopping decisions.",
	Params: map[string]*schema.ParameterInfo{
		"city": {Type: schema.String, Required: true},
	},
}

var HistoricalMonthWeatherSpec = Spec{
	Name: string(contractx.ToolGetHistoricalMonthWeather),
	Desc: "Fetch the historical monthly weather summary for a city, month and year.",
	Params: map[string]*schema.ParameterInfo{
		"city":  {Type: schema.String, Required: true},
		"year":  {Type: schema.Integer, Required: true},
		"month": {Type: schema.Integer, Desc: "1-12", Required: true},
	},
}

func RegisterWeatherTools(c *Catalog, svc WeatherService) error {
	if svc == nil {
		return errors.New("weather service is required")
	}
	if err := c.Register(ResolveCityLocationSpec, func(ctx context.Context, args map[string]any) (any, error) {
		return svc.GeocodeCity(ctx, stringArg(args, "city"))
	}); err != nil {
		return err
	}
	return c.Register(HistoricalMonthWeatherSpec, func(ctx context.Context, args map[string]any) (any, error) {
		return svc.HistoricalMonth(ctx, stringArg(args, "city"), intArg(args, "year", 0), intArg(args, "month", 0))
	})
}
