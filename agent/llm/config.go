package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
	openrouterx "github.com/tanpawarit/Chative-Shopping-Assistant/pkg/openrouter"
)

// Role selects which model settings apply.
type Role string

const (
	RolePlannerProducts    Role = "planner.products"
	RolePlannerGeneralInfo Role = "planner.general_info"
	RoleResponse           Role = "response"
)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.5"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	ProductsModel       string  `envconfig:"PRODUCTS_MODEL" split_words:"true"`
	GeneralInfoModel    string  `envconfig:"GENERAL_INFO_MODEL" split_words:"true"`
	ResponseModel       string  `envconfig:"RESPONSE_MODEL" split_words:"true"`
	PlannerTemperature  float32 `envconfig:"PLANNER_TEMPERATURE" split_words:"true" default:"0"`
	ResponseTemperature float32 `envconfig:"RESPONSE_TEMPERATURE" split_words:"true" default:"-1"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	return nil
}

// RoleForRoute maps a planning route to its model role. ok is false for
// routes without a planner.
func RoleForRoute(route contractx.Route) (Role, bool) {
	switch route {
	case contractx.RouteProducts:
		return RolePlannerProducts, true
	case contractx.RouteGeneralInfo:
		return RolePlannerGeneralInfo, true
	default:
		return "", false
	}
}

func (c Config) OpenRouterFor(role Role) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	switch role {
	case RolePlannerProducts:
		if v := strings.TrimSpace(c.ProductsModel); v != "" {
			modelName = v
		}
		temp = c.PlannerTemperature
	case RolePlannerGeneralInfo:
		if v := strings.TrimSpace(c.GeneralInfoModel); v != "" {
			modelName = v
		}
		temp = c.PlannerTemperature
	case RoleResponse:
		if v := strings.TrimSpace(c.ResponseModel); v != "" {
			modelName = v
		}
		if c.ResponseTemperature >= 0 {
			temp = c.ResponseTemperature
		}
	}
	if temp < 0 {
		temp = 0
	}

	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}
