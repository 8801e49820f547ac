package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrSchemaMismatch is returned by decoders when a candidate does not
// satisfy its tagged schema. Parse recovers from it by keeping the text.
var ErrSchemaMismatch = errors.New("schema mismatch")

// DecodeFunc decodes the raw JSON object of one candidate into a Block
type DecodeFunc func(raw []byte) (Block, error)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their JSON names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DecodeStrict unmarshals raw into dst and validates it with the
// go-playground `validate` struct tags. Unknown keys are ignored. Use
// pointer fields with `required` to demand presence rather than a
// non-zero value.
func DecodeStrict(raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %w", ErrSchemaMismatch, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %w", ErrSchemaMismatch, err)
	}
	return nil
}

type weatherWire struct {
	City                 *string `json:"city" validate:"required"`
	Temperature          *int    `json:"temperature" validate:"required"`
	WeatherCondition     *string `json:"weatherCondition" validate:"required,oneof=SUNNY CLOUDY RAINY STORMY SNOWY FOGGY PARTLY_CLOUDY"`
	Humidity             *int    `json:"humidity" validate:"required"`
	WindSpeed            *int    `json:"windSpeed" validate:"required"`
	FeelsLikeTemperature *int    `json:"feelsLikeTemperature" validate:"required"`
	HighTemperature      *int    `json:"highTemperature" validate:"required"`
	LowTemperature       *int    `json:"lowTemperature" validate:"required"`
}

// DecodeWeather is the decoder registered for "weather"
func DecodeWeather(raw []byte) (Block, error) {
	var w weatherWire
	if err := DecodeStrict(raw, &w); err != nil {
		return nil, err
	}
	return Weather{
		City:                 *w.City,
		Temperature:          *w.Temperature,
		WeatherCondition:     WeatherCondition(*w.WeatherCondition),
		Humidity:             *w.Humidity,
		WindSpeed:            *w.WindSpeed,
		FeelsLikeTemperature: *w.FeelsLikeTemperature,
		HighTemperature:      *w.HighTemperature,
		LowTemperature:       *w.LowTemperature,
	}, nil
}

type bikeWire struct {
	BikeType     *string  `json:"bikeType" validate:"required"`
	Explanation  *string  `json:"explanation" validate:"required"`
	KeyFeatures  []string `json:"keyFeatures" validate:"required"`
	ExampleModel *string  `json:"exampleModel" validate:"required"`
	ExamplePrice *string  `json:"examplePrice" validate:"required"`
	ProductURL   *string  `json:"productUrl" validate:"required"`
}

// DecodeBike is the decoder registered for "bike"
func DecodeBike(raw []byte) (Block, error) {
	var b bikeWire
	if err := DecodeStrict(raw, &b); err != nil {
		return nil, err
	}
	return Bike{
		BikeType:     *b.BikeType,
		Explanation:  *b.Explanation,
		KeyFeatures:  b.KeyFeatures,
		ExampleModel: *b.ExampleModel,
		ExamplePrice: *b.ExamplePrice,
		ProductURL:   *b.ProductURL,
	}, nil
}
