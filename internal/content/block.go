package content

import "encoding/json"

// Block is one segment of parsed model output: plain Text or a typed widget
type Block interface {
	// BlockType is the discriminator written as "type" when the block is
	// rendered to JSON
	BlockType() string
}

// Block type tags
const (
	TypeText    = "text"
	TypeWeather = "weather"
	TypeBike    = "bike"
)

// Text is free-form text between widgets
type Text struct {
	Text string
}

func (Text) BlockType() string { return TypeText }

func (t Text) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{TypeText, t.Text})
}

// WeatherCondition enumerates the conditions a weather widget may report
type WeatherCondition string

const (
	ConditionSunny        WeatherCondition = "SUNNY"
	ConditionCloudy       WeatherCondition = "CLOUDY"
	ConditionRainy        WeatherCondition = "RAINY"
	ConditionStormy       WeatherCondition = "STORMY"
	ConditionSnowy        WeatherCondition = "SNOWY"
	ConditionFoggy        WeatherCondition = "FOGGY"
	ConditionPartlyCloudy WeatherCondition = "PARTLY_CLOUDY"
)

// Weather is a current-conditions card for one city
type Weather struct {
	City                 string           `json:"city"`
	Temperature          int              `json:"temperature"`
	WeatherCondition     WeatherCondition `json:"weatherCondition"`
	Humidity             int              `json:"humidity"`
	WindSpeed            int              `json:"windSpeed"`
	FeelsLikeTemperature int              `json:"feelsLikeTemperature"`
	HighTemperature      int              `json:"highTemperature"`
	LowTemperature       int              `json:"lowTemperature"`
}

func (Weather) BlockType() string { return TypeWeather }

func (w Weather) MarshalJSON() ([]byte, error) {
	type plain Weather
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{TypeWeather, plain(w)})
}

// Bike is a bicycle recommendation card
type Bike struct {
	BikeType     string   `json:"bikeType"`
	Explanation  string   `json:"explanation"`
	KeyFeatures  []string `json:"keyFeatures"`
	ExampleModel string   `json:"exampleModel"`
	ExamplePrice string   `json:"examplePrice"`
	ProductURL   string   `json:"productUrl"`
}

func (Bike) BlockType() string { return TypeBike }

func (b Bike) MarshalJSON() ([]byte, error) {
	type plain Bike
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{TypeBike, plain(b)})
}

// MarshalBlocks renders blocks as a JSON array of type-tagged objects
func MarshalBlocks(blocks []Block) ([]byte, error) {
	if blocks == nil {
		blocks = []Block{}
	}
	return json.Marshal(blocks)
}
