package models

// WeatherRecord is the persisted weather row. City is the natural key used for lookups
// and cache keys; ID and Version are store bookkeeping and never leave the service as JSON.
type WeatherRecord struct {
	ID          uint    `gorm:"primaryKey" json:"-"`
	Version     int     `gorm:"not null;default:1" json:"-"`
	City        string  `gorm:"type:varchar(100);uniqueIndex;not null" json:"city"`
	Temperature float64 `json:"temperature"`
	Humidity    int     `json:"humidity"`
	Condition   string  `gorm:"type:varchar(255)" json:"condition"`
}

// TableName pins the table name regardless of GORM pluralization rules.
func (WeatherRecord) TableName() string {
	return "weather"
}

// WeatherInput is the request body for create and update.
type WeatherInput struct {
	City        string  `json:"city" validate:"required,max=100"`
	Temperature float64 `json:"temperature" validate:"gte=-100,lte=100"`
	Humidity    int     `json:"humidity" validate:"gte=0,lte=100"`
	Condition   string  `json:"condition" validate:"max=255"`
}

// Record builds a new, unsaved record from the input.
func (in WeatherInput) Record() WeatherRecord {
	return WeatherRecord{
		City:        in.City,
		Temperature: in.Temperature,
		Humidity:    in.Humidity,
		Condition:   in.Condition,
	}
}

// Apply copies the mutable fields of in onto r. City and bookkeeping fields are left alone.
func (r *WeatherRecord) Apply(in WeatherInput) {
	r.Temperature = in.Temperature
	r.Humidity = in.Humidity
	r.Condition = in.Condition
}
