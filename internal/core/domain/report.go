package domain

// Sensor reading bounds enforced at report ingestion.
const (
	// SensorTemperatureMin / Max bound plausible readings in Celsius
	SensorTemperatureMin = -50
	SensorTemperatureMax = 60

	// SensorMaxClockSkew is the largest |now - timestamp| accepted, seconds
	SensorMaxClockSkew = 3600
)

// SensorReport is an ingested IoT sensor report. Optional readings are
// pointers so "not reported" is distinct from a zero reading. Persisted
// as JSON under report:<area_code>.
type SensorReport struct {
	// ID uniquely identifies this ingested report
	ID string `json:"id"`

	// AreaCode is the six-digit area the sensor reports for
	AreaCode string `json:"area_code"`

	// WeatherCode is the observed weather state, if reported
	WeatherCode *int `json:"weather_code,omitempty"`

	// Temperature is the observed temperature in Celsius, if reported
	Temperature *int `json:"temperature,omitempty"`

	// PrecipitationProb is the observed precipitation probability, if reported
	PrecipitationProb *int `json:"precipitation_prob,omitempty"`

	// Timestamp is the sensor's clock at measurement, Unix seconds
	Timestamp int64 `json:"timestamp"`

	// ReceivedAt is the server's clock at ingestion, Unix seconds
	ReceivedAt int64 `json:"received_at"`
}

// Validate checks the report's readings against physical bounds and the
// clock-skew window. now is the server's Unix clock.
func (r *SensorReport) Validate(now int64) *ProtocolError {
	if r.Temperature != nil {
		if *r.Temperature < SensorTemperatureMin || *r.Temperature > SensorTemperatureMax {
			return NewProtocolError(CodeSensorOutOfRange,
				"temperature %d°C outside [%d, %d]", *r.Temperature, SensorTemperatureMin, SensorTemperatureMax)
		}
	}

	if r.PrecipitationProb != nil {
		if *r.PrecipitationProb < 0 || *r.PrecipitationProb > 100 {
			return NewProtocolError(CodeSensorOutOfRange,
				"precipitation probability %d%% outside [0, 100]", *r.PrecipitationProb)
		}
	}

	skew := now - r.Timestamp
	if skew < 0 {
		skew = -skew
	}

	if skew > SensorMaxClockSkew {
		return NewProtocolError(CodeSensorOutOfRange,
			"report timestamp skewed by %d seconds, limit %d", skew, SensorMaxClockSkew)
	}

	return nil
}
