package buffer

type Config struct {
	// Number of most recent observations retained per unit stream
	WindowSize int `envconfig:"DRIFTD_BUFFER_WINDOW_SIZE" default:"100"`
	// Minimum pooled samples before calibration is considered meaningful
	MinCalibrationSamples int `envconfig:"DRIFTD_BUFFER_MIN_CALIBRATION_SAMPLES" default:"10"`
}
