package threshold

type Config struct {
	// Optional TOML file overriding the built-in severity thresholds
	File string `envconfig:"DRIFTD_THRESHOLDS_FILE"`
}
