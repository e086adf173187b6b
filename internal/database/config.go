package database

type Config struct {
	FileName string `envconfig:"DRIFTD_DB_FILE" default:"driftd.db"`
}
