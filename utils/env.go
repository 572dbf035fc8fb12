package env

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Initialize loads environment variables from the first .env file found.
// Missing files are not an error; deployments commonly inject the
// environment directly.
func Initialize() {
	exDir := "."
	if exPath, err := os.Executable(); err == nil {
		exDir = filepath.Dir(exPath)
	}

	locations := []string{
		".env",
		filepath.Join(exDir, ".env"),
		"/app/.env",
		"/etc/ocpp-gateway/.env",
		filepath.Join(os.Getenv("HOME"), ".ocpp-gateway.env"),
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err != nil {
			continue
		}
		if err := godotenv.Load(location); err == nil {
			logrus.Infof("loaded environment from %s", location)
			return
		}
	}
}

// GetEnv gets an environment variable with a default value.
func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsBool gets an environment variable as a boolean.
func GetEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// GetEnvAsInt gets an environment variable as an integer.
func GetEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
