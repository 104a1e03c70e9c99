package env

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const NotExists = "~!-===X===-!~"

// Load reads a .env file from the working directory into the environment if
// there is one. Variables that are already set win.
func Load() error {
	err := godotenv.Load()
	if err != nil && os.IsNotExist(err) {
		return nil
	}

	return err
}

// GetString retrieves the value of the environment variable named by the key.
// It returns the value, or if the variable is not present, it returns the defaultValue.
func GetString(key, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	return value
}

// GetBool returns true if the env variable with the key set and is truthy and
// defaultValue otherwise.
func GetBool(key string, defaultValue bool) bool {
	strValue := GetString(key, NotExists)
	if strValue == NotExists {
		return defaultValue
	}

	if strValue == "1" || strValue == "true" {
		return true
	}

	return false
}

// GetInt returns an integer if the env variable with the key set and contains
// an integer and defaultValue otherwise.
func GetInt(key string, defaultValue int) int {
	strValue := GetString(key, NotExists)
	if strValue == NotExists {
		return defaultValue
	}

	intValue, err := strconv.ParseInt(strValue, 10, 64)
	if err != nil {
		return defaultValue
	}

	return int(intValue)
}

// GetDuration parses values like "70s" or "30m", defaultValue is returned for
// missing or malformed values.
func GetDuration(key string, defaultValue time.Duration) time.Duration {
	strValue := GetString(key, NotExists)
	if strValue == NotExists {
		return defaultValue
	}

	d, err := time.ParseDuration(strValue)
	if err != nil {
		return defaultValue
	}

	return d
}

// GetListOfIDs parses a comma separated list of integer ids, skipping the
// malformed ones.
func GetListOfIDs(key string, defaultValue []int64) []int64 {
	strOfIDs := GetString(key, "")
	if strOfIDs == "" {
		return defaultValue
	}

	var ids []int64
	for _, s := range strings.Split(strOfIDs, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			continue
		}

		ids = append(ids, id)
	}

	return ids
}
