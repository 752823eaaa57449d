package environment

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/datatrails/go-datatrails-ledger/logger"
)

// GetLogLevel returns the loglevel or panics. This is called before any logger
// is available. i.e. don't use a logger here.
func GetLogLevel() string {
	value, ok := os.LookupEnv("LOGLEVEL")
	if !ok {
		panic(errors.New("No loglevel specified"))
	}
	return value
}

// GetWithDefault returns value of environment variable.
// If the environment variable does not exist the default value is returned.
func GetWithDefault(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		value = fallback
	}
	return value
}

// GetOrFatal returns the key's value or logs a Fatal error (and exits)
func GetOrFatal(key string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		logger.Sugar.Panicf("required environment variable is not defined: %s", key)
	}
	return value
}

// GetIntWithDefault returns value of environment variable that is
// expected to be an int.
// If the environment variable does not exist or is incorrect,
// then the default value is returned.
func GetIntWithDefault(key string, fallback int) int {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		logger.Sugar.Infof("`%s' can not be converted to an integer. defaulting to %v. err=%v", key, fallback, err)
		return fallback
	}
	return value
}

// GetIntOrFatal returns value of environment variable that is
// expected to be an int, otherwise logs a Fatal error (and exits)
func GetIntOrFatal(key string) int {
	val, ok := os.LookupEnv(key)
	if !ok {
		logger.Sugar.Panicf("required environment variable is not defined: %s", key)
	}
	value, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		logger.Sugar.Panicf("unable to convert %s value to int: %v", key, err)
	}
	return value
}

// GetSecondsWithDefault reads a whole number of seconds. Missing or
// malformed values yield fallback.
func GetSecondsWithDefault(key string, fallback time.Duration) time.Duration {
	seconds := GetIntWithDefault(key, int(fallback/time.Second))
	return time.Duration(seconds) * time.Second
}

// GetTruthy returns true if key is set to a value that is truthy. Returns
// false otherwise.
func GetTruthy(key string) bool {
	return GetTruthyWithDefault(key, false)
}

// GetTruthyWithDefault is GetTruthy with an explicit value for a missing or
// unparsable key.
func GetTruthyWithDefault(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	// t,true,True,1 are all examples of 'truthy' values understood by ParseBool
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return b
}

// GetTruthyOrFatal returns true if key is set to a value that is truthy. Returns
// false otherwise.
func GetTruthyOrFatal(key string) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		logger.Sugar.Panicf("environment variable %s not found", key)
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		logger.Sugar.Panicf("environment variable %s not valid truthy value: %v", key, err)
	}
	return b
}

// ReadIndirectOrFatal reads filename from varname and returns the file
// content. Any error is Fatal.
func ReadIndirectOrFatal(varname string) string {
	filename, ok := os.LookupEnv(varname)
	if !ok {
		logger.Sugar.Panicf("environment variable `%s' not present in env", varname)
	}
	return ReadFileOrFatal(filename)
}

// ReadIndirectWithDefault is ReadIndirectOrFatal except that a missing
// varname yields defaultValue. A named file that cannot be read is still
// Fatal.
func ReadIndirectWithDefault(varname, defaultValue string) string {
	filename, ok := os.LookupEnv(varname)
	if !ok {
		logger.Sugar.Debugf("environment variable `%s' not found, returning default", varname)
		return defaultValue
	}
	return ReadFileOrFatal(filename)
}

// ReadFileOrFatal reads file or raises Fatal on error. Trailing newlines
// are trimmed as secrets are usually mounted with one.
func ReadFileOrFatal(filename string) string {
	b, err := os.ReadFile(filename)
	if err != nil {
		logger.Sugar.Panicf("failed to read `%s': %v", filename, err)
	}
	return strings.TrimRight(string(b), "\r\n")
}
