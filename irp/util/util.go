package util

import (
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "irp.util")

// DebugEnabled reports whether IRP_DEBUG is set to a true value.
func DebugEnabled() bool {
	return etb("IRP_DEBUG")
}

// HttpTraceEnabled reports whether IRP_HTTP_TRACE is set; the client then logs bodies.
func HttpTraceEnabled() bool {
	return etb("IRP_HTTP_TRACE")
}

func etb(envName string) bool {
	v, ok := os.LookupEnv(envName)
	if !ok {
		return false
	}

	bv, err := strconv.ParseBool(v)

	return err == nil && bv
}

func GetEnvOrFailed(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		logger.Fatal(key, " environment variable is not set")
	}
	return v
}

// GetEnvOrDefault returns the trimmed value of key or def when unset or blank.
func GetEnvOrDefault(key, def string) string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

// Mask keeps the first and last two characters of s; short values are fully hidden.
func Mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 6 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
