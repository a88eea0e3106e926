package util

import (
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestIsDebugEnabled_False(t *testing.T) {
	t.Setenv("IRP_DEBUG", "")
	res := DebugEnabled()
	assert.False(t, res, "debug should be false")
}

func TestIsDebugEnabled_True(t *testing.T) {

	t.Setenv("IRP_DEBUG", "true")

	log.SetFormatter(&log.TextFormatter{
		DisableColors: false,
		FullTimestamp: true,
		ForceColors:   true,
	})

	log.Debug("test logowania")

	res := DebugEnabled()
	assert.True(t, res, "debug should be true")
}

func TestHttpTraceEnabled(t *testing.T) {
	t.Setenv("IRP_HTTP_TRACE", "1")
	assert.True(t, HttpTraceEnabled())

	t.Setenv("IRP_HTTP_TRACE", "nope")
	assert.False(t, HttpTraceEnabled())
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("IRP_TEST_VALUE", "  x ")
	assert.Equal(t, "x", GetEnvOrDefault("IRP_TEST_VALUE", "d"))

	t.Setenv("IRP_TEST_VALUE", " ")
	assert.Equal(t, "d", GetEnvOrDefault("IRP_TEST_VALUE", "d"))
}

func TestMask(t *testing.T) {
	assert.Equal(t, "", Mask(""))
	assert.Equal(t, "******", Mask("secret"))
	assert.Equal(t, "29"+strings.Repeat("*", 11)+"Z5", Mask("29AAGCB1286Q1Z5"))
	assert.Equal(t, "su*********rd", Mask("superpassword"))
}
