package observability

import (
	"testing"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitCLILogger(t *testing.T) {
	InitCLILogger("tgrelay-test", true)
	require.NotNil(t, CLILogger)
	CLILogger.Debug("cli logger ready", zap.String("mode", "verbose"))
}

func TestInitServerLoggerProfiles(t *testing.T) {
	for _, profile := range []string{"STRUCTURED", "simple", ""} {
		t.Run("profile "+profile, func(t *testing.T) {
			ServerLogger = nil
			InitServerLogger("tgrelay-test", "debug", profile, "tgrelay")
			require.NotNil(t, ServerLogger)
			ServerLogger.Info("server logger ready", zap.String("component", "test"))
		})
	}
}

func TestServerLoggerConfig(t *testing.T) {
	structured := serverLoggerConfig("svc", "warning", "STRUCTURED", "ns")
	assert.Equal(t, logging.ProfileStructured, structured.Profile)
	assert.Equal(t, "WARN", structured.DefaultLevel)
	assert.Equal(t, "json", structured.Sinks[0].Format)
	assert.Equal(t, "ns", structured.StaticFields["namespace"])
	require.Len(t, structured.Middleware, 1)
	assert.Equal(t, "correlation", structured.Middleware[0].Name)

	simple := serverLoggerConfig("svc", "", "Simple", "")
	assert.Equal(t, logging.ProfileSimple, simple.Profile)
	assert.Equal(t, "INFO", simple.DefaultLevel)
	assert.Equal(t, "console", simple.Sinks[0].Format)
	assert.Empty(t, simple.Middleware)
	assert.NotContains(t, simple.StaticFields, "namespace")
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]string{
		"trace":   "TRACE",
		"DEBUG":   "DEBUG",
		" warn ":  "WARN",
		"error":   "ERROR",
		"info":    "INFO",
		"verbose": "INFO",
		"":        "INFO",
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLogLevel(in), in)
	}
}

func TestPortOf(t *testing.T) {
	port, err := portOf("[::]:9191")
	require.NoError(t, err)
	assert.Equal(t, 9191, port)

	_, err = portOf("no-port")
	assert.Error(t, err)
}

func TestEmbeddedCrucibleVersion(t *testing.T) {
	version := crucible.GetVersion()
	assert.NotEmpty(t, version.Gofulmen)
	assert.NotEmpty(t, version.Crucible)
}
