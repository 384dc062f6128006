package config

import (
	"testing"
	"time"

	"github.com/andresmejia3/vigil/internal/worker"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	for _, k := range []string{"POSTGRES_HOST", "REDIS_ADDR", "MQTT_BROKER", "VIGIL_EAR_THRESHOLD", "VIGIL_DROWSY_AFTER", "VIGIL_SLEEP_AFTER", "LOG_LEVEL", "MQTT_CLIENT_ID", "VIGIL_ENGINE_SCRIPT", "VIGIL_PREDICTOR"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "postgres://localhost:5432/vigil", cfg.Database.URL())
	require.Equal(t, 0.25, cfg.Thresholds.Openness)
	require.Equal(t, 200*time.Millisecond, cfg.Thresholds.DrowsyAfter)
	require.Equal(t, time.Second, cfg.Thresholds.SleepAfter)
	require.Equal(t, "vigil:events", cfg.Redis.Stream)
	require.Equal(t, "info", cfg.Log.Level)
	require.Empty(t, cfg.MQTT.Broker)
	require.Regexp(t, `^vigil-[0-9a-f]{8}$`, cfg.MQTT.ClientID)

	engine := worker.DefaultConfig()
	require.Equal(t, engine.Script, cfg.Engine.Script)
	require.Equal(t, engine.PredictorPath, cfg.Engine.Predictor)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "u")
	t.Setenv("POSTGRES_PASSWORD", "p")
	t.Setenv("POSTGRES_DB", "drivers")
	t.Setenv("VIGIL_EAR_THRESHOLD", "0.21")
	t.Setenv("VIGIL_DROWSY_AFTER", "300ms")
	t.Setenv("VIGIL_SLEEP_AFTER", "1.5s")
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("MQTT_QOS", "0")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "postgres://u:p@db:5432/drivers", cfg.Database.URL())
	require.Equal(t, 0.21, cfg.Thresholds.Openness)
	require.Equal(t, 300*time.Millisecond, cfg.Thresholds.DrowsyAfter)
	require.Equal(t, 1500*time.Millisecond, cfg.Thresholds.SleepAfter)
	require.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	require.Equal(t, byte(0), cfg.MQTT.QoS)

	t.Setenv("MQTT_CLIENT_ID", "cab-7")
	cfg, err = Load()
	require.NoError(t, err)
	require.Equal(t, "cab-7", cfg.MQTT.ClientID)
}

func TestLoad_InvalidThresholds(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"Bad float", "VIGIL_EAR_THRESHOLD", "abc"},
		{"Bad duration", "VIGIL_DROWSY_AFTER", "soon"},
		{"Sleep before drowsy", "VIGIL_SLEEP_AFTER", "100ms"},
		{"Bad QoS", "MQTT_QOS", "5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			require.Error(t, err)
		})
	}
}
