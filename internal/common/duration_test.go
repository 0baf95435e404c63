package common

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// timings mirrors the duration knobs of the scanner and notifier sections.
type timings struct {
	PollInterval   Duration `json:"poll_interval" yaml:"poll_interval" toml:"poll_interval" env:"POLL_INTERVAL"`
	ConnectTimeout Duration `json:"connect_timeout" yaml:"connect_timeout" toml:"connect_timeout" env:"CONNECT_TIMEOUT"`
}

func TestDuration_ConfigFormats(t *testing.T) {
	want := timings{
		PollInterval:   NewDuration(12 * time.Second),
		ConnectTimeout: NewDuration(1500 * time.Millisecond),
	}

	tests := []struct {
		name   string
		decode func(*timings) error
	}{
		{
			name: "yaml",
			decode: func(out *timings) error {
				return yaml.Unmarshal([]byte("poll_interval: 12s\nconnect_timeout: 1.5s\n"), out)
			},
		},
		{
			name: "json",
			decode: func(out *timings) error {
				return json.Unmarshal([]byte(`{"poll_interval":"12s","connect_timeout":"1500ms"}`), out)
			},
		},
		{
			name: "toml",
			decode: func(out *timings) error {
				_, err := toml.Decode("poll_interval = \"12s\"\nconnect_timeout = \"1s500ms\"\n", out)
				return err
			},
		},
		{
			name: "env",
			decode: func(out *timings) error {
				return env.ParseWithOptions(out, env.Options{
					Prefix:      "CHAINREDUCER_",
					Environment: map[string]string{"CHAINREDUCER_POLL_INTERVAL": "12s", "CHAINREDUCER_CONNECT_TIMEOUT": "1.5s"},
				})
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got timings
			require.NoError(t, tt.decode(&got))
			require.Equal(t, want, got)
		})
	}
}

func TestDuration_UnmarshalTextErrors(t *testing.T) {
	for _, input := range []string{"", "12", "12x", "soon"} {
		var d Duration
		err := d.UnmarshalText([]byte(input))
		require.ErrorContains(t, err, "invalid duration", "input %q", input)
	}
}

func TestDuration_MarshalText(t *testing.T) {
	data, err := yaml.Marshal(timings{PollInterval: NewDuration(90 * time.Second)})
	require.NoError(t, err)
	require.Contains(t, string(data), "poll_interval: 1m30s")

	var back timings
	require.NoError(t, yaml.Unmarshal(data, &back))
	require.Equal(t, 90*time.Second, back.PollInterval.Duration)
	require.Zero(t, back.ConnectTimeout.Duration)
}

func TestDuration_JSONSchema(t *testing.T) {
	schema := Duration{}.JSONSchema()
	require.Equal(t, "string", schema.Type)
	require.Equal(t, "Duration", schema.Title)
	require.Contains(t, schema.Examples, "300ms")
}
