package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	testCases := []struct {
		name    string
		env     map[string]string
		wantErr bool
		wantCfg *Config
	}{
		{
			name: "defaults (no env set)",
			env:  map[string]string{},
			wantCfg: &Config{
				Port:        10200,
				UpstreamURL: "wss://toransharma.com/xporcle",
				SavesPath:   "saves.db",
				OptionsPath: "options.yaml",
			},
		},
		{
			name: "custom valid env",
			env: map[string]string{
				"PORT":         "12345",
				"UPSTREAM_URL": "ws://localhost:9000/room",
				"SAVES_PATH":   "/tmp/saves.db",
				"OPTIONS_PATH": "/tmp/options.yaml",
			},
			wantCfg: &Config{
				Port:        12345,
				UpstreamURL: "ws://localhost:9000/room",
				SavesPath:   "/tmp/saves.db",
				OptionsPath: "/tmp/options.yaml",
			},
		},
		{
			name: "invalid port",
			env: map[string]string{
				"PORT": "-1",
			},
			wantErr: true,
		},
		{
			name: "upstream url with http scheme",
			env: map[string]string{
				"UPSTREAM_URL": "https://toransharma.com/xporcle",
			},
			wantErr: true,
		},
		{
			name: "missing saves path (set to empty)",
			env: map[string]string{
				"SAVES_PATH": "",
			},
			wantErr: true,
		},
		{
			name: "missing options path (set to empty)",
			env: map[string]string{
				"OPTIONS_PATH": "",
			},
			wantErr: true,
		},
	}

	for idx := range testCases {
		tc := testCases[idx]
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()

			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)
				require.Equal(t, tc.wantCfg, cfg)
			}
		})
	}
}
