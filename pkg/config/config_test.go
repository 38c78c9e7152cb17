package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUnmarshalDefaults(t *testing.T) {
	cfg, err := Unmarshal([]byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, 60*time.Second, cfg.DefaultTimeout)
	require.True(t, cfg.UseExternalIdentifier)
}

func TestUnmarshalOverrides(t *testing.T) {
	cfg, err := Unmarshal([]byte(`
default_timeout: 30s
keep_originals_by_default: true
office_server_path: /opt/office/soffice
use_external_identifier: false
`))
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.DefaultTimeout)
	require.True(t, cfg.KeepOriginalsByDefault)
	require.Equal(t, "/opt/office/soffice", cfg.OfficeServerPath)
	require.False(t, cfg.UseExternalIdentifier)
}

func TestUnmarshalRejectsNonPositiveTimeout(t *testing.T) {
	_, err := Unmarshal([]byte(`default_timeout: 0s`))
	require.Error(t, err)
}
