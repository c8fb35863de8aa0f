package version

import (
	"testing"

	"github.com/rxtech-lab/argo-datapage/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckProtocolCompatibility(t *testing.T) {
	tests := []struct {
		name          string
		clientVersion string
		serverVersion string
		expectError   bool
		errorContains string
	}{
		{
			name:          "exact match",
			clientVersion: "1.0.0",
			serverVersion: "1.0.0",
			expectError:   false,
		},
		{
			name:          "server patch higher",
			clientVersion: "1.0.0",
			serverVersion: "1.0.4",
			expectError:   false,
		},
		{
			name:          "minor differs",
			clientVersion: "1.1.0",
			serverVersion: "1.0.0",
			expectError:   true,
			errorContains: "minor version mismatch",
		},
		{
			name:          "major differs",
			clientVersion: "1.0.0",
			serverVersion: "2.0.0",
			expectError:   true,
			errorContains: "major version mismatch",
		},
		{
			name:          "server is main",
			clientVersion: "1.0.0",
			serverVersion: "main",
			expectError:   false,
		},
		{
			name:          "v prefix on both",
			clientVersion: "v1.0.0",
			serverVersion: "v1.0.2",
			expectError:   false,
		},
		{
			name:          "missing server header",
			clientVersion: "1.0.0",
			serverVersion: "",
			expectError:   true,
			errorContains: "invalid server protocol version",
		},
		{
			name:          "garbage client version",
			clientVersion: "not-a-version",
			serverVersion: "1.0.0",
			expectError:   true,
			errorContains: "invalid client protocol version",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckProtocolCompatibility(tt.clientVersion, tt.serverVersion)

			if tt.expectError {
				require.Error(t, err)
				assert.True(t, errors.HasCode(err, errors.ErrCodeProtocolMismatch))
				if tt.errorContains != "" {
					assert.Contains(t, err.Error(), tt.errorContains)
				}
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestGetVersion(t *testing.T) {
	v := GetVersion()
	assert.Equal(t, Version, v)
}
