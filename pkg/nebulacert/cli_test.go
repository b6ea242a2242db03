package nebulacert

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meshwarden/meshwarden/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestValidateArg(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		wantErr bool
	}{
		{name: "hostname", arg: "web-1.example.com", wantErr: false},
		{name: "cidr", arg: "10.100.0.5/24", wantErr: false},
		{name: "group list", arg: "web,db", wantErr: false},
		{name: "duration", arg: "8760h", wantErr: false},
		{name: "shell pipe", arg: "name|rm", wantErr: true},
		{name: "command substitution", arg: "$(reboot)", wantErr: true},
		{name: "semicolon", arg: "a;b", wantErr: true},
		{name: "newline", arg: "a\nb", wantErr: true},
		{name: "null byte", arg: "a\x00b", wantErr: true},
		{name: "space", arg: "a b", wantErr: true},
		{name: "too long", arg: string(make([]byte, 300)), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateArg(tt.arg)
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, errors.Is(err, types.ErrValidation))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRunRejectsBadArgsBeforeExec(t *testing.T) {
	// A hostile name must be rejected before any subprocess is started,
	// even when the binary does not exist.
	cli := NewCLI("/nonexistent/nebula-cert")
	err := cli.run(context.Background(), []string{"sign", "-name", "evil;rm -rf /"})
	assert.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrValidation))
}

func TestRunMissingBinaryIsExternalToolError(t *testing.T) {
	cli := NewCLI("/nonexistent/nebula-cert").WithTimeout(2 * time.Second)
	err := cli.run(context.Background(), []string{"keygen"})
	assert.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrExternalTool))
}

func TestRunTimeout(t *testing.T) {
	// sleep stands in for a hung tool; the deadline must turn into a hard
	// external-tool failure.
	cli := NewCLI("sleep").WithTimeout(50 * time.Millisecond)
	err := cli.run(context.Background(), []string{"10"})
	assert.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrExternalTool))
}
