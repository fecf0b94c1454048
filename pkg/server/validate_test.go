package server

import (
	"net/http"
	"testing"

	"github.com/fde-io/fde/pkg/config"
	"github.com/fde-io/fde/pkg/paths"
	"github.com/fde-io/fde/pkg/types"
	"github.com/stretchr/testify/assert"
)

func validateConfig() *config.Config {
	return &config.Config{
		Environments: map[string]*types.Environment{
			"production": {Name: "production", Token: "secret-token"},
			"tokenless":  {Name: "tokenless"},
		},
		Paths: &paths.Context{ConfigDir: "/etc/fde"},
	}
}

func TestValidateOrdering(t *testing.T) {
	cfg := validateConfig()

	tests := []struct {
		name    string
		env     string
		token   string
		wantErr string
	}{
		{"missing env", "", "secret-token", "missing env parameter"},
		{"unknown env", "qa", "secret-token", "unknown environment: qa"},
		{"no token configured", "tokenless", "anything", "no token configured"},
		{"missing auth", "production", "", "missing authorization token"},
		{"wrong token", "production", "wrong", "invalid token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Validate(tt.env, tt.token, cfg)
			assert.False(t, v.Valid)
			assert.Equal(t, tt.wantErr, v.Err)
		})
	}

	v := Validate("production", "secret-token", cfg)
	assert.True(t, v.Valid)
	assert.Equal(t, "production", v.Env.Name)
}

func TestStatusFor(t *testing.T) {
	// Token problems are 403, everything else 400.
	assert.Equal(t, http.StatusForbidden, StatusFor("missing authorization token"))
	assert.Equal(t, http.StatusForbidden, StatusFor("invalid token"))
	assert.Equal(t, http.StatusForbidden, StatusFor("no token configured"))

	assert.Equal(t, http.StatusBadRequest, StatusFor("missing env parameter"))
	assert.Equal(t, http.StatusBadRequest, StatusFor("unknown environment: qa"))
}
