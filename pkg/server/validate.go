package server

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/fde-io/fde/pkg/config"
	"github.com/fde-io/fde/pkg/types"
)

// Validation is the outcome of checking an (env, token) pair against the
// resolved configuration.
type Validation struct {
	Valid bool
	Err   string
	Env   *types.Environment
}

// Validate is the single auth entry point used by every protected
// handler. The policy, in order: env present, env known, a token
// configured, a token supplied, tokens equal (constant time).
func Validate(envName, authToken string, cfg *config.Config) Validation {
	if envName == "" {
		return Validation{Err: "missing env parameter"}
	}
	env, ok := cfg.Environments[envName]
	if !ok {
		return Validation{Err: fmt.Sprintf("unknown environment: %s", envName)}
	}
	if env.Token == "" {
		return Validation{Err: "no token configured"}
	}
	if authToken == "" {
		return Validation{Err: "missing authorization token"}
	}
	if subtle.ConstantTimeCompare([]byte(authToken), []byte(env.Token)) != 1 {
		return Validation{Err: "invalid token"}
	}
	return Validation{Valid: true, Env: env}
}

// StatusFor maps a validation error to its HTTP status. Token problems
// are 403, everything else is client input (400). The "token" substring
// convention is externally observable and deliberately preserved.
func StatusFor(validationErr string) int {
	if strings.Contains(validationErr, "token") {
		return http.StatusForbidden
	}
	return http.StatusBadRequest
}
