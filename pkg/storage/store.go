package storage

import (
	"github.com/fde-io/fde/pkg/types"
)

// ResultStore persists the last deploy result per environment so the
// status endpoint and the cooldown gate survive a server restart.
type ResultStore interface {
	PutDeployResult(env string, result *types.DeployResult) error
	GetDeployResult(env string) (*types.DeployResult, error)
	Close() error
}
