package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fde-io/fde/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketDeployResults = []byte("deploy_results")
)

// BoltStore implements ResultStore using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "fde.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketDeployResults); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketDeployResults, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// PutDeployResult stores the last deploy result for an environment.
func (s *BoltStore) PutDeployResult(env string, result *types.DeployResult) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployResults)
		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		return b.Put([]byte(env), data)
	})
}

// GetDeployResult returns the last deploy result for an environment, or
// nil when none was recorded.
func (s *BoltStore) GetDeployResult(env string) (*types.DeployResult, error) {
	var result *types.DeployResult
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployResults)
		data := b.Get([]byte(env))
		if data == nil {
			return nil
		}
		var r types.DeployResult
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		result = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
