package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/relay/pkg/types"
)

var bucketDeployments = []byte("deployments")

// Store is the BoltDB-backed deployment document store.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the deployment database under dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "relay.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDeployments)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert writes d, replacing any existing document with the same id.
func (s *Store) Upsert(d *types.Deployment) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putDeployment(tx, d)
	})
}

// Get returns the deployment with the given id.
func (s *Store) Get(id string) (*types.Deployment, error) {
	var d types.Deployment
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("store: deployment not found: %s", id)
		}
		return json.Unmarshal(data, &d)
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// MergeParameters applies a partial update to the deployment's parameter
// map, overwriting keys present in patch and leaving the rest untouched.
func (s *Store) MergeParameters(id string, patch map[string]interface{}) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("store: deployment not found: %s", id)
		}
		var d types.Deployment
		if err := json.Unmarshal(data, &d); err != nil {
			return err
		}
		d.Parameters = types.MergeParameters(d.Parameters, types.Parameters(patch), nil)
		return putDeploymentInTx(b, &d)
	})
}

// UpdateTask locates t's sub-task by TaskID within the deployment and
// overwrites it in place.
func (s *Store) UpdateTask(id string, t *types.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("store: deployment not found: %s", id)
		}
		var d types.Deployment
		if err := json.Unmarshal(data, &d); err != nil {
			return err
		}
		_, index, found := d.FindTask(t.TaskID)
		if !found {
			return fmt.Errorf("store: task not found: %s", t.TaskID)
		}
		d.Tasks[index] = t
		return putDeploymentInTx(b, &d)
	})
}

// FindIncomplete returns every deployment with at least one non-terminal task.
func (s *Store) FindIncomplete() ([]*types.Deployment, error) {
	return s.find(func(d *types.Deployment) bool { return d.Incomplete() })
}

// FindBroken returns every deployment with no end timestamp.
func (s *Store) FindBroken() ([]*types.Deployment, error) {
	return s.find(func(d *types.Deployment) bool { return d.Broken() })
}

func (s *Store) find(match func(*types.Deployment) bool) ([]*types.Deployment, error) {
	var matched []*types.Deployment
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		return b.ForEach(func(_, v []byte) error {
			var d types.Deployment
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if match(&d) {
				matched = append(matched, &d)
			}
			return nil
		})
	})
	return matched, err
}

func putDeployment(tx *bolt.Tx, d *types.Deployment) error {
	return putDeploymentInTx(tx.Bucket(bucketDeployments), d)
}

func putDeploymentInTx(b *bolt.Bucket, d *types.Deployment) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return b.Put([]byte(d.DeploymentID), data)
}
