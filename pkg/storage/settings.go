package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pixperk/solo/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	settingsBucket = []byte("settings")
	keyLastProject = []byte("last_project")
	keyAutoOpen    = []byte("auto_open")
)

// SettingsStore keeps per-user preferences in a bbolt file
// last project : reopened on a bare start when auto open is on
// auto open : whether a bare start reopens the last project
type SettingsStore struct {
	db *bolt.DB
}

// opens (or creates) settings.db under dataDir; waits up to a second for
// another instance holding the file
func OpenSettingsStore(dataDir string) (*SettingsStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(filepath.Join(dataDir, "settings.db"), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open settings: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(settingsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init settings: %w", err)
	}

	return &SettingsStore{db: db}, nil
}

// returns the last opened project, false when none was recorded
func (s *SettingsStore) LastProject() (types.ProjectIdentity, bool, error) {
	var p types.ProjectIdentity
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(settingsBucket).Get(keyLastProject)
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &p)
	})
	if err != nil {
		return types.ProjectIdentity{}, false, fmt.Errorf("failed to read last project: %w", err)
	}
	return p, !p.IsZero(), nil
}

func (s *SettingsStore) SetLastProject(p types.ProjectIdentity) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(settingsBucket).Put(keyLastProject, raw)
	})
}

func (s *SettingsStore) AutoOpen() (bool, error) {
	var on bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(settingsBucket).Get(keyAutoOpen)
		on = len(raw) == 1 && raw[0] == 1
		return nil
	})
	return on, err
}

func (s *SettingsStore) SetAutoOpen(on bool) error {
	v := byte(0)
	if on {
		v = 1
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(settingsBucket).Put(keyAutoOpen, []byte{v})
	})
}

func (s *SettingsStore) Close() error {
	return s.db.Close()
}
