package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/daemonp/amt2mqtt/internal/types"
)

const (
	cacheDirName  = "amt2mqtt"
	cacheFileName = "amt2mqtt_cache.json"
)

// Cache stores the last known panel status as JSON in a single file.
type Cache struct {
	path string
}

// New returns a cache under ~/.cache/amt2mqtt.
func New() (*Cache, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %v", err)
	}
	return NewAt(filepath.Join(homeDir, ".cache", cacheDirName)), nil
}

func NewAt(dir string) *Cache {
	return &Cache{path: filepath.Join(dir, cacheFileName)}
}

func (c *Cache) Path() string {
	return c.path
}

func (c *Cache) Save(data *types.CacheData) error {
	if data == nil || data.Status == nil {
		return fmt.Errorf("nothing to cache")
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %v", err)
	}

	err = os.MkdirAll(filepath.Dir(c.path), 0755)
	if err != nil {
		return fmt.Errorf("failed to create cache directory: %v", err)
	}

	// Written aside and renamed into place.
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %v", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to replace cache file: %v", err)
	}
	return nil
}

// Load returns nil without error when nothing has been cached yet.
func (c *Cache) Load() (*types.CacheData, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache file: %v", err)
	}

	var cacheData types.CacheData
	err = json.Unmarshal(data, &cacheData)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %v", err)
	}
	if cacheData.Status == nil {
		return nil, nil
	}
	return &cacheData, nil
}

func (c *Cache) Delete() error {
	err := os.Remove(c.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete cache file: %v", err)
	}
	return nil
}
