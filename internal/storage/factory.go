package storage

import (
	"fmt"
	"strings"

	"github.com/timmy/ipenrich/internal/config"
)

// NewStorage creates the ObjectStorage selected by cfg.Type.
// Parameters:
//   - cfg: storage configuration.
// Returns:
//   - ObjectStorage: local or S3-compatible implementation.
//   - error: non-nil if the client cannot be created.
func NewStorage(cfg *config.StorageConfig) (ObjectStorage, error) {
	switch StorageType(cfg.Type) {
	case StorageTypeLocal:
		return NewLocalStorage(cfg.Dir)
	case StorageTypeS3, StorageTypeR2, StorageTypeS3Compatible:
		return NewS3Storage(cfg)
	case "":
		return NewS3Storage(cfg)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// detectStorageType guesses the provider from the endpoint host.
func detectStorageType(endpoint string) StorageType {
	endpoint = strings.ToLower(endpoint)
	switch {
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return StorageTypeR2
	case strings.Contains(endpoint, "amazonaws.com"):
		return StorageTypeS3
	default:
		return StorageTypeS3Compatible
	}
}
