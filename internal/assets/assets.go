// Package assets stores versioned agent assets such as prompts and grid layouts.
package assets

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StatusDraft is the status given to assets created without one.
const StatusDraft = "draft"

// AssetInput is the payload for Create.
type AssetInput struct {
	AssetType string         `json:"asset_type"`
	Name      string         `json:"name"`
	Version   string         `json:"version"`
	Payload   map[string]any `json:"payload"`
	Status    string         `json:"status,omitempty"`
}

func (in AssetInput) Validate() error {
	if strings.TrimSpace(in.AssetType) == "" {
		return fmt.Errorf("asset_type is required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(in.Version) == "" {
		return fmt.Errorf("version is required")
	}
	return nil
}

// Asset is a stored asset.
type Asset struct {
	ID        string         `json:"id"`
	AssetType string         `json:"asset_type"`
	Name      string         `json:"name"`
	Version   string         `json:"version"`
	Payload   map[string]any `json:"payload"`
	Status    string         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// Service keeps assets in memory, in creation order.
type Service struct {
	mu     sync.RWMutex
	assets []Asset
}

func NewService() *Service {
	return &Service{}
}

func (s *Service) Create(in AssetInput) (Asset, error) {
	if err := in.Validate(); err != nil {
		return Asset{}, err
	}
	status := strings.TrimSpace(in.Status)
	if status == "" {
		status = StatusDraft
	}
	payload := make(map[string]any, len(in.Payload))
	for k, v := range in.Payload {
		payload[k] = v
	}
	a := Asset{
		ID:        uuid.NewString(),
		AssetType: in.AssetType,
		Name:      in.Name,
		Version:   in.Version,
		Payload:   payload,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.assets = append(s.assets, a)
	s.mu.Unlock()
	return a, nil
}

func (s *Service) List() []Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Asset, len(s.assets))
	copy(out, s.assets)
	return out
}
