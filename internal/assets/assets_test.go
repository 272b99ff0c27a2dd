package assets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateDefaultsToDraft(t *testing.T) {
	svc := NewService()
	a, err := svc.Create(AssetInput{AssetType: "prompt", Name: "greeting", Version: "1", Payload: map[string]any{"text": "hi"}})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, StatusDraft, a.Status)

	b, err := svc.Create(AssetInput{AssetType: "grid", Name: "orders", Version: "2", Status: "published"})
	require.NoError(t, err)
	assert.Equal(t, "published", b.Status)
	assert.NotNil(t, b.Payload)

	list := svc.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)
}

func TestCreateValidation(t *testing.T) {
	svc := NewService()
	_, err := svc.Create(AssetInput{Name: "x", Version: "1"})
	assert.EqualError(t, err, "asset_type is required")
	_, err = svc.Create(AssetInput{AssetType: "prompt", Version: "1"})
	assert.EqualError(t, err, "name is required")
	_, err = svc.Create(AssetInput{AssetType: "prompt", Name: "x"})
	assert.EqualError(t, err, "version is required")
	assert.Empty(t, svc.List())
}
