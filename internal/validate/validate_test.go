package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deliveryctl/core/internal/domain"
)

func TestStruct_DeliveryConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  domain.DeliveryConfig
		wantErr bool
	}{
		{
			name: "valid config",
			config: domain.DeliveryConfig{
				Name:        "keeldemo-config",
				Application: "keeldemo",
				Artifacts:   []domain.ArtifactKey{{Name: "keeldemo", Type: domain.ArtifactTypeDebian}},
				Environments: []domain.Environment{
					{Name: "staging"},
				},
			},
			wantErr: false,
		},
		{
			name: "missing name",
			config: domain.DeliveryConfig{
				Application:  "keeldemo",
				Artifacts:    []domain.ArtifactKey{{Name: "keeldemo", Type: domain.ArtifactTypeDebian}},
				Environments: []domain.Environment{{Name: "staging"}},
			},
			wantErr: true,
		},
		{
			name: "no artifacts",
			config: domain.DeliveryConfig{
				Name:         "keeldemo-config",
				Application:  "keeldemo",
				Environments: []domain.Environment{{Name: "staging"}},
			},
			wantErr: true,
		},
		{
			name: "no environments",
			config: domain.DeliveryConfig{
				Name:        "keeldemo-config",
				Application: "keeldemo",
				Artifacts:   []domain.ArtifactKey{{Name: "keeldemo", Type: domain.ArtifactTypeDebian}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(tt.config)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStruct_Artifact(t *testing.T) {
	valid := domain.Artifact{
		Name:     "keeldemo",
		Type:     domain.ArtifactTypeDebian,
		Strategy: domain.VersioningStrategy{Kind: domain.VersioningStrategyDebian},
	}
	assert.NoError(t, Struct(valid))

	missingStrategy := valid
	missingStrategy.Strategy = domain.VersioningStrategy{}
	assert.Error(t, Struct(missingStrategy))

	invalidType := valid
	invalidType.Type = "rpm"
	assert.Error(t, Struct(invalidType))
}
