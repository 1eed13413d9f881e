package domain

import "time"

// PromotionRecord captures the approval and subsequent deployment outcome
// for (ConfigName, Artifact, EnvName, Version). Unique on that tuple.
// Approval is monotonic: a version once approved stays approved.
type PromotionRecord struct {
	ConfigName string      `validate:"required"`
	Artifact   ArtifactKey `validate:"required"`
	EnvName    string      `validate:"required"`
	Version    string      `validate:"required"`

	ApprovedAt             time.Time
	DeployingAt            *time.Time
	DeployedSuccessfullyAt *time.Time
}

// PromotionStatus is the derived roll-up bucket a version falls into
// within a (config, artifact, env).
type PromotionStatus string

const (
	PromotionPending   PromotionStatus = "pending"
	PromotionDeploying PromotionStatus = "deploying"
	PromotionCurrent   PromotionStatus = "current"
	PromotionPrevious  PromotionStatus = "previous"
)

// EnvironmentArtifactSummary is the roll-up returned by
// versionsByEnvironment: one artifact's lifecycle buckets within one
// environment of a delivery config.
type EnvironmentArtifactSummary struct {
	EnvName    string
	Artifact   ArtifactKey
	Pending    []string
	Current    *string
	Deploying  *string
	Previous   []string
}

// ConstraintState is the mutable, latest-write-wins state of a constraint
// gate for (ConfigName, EnvName, Version, Type).
type ConstraintState struct {
	ConfigName string `validate:"required"`
	EnvName    string `validate:"required"`
	Version    string `validate:"required"`
	Type       string `validate:"required"`
	Status     string `validate:"required"`
	JudgedBy   *string
	JudgedAt   *time.Time
	Comment    *string
}

// Key returns the (config, env, version, type) identity tuple used for
// upserts and point lookups.
func (c ConstraintState) Key() ConstraintStateKey {
	return ConstraintStateKey{
		ConfigName: c.ConfigName,
		EnvName:    c.EnvName,
		Version:    c.Version,
		Type:       c.Type,
	}
}

// ConstraintStateKey identifies a single constraint-state row.
type ConstraintStateKey struct {
	ConfigName string
	EnvName    string
	Version    string
	Type       string
}
