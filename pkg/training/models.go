package training

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sentilab-ai/platform/pkg/classify"
	"gorm.io/datatypes"
)

// ErrJobInProgress is returned by Submit while another job is between Queued
// and a terminal phase. Callers translate it to 409.
var ErrJobInProgress = errors.New("a training job is already in progress")

// Request describes one training run. Zero hyperparameter fields are filled
// from the manager's configured defaults.
type Request struct {
	Architecture classify.Architecture
	Language     classify.Language
	Hyperparams  classify.Hyperparams
	MaxSamples   int
}

// ParseRequest validates the raw strings of an API payload into a typed
// Request.
func ParseRequest(archRaw, langRaw string, hp classify.Hyperparams, maxSamples int) (Request, error) {
	arch, err := classify.ParseArchitecture(archRaw)
	if err != nil {
		return Request{}, err
	}
	lang, err := classify.ParseLanguage(langRaw)
	if err != nil {
		return Request{}, err
	}
	if maxSamples < 0 {
		return Request{}, fmt.Errorf("max_samples must not be negative, got %d", maxSamples)
	}
	return Request{Architecture: arch, Language: lang, Hyperparams: hp, MaxSamples: maxSamples}, nil
}

// JobRecord is the persisted history row of a finished or running job.
type JobRecord struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey;column:id"`
	Architecture string            `gorm:"column:architecture"`
	Language     string            `gorm:"column:language"`
	Hyperparams  datatypes.JSONMap `gorm:"column:hyperparams"`
	Status       string            `gorm:"column:status"`
	Metrics      datatypes.JSONMap `gorm:"column:metrics"`
	ArtifactPath string            `gorm:"column:artifact_path"`
	ErrorMessage string            `gorm:"column:error_message"`
	CreatedAt    time.Time         `gorm:"column:created_at"`
	UpdatedAt    time.Time         `gorm:"column:updated_at"`
	StartedAt    *time.Time        `gorm:"column:started_at"`
	CompletedAt  *time.Time        `gorm:"column:completed_at"`
}

func (JobRecord) TableName() string {
	return "training_jobs"
}
