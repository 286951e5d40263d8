package training

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrJobNotFound = errors.New("training job not found")

// Repository persists job history to postgres. It is optional: when
// POSTGRES_ENABLED is off the manager runs with a nil repository and history
// lives only in the status store.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&JobRecord{})
}

func (r *Repository) Create(ctx context.Context, job *JobRecord) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repository) UpdateStatus(ctx context.Context, jobID uuid.UUID, phase string, metrics map[string]float64, artifactPath, errorMessage string) error {
	updates := map[string]interface{}{
		"status":        phase,
		"artifact_path": artifactPath,
		"error_message": errorMessage,
		"updated_at":    time.Now().UTC(),
	}
	if metrics != nil {
		boxed := make(map[string]interface{}, len(metrics))
		for k, v := range metrics {
			boxed[k] = v
		}
		updates["metrics"] = datatypes.JSONMap(boxed)
	}
	return r.db.WithContext(ctx).Model(&JobRecord{}).Where("id = ?", jobID).Updates(updates).Error
}

func (r *Repository) SetTimestamps(ctx context.Context, jobID uuid.UUID, startedAt, completedAt *time.Time) error {
	updates := map[string]interface{}{"updated_at": time.Now().UTC()}
	if startedAt != nil {
		updates["started_at"] = *startedAt
	}
	if completedAt != nil {
		updates["completed_at"] = *completedAt
	}
	return r.db.WithContext(ctx).Model(&JobRecord{}).Where("id = ?", jobID).Updates(updates).Error
}

func (r *Repository) Get(ctx context.Context, jobID uuid.UUID) (*JobRecord, error) {
	var job JobRecord
	result := r.db.WithContext(ctx).First(&job, "id = ?", jobID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	return &job, result.Error
}

func (r *Repository) List(ctx context.Context, limit int) ([]JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var jobs []JobRecord
	result := r.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&jobs)
	return jobs, result.Error
}
