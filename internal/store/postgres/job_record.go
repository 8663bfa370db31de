package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/odpf/custodian/core/job"
	"github.com/odpf/custodian/internal/errors"
)

type JobRecord struct {
	ID           uuid.UUID `gorm:"primary_key;type:uuid"`
	RepositoryID int       `gorm:"not null;index"`

	Type   string `gorm:"not null"`
	Mode   string `gorm:"not null"`
	Status string `gorm:"not null;index"`

	Error string

	CloudSyncConfigID    int
	PruneConfigID        int
	CheckConfigID        int
	NotificationConfigID int

	StartedAt  time.Time `gorm:"not null"`
	FinishedAt *time.Time

	Tasks []TaskRecord `gorm:"foreignKey:JobID"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (JobRecord) TableName() string {
	return "job"
}

type TaskRecord struct {
	ID    uuid.UUID `gorm:"primary_key;type:uuid"`
	JobID uuid.UUID `gorm:"not null;uniqueIndex:idx_job_task_order,priority:1"`

	Kind   string `gorm:"not null"`
	Name   string `gorm:"not null"`
	Status string `gorm:"not null"`
	Order  int    `gorm:"column:task_order;not null;uniqueIndex:idx_job_task_order,priority:2"`

	Parameters datatypes.JSON
	Output     datatypes.JSON

	ReturnCode  *int
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (TaskRecord) TableName() string {
	return "job_task"
}

func (JobRecord) FromSpec(spec *job.Job) (JobRecord, error) {
	if spec == nil {
		return JobRecord{}, errors.NewInvalidArgumentError(job.EntityJob, "job is nil")
	}
	rec := JobRecord{
		ID:                   spec.ID.UUID(),
		RepositoryID:         spec.RepositoryID,
		Type:                 spec.Type.String(),
		Mode:                 spec.Mode.String(),
		Status:               spec.Status.String(),
		Error:                spec.Error,
		CloudSyncConfigID:    spec.CloudSyncConfigID,
		PruneConfigID:        spec.PruneConfigID,
		CheckConfigID:        spec.CheckConfigID,
		NotificationConfigID: spec.NotificationConfigID,
		StartedAt:            spec.StartedAt,
		FinishedAt:           spec.FinishedAt,
	}
	for _, t := range spec.Tasks {
		taskRec, err := TaskRecord{}.FromSpec(t)
		if err != nil {
			return JobRecord{}, err
		}
		rec.Tasks = append(rec.Tasks, taskRec)
	}
	return rec, nil
}

func (j JobRecord) ToSpec() (*job.Job, error) {
	spec := &job.Job{
		ID:                   job.ID(j.ID),
		RepositoryID:         j.RepositoryID,
		Type:                 job.Type(j.Type),
		Mode:                 job.Mode(j.Mode),
		Status:               job.Status(j.Status),
		Error:                j.Error,
		CloudSyncConfigID:    j.CloudSyncConfigID,
		PruneConfigID:        j.PruneConfigID,
		CheckConfigID:        j.CheckConfigID,
		NotificationConfigID: j.NotificationConfigID,
		StartedAt:            j.StartedAt,
		FinishedAt:           j.FinishedAt,
	}
	for i := range j.Tasks {
		task, err := j.Tasks[i].ToSpec()
		if err != nil {
			return nil, err
		}
		spec.Tasks = append(spec.Tasks, task)
	}
	return spec, nil
}

func (TaskRecord) FromSpec(spec *job.Task) (TaskRecord, error) {
	params, err := json.Marshal(paramsForStorage(spec.Parameters))
	if err != nil {
		return TaskRecord{}, errors.NewInternalError(job.EntityTask, "unable to serialize task parameters", err)
	}
	output, err := json.Marshal(spec.OutputLines)
	if err != nil {
		return TaskRecord{}, errors.NewInternalError(job.EntityTask, "unable to serialize task output", err)
	}
	return TaskRecord{
		ID:          uuid.New(),
		JobID:       spec.JobID.UUID(),
		Kind:        spec.Kind.String(),
		Name:        spec.Name,
		Status:      spec.Status.String(),
		Order:       spec.Order,
		Parameters:  params,
		Output:      output,
		ReturnCode:  spec.ReturnCode,
		Error:       spec.Error,
		StartedAt:   spec.StartedAt,
		CompletedAt: spec.CompletedAt,
	}, nil
}

func (t TaskRecord) ToSpec() (*job.Task, error) {
	params := map[string]interface{}{}
	if len(t.Parameters) > 0 {
		if err := json.Unmarshal(t.Parameters, &params); err != nil {
			return nil, errors.NewInternalError(job.EntityTask, "unable to deserialize task parameters", err)
		}
	}
	var output []string
	if len(t.Output) > 0 {
		if err := json.Unmarshal(t.Output, &output); err != nil {
			return nil, errors.NewInternalError(job.EntityTask, "unable to deserialize task output", err)
		}
	}
	return &job.Task{
		JobID:       job.ID(t.JobID),
		Kind:        job.Kind(t.Kind),
		Name:        t.Name,
		Status:      job.TaskStatus(t.Status),
		Order:       t.Order,
		Parameters:  params,
		OutputLines: output,
		ReturnCode:  t.ReturnCode,
		Error:       t.Error,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
	}, nil
}

// paramsForStorage flattens typed hook lists into plain JSON maps so the
// parameters column round-trips without the domain types.
func paramsForStorage(params map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range params {
		if hooks, ok := v.([]job.Hook); ok {
			plain := make([]map[string]interface{}, 0, len(hooks))
			for _, h := range hooks {
				plain = append(plain, map[string]interface{}{
					"name":               h.Name,
					"command":            h.Command,
					"critical":           h.Critical,
					"run_on_job_failure": h.RunOnJobFailure,
				})
			}
			out[k] = plain
			continue
		}
		out[k] = v
	}
	return out
}

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (repo *JobRepository) Save(ctx context.Context, spec *job.Job) error {
	rec, err := JobRecord{}.FromSpec(spec)
	if err != nil {
		return err
	}
	return repo.db.WithContext(ctx).Create(&rec).Error
}

func (repo *JobRepository) UpdateStatus(ctx context.Context, id job.ID, status job.Status, errMsg string, finishedAt *time.Time) error {
	result := repo.db.WithContext(ctx).Model(&JobRecord{}).
		Where("id = ?", id.UUID()).
		Updates(map[string]interface{}{
			"status":      status.String(),
			"error":       errMsg,
			"finished_at": finishedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.NewNotFoundError(job.EntityJob, "job not found "+id.String())
	}
	return nil
}

// SaveTask upserts the task snapshot keyed by job id and task order.
func (repo *JobRepository) SaveTask(ctx context.Context, spec *job.Task) error {
	rec, err := TaskRecord{}.FromSpec(spec)
	if err != nil {
		return err
	}
	return repo.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "job_id"}, {Name: "task_order"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "parameters", "output", "return_code", "error", "started_at", "completed_at", "updated_at",
		}),
	}).Create(&rec).Error
}

func (repo *JobRepository) GetByID(ctx context.Context, id job.ID) (*job.Job, error) {
	var rec JobRecord
	err := repo.db.WithContext(ctx).
		Preload("Tasks", func(db *gorm.DB) *gorm.DB {
			return db.Order("job_task.task_order ASC")
		}).
		Where("id = ?", id.UUID()).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NewNotFoundError(job.EntityJob, "job not found "+id.String())
		}
		return nil, err
	}
	return rec.ToSpec()
}

func (repo *JobRepository) GetAll(ctx context.Context, limit int) ([]*job.Job, error) {
	var recs []JobRecord
	q := repo.db.WithContext(ctx).
		Preload("Tasks", func(db *gorm.DB) *gorm.DB {
			return db.Order("job_task.task_order ASC")
		}).
		Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	specs := make([]*job.Job, 0, len(recs))
	for i := range recs {
		spec, err := recs[i].ToSpec()
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
