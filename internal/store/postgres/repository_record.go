package postgres

import (
	"context"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/odpf/custodian/core/job"
	"github.com/odpf/custodian/internal/errors"
)

const (
	repositoryCacheTTL     = time.Hour
	repositoryCacheCleanup = 15 * time.Minute
)

const EntityRepository = "repository"

type RepositoryRecord struct {
	ID   int    `gorm:"primary_key;auto_increment"`
	Name string `gorm:"not null;unique"`
	Path string `gorm:"not null"`

	Passphrase string
	Keyfile    string
	CacheDir   string

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (RepositoryRecord) TableName() string {
	return "repository"
}

func (r RepositoryRecord) ToSpec() *job.RepositoryData {
	return &job.RepositoryData{
		Name:       r.Name,
		Path:       r.Path,
		Passphrase: r.Passphrase,
		Keyfile:    r.Keyfile,
		CacheDir:   r.CacheDir,
	}
}

// RepositoryStore resolves repository connection material with a
// read-through cache, since every repository-touching task asks for it.
type RepositoryStore struct {
	db    *gorm.DB
	cache *cache.Cache
	group singleflight.Group
}

func NewRepositoryStore(db *gorm.DB) *RepositoryStore {
	return &RepositoryStore{
		db:    db,
		cache: cache.New(repositoryCacheTTL, repositoryCacheCleanup),
	}
}

func (s *RepositoryStore) GetData(ctx context.Context, repositoryID int) (*job.RepositoryData, error) {
	if repositoryID == 0 {
		return nil, errors.NewInvalidArgumentError(EntityRepository, "Repository ID is missing")
	}

	key := strconv.Itoa(repositoryID)
	if cached, ok := s.cache.Get(key); ok {
		return cached.(*job.RepositoryData), nil
	}

	// concurrent tasks of the same repository share one lookup
	data, err, _ := s.group.Do(key, func() (interface{}, error) {
		var rec RepositoryRecord
		if err := s.db.WithContext(ctx).Where("id = ?", repositoryID).First(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, errors.NewNotFoundError(EntityRepository, "Repository not found")
			}
			return nil, err
		}
		spec := rec.ToSpec()
		s.cache.Set(key, spec, cache.DefaultExpiration)
		return spec, nil
	})
	if err != nil {
		return nil, err
	}
	return data.(*job.RepositoryData), nil
}

// Invalidate drops one repository from the cache, for callers that just
// rewrote its record.
func (s *RepositoryStore) Invalidate(repositoryID int) {
	s.cache.Delete(strconv.Itoa(repositoryID))
}
