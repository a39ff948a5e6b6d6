package repository

import (
	"context"
	"database/sql"
	"errors"
	"footage-flow/constant"
	"footage-flow/entities"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// AnalysisRepository persists analysis records. UpdateAnalysis is the only
// way to change an existing record: the mutation runs under an exclusive lock
// on the row so every write is a single atomic read-modify-write. Calls made
// with the context handed to a Transaction callback join that transaction.
type AnalysisRepository interface {
	Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error
	FindVideo(ctx context.Context, id string) (*entities.Video, error)
	FindAnalysis(ctx context.Context, videoID string) (*entities.VideoAnalysis, error)
	CreateAnalysis(ctx context.Context, analysis *entities.VideoAnalysis) error
	UpdateAnalysis(ctx context.Context, videoID string, mutate func(a *entities.VideoAnalysis) error) (*entities.VideoAnalysis, error)
	FindCompleted(ctx context.Context, videoIDs []string) ([]*entities.VideoAnalysis, error)
	SearchCompleted(ctx context.Context, query string, limit int) ([]*entities.VideoAnalysis, error)
	RecentCompleted(ctx context.Context, limit int) ([]*entities.VideoAnalysis, error)
}

type repo struct {
	db *gorm.DB
}

func NewRepo(db *sql.DB) (AnalysisRepository, error) {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		},
	)
	if err != nil {
		return nil, err
	}
	return &repo{
		db: gormDB,
	}, nil
}

// Migrate creates or updates the tables this service reads and writes.
func Migrate(ctx context.Context, db *sql.DB) error {
	r, err := NewRepo(db)
	if err != nil {
		return err
	}
	return r.(*repo).db.WithContext(ctx).AutoMigrate(&entities.Video{}, &entities.VideoAnalysis{})
}

type txKey struct{}

func (r *repo) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return r.db.WithContext(ctx)
}

func (r *repo) Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return callback(context.WithValue(ctx, txKey{}, tx))
	}, opts...)
}

func (r *repo) FindVideo(ctx context.Context, id string) (*entities.Video, error) {
	video := &entities.Video{}
	err := r.conn(ctx).First(video, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return video, nil
}

func (r *repo) FindAnalysis(ctx context.Context, videoID string) (*entities.VideoAnalysis, error) {
	analysis := &entities.VideoAnalysis{}
	err := r.conn(ctx).First(analysis, "video_id = ?", videoID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return analysis, nil
}

func (r *repo) CreateAnalysis(ctx context.Context, analysis *entities.VideoAnalysis) error {
	res := r.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(analysis)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (r *repo) UpdateAnalysis(ctx context.Context, videoID string, mutate func(a *entities.VideoAnalysis) error) (*entities.VideoAnalysis, error) {
	var updated *entities.VideoAnalysis
	err := r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		analysis := &entities.VideoAnalysis{}
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(analysis, "video_id = ?", videoID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if err := mutate(analysis); err != nil {
			return err
		}
		analysis.UpdatedAt = time.Now().UTC()

		if err := tx.Save(analysis).Error; err != nil {
			return err
		}
		updated = analysis
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *repo) FindCompleted(ctx context.Context, videoIDs []string) ([]*entities.VideoAnalysis, error) {
	var analyses []*entities.VideoAnalysis
	if len(videoIDs) == 0 {
		return analyses, nil
	}
	err := r.conn(ctx).
		Where("video_id IN ? AND status = ?", videoIDs, constant.VideoStatusCompleted).
		Find(&analyses).Error
	if err != nil {
		return nil, err
	}
	return orderByIDs(analyses, videoIDs), nil
}

func (r *repo) SearchCompleted(ctx context.Context, query string, limit int) ([]*entities.VideoAnalysis, error) {
	terms := SearchTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	q := r.conn(ctx).Where("status = ?", constant.VideoStatusCompleted)
	or := r.conn(ctx)
	for i, term := range terms {
		like := "%" + EscapeLike(term) + "%"
		if i == 0 {
			or = or.Where(`search_text ILIKE ? ESCAPE '\'`, like)
			continue
		}
		or = or.Or(`search_text ILIKE ? ESCAPE '\'`, like)
	}

	var analyses []*entities.VideoAnalysis
	err := q.Where(or).Order("completed_at DESC").Limit(limit).Find(&analyses).Error
	if err != nil {
		return nil, err
	}
	return analyses, nil
}

func (r *repo) RecentCompleted(ctx context.Context, limit int) ([]*entities.VideoAnalysis, error) {
	var analyses []*entities.VideoAnalysis
	err := r.conn(ctx).
		Where("status = ?", constant.VideoStatusCompleted).
		Order("completed_at DESC").
		Limit(limit).
		Find(&analyses).Error
	if err != nil {
		return nil, err
	}
	return analyses, nil
}

// SearchTerms splits a free-text query into lower-cased terms, ignoring very
// short words.
func SearchTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !(r == '-' || r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r > 127)
	})
	seen := make(map[string]struct{}, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 3 {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EscapeLike makes term match literally inside a LIKE pattern escaped with
// a backslash.
func EscapeLike(term string) string {
	return likeEscaper.Replace(term)
}

func orderByIDs(analyses []*entities.VideoAnalysis, ids []string) []*entities.VideoAnalysis {
	byID := make(map[string]*entities.VideoAnalysis, len(analyses))
	for _, a := range analyses {
		byID[a.VideoID] = a
	}
	ordered := make([]*entities.VideoAnalysis, 0, len(analyses))
	for _, id := range ids {
		if a, ok := byID[id]; ok {
			ordered = append(ordered, a)
			delete(byID, id)
		}
	}
	return ordered
}
