package repository

import (
	"context"
	"database/sql"
	"footage-flow/constant"
	"footage-flow/entities"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryRepository keeps records in process for tests. Each call is atomic on
// its own; Transaction does not group calls.
type MemoryRepository struct {
	mu       sync.RWMutex
	videos   map[string]*entities.Video
	analyses map[string]*entities.VideoAnalysis
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		videos:   make(map[string]*entities.Video),
		analyses: make(map[string]*entities.VideoAnalysis),
	}
}

// PutVideo registers upload metadata, replacing any previous entry.
func (r *MemoryRepository) PutVideo(v *entities.Video) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *v
	r.videos[v.ID] = &cp
}

func (r *MemoryRepository) Transaction(ctx context.Context, callback func(ctx context.Context) error, _ ...*sql.TxOptions) error {
	return callback(ctx)
}

func (r *MemoryRepository) FindVideo(ctx context.Context, id string) (*entities.Video, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.videos[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (r *MemoryRepository) FindAnalysis(ctx context.Context, videoID string) (*entities.VideoAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.analyses[videoID]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (r *MemoryRepository) CreateAnalysis(ctx context.Context, analysis *entities.VideoAnalysis) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.analyses[analysis.VideoID]; exists {
		return ErrConflict
	}
	now := time.Now().UTC()
	cp := analysis.Clone()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	r.analyses[analysis.VideoID] = cp
	return nil
}

func (r *MemoryRepository) UpdateAnalysis(ctx context.Context, videoID string, mutate func(a *entities.VideoAnalysis) error) (*entities.VideoAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.analyses[videoID]
	if !ok {
		return nil, ErrNotFound
	}

	// mutate a copy so a failed mutation leaves the stored record untouched
	working := current.Clone()
	if err := mutate(working); err != nil {
		return nil, err
	}
	working.UpdatedAt = time.Now().UTC()
	r.analyses[videoID] = working
	return working.Clone(), nil
}

func (r *MemoryRepository) FindCompleted(ctx context.Context, videoIDs []string) ([]*entities.VideoAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entities.VideoAnalysis, 0, len(videoIDs))
	seen := make(map[string]struct{}, len(videoIDs))
	for _, id := range videoIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if a, ok := r.analyses[id]; ok && a.Status == constant.VideoStatusCompleted {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

func (r *MemoryRepository) SearchCompleted(ctx context.Context, query string, limit int) ([]*entities.VideoAnalysis, error) {
	terms := SearchTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	return r.completed(ctx, limit, func(a *entities.VideoAnalysis) bool {
		text := strings.ToLower(a.SearchText)
		for _, t := range terms {
			if strings.Contains(text, t) {
				return true
			}
		}
		return false
	})
}

func (r *MemoryRepository) RecentCompleted(ctx context.Context, limit int) ([]*entities.VideoAnalysis, error) {
	return r.completed(ctx, limit, func(*entities.VideoAnalysis) bool { return true })
}

func (r *MemoryRepository) completed(ctx context.Context, limit int, match func(a *entities.VideoAnalysis) bool) ([]*entities.VideoAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*entities.VideoAnalysis
	for _, a := range r.analyses {
		if a.Status == constant.VideoStatusCompleted && match(a) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := completedAt(out[i]), completedAt(out[j])
		if ti.Equal(tj) {
			return out[i].VideoID < out[j].VideoID
		}
		return ti.After(tj)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func completedAt(a *entities.VideoAnalysis) time.Time {
	if a.CompletedAt == nil {
		return time.Time{}
	}
	return *a.CompletedAt
}
