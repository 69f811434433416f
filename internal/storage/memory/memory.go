// Package memory provides in-process implementations of the storage
// contracts. The client session keeps its replicated state here; tests use
// it for both sides.
package memory

import (
	"context"
	"sync"

	"github.com/vedran77/lattice/internal/domain"
)

type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*domain.UserProfile
}

func NewProfileStore() *ProfileStore {
	return &ProfileStore{profiles: make(map[string]*domain.UserProfile)}
}

func (s *ProfileStore) Add(_ context.Context, profile *domain.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.UserID] = profile.Clone()
	return nil
}

func (s *ProfileStore) Update(_ context.Context, profile *domain.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.UserID] = profile.Clone()
	return nil
}

func (s *ProfileStore) GetByID(_ context.Context, userID string) (*domain.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.profiles[userID]; ok {
		return p.Clone(), nil
	}
	return nil, nil
}

func (s *ProfileStore) GetByUsername(_ context.Context, username string) (*domain.UserProfile, error) {
	return s.find(func(p *domain.UserProfile) bool { return p.Username == username })
}

func (s *ProfileStore) GetByPublicKey(_ context.Context, publicKey string) (*domain.UserProfile, error) {
	return s.find(func(p *domain.UserProfile) bool { return p.PublicKey == publicKey })
}

func (s *ProfileStore) GetByRecoveryPublicKey(_ context.Context, recoveryPublicKey string) (*domain.UserProfile, error) {
	return s.find(func(p *domain.UserProfile) bool { return p.RecoveryPublicKey == recoveryPublicKey })
}

// All lists every stored profile, for background sweeps.
func (s *ProfileStore) All(_ context.Context) ([]*domain.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.UserProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p.Clone())
	}
	return out, nil
}

func (s *ProfileStore) find(match func(*domain.UserProfile) bool) (*domain.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.profiles {
		if match(p) {
			return p.Clone(), nil
		}
	}
	return nil, nil
}

type PostStore struct {
	mu   sync.RWMutex
	logs map[string]map[int64]*domain.Post
}

func NewPostStore() *PostStore {
	return &PostStore{logs: make(map[string]map[int64]*domain.Post)}
}

func (s *PostStore) Add(_ context.Context, userID string, posts []domain.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.logs[userID]
	if !ok {
		log = make(map[int64]*domain.Post)
		s.logs[userID] = log
	}
	for i := range posts {
		log[posts[i].ID] = posts[i].Clone()
	}
	return nil
}

func (s *PostStore) Get(_ context.Context, userID string, id int64) (*domain.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.logs[userID][id]; ok {
		return p.Clone(), nil
	}
	return nil, nil
}

func (s *PostStore) Range(_ context.Context, userID string, begin, end int64) ([]domain.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var posts []domain.Post
	for id := begin; id <= end; id++ {
		if p, ok := s.logs[userID][id]; ok {
			posts = append(posts, *p.Clone())
		}
	}
	return posts, nil
}

func (s *PostStore) All(ctx context.Context, userID string) ([]domain.Post, error) {
	s.mu.RLock()
	max := int64(0)
	for id := range s.logs[userID] {
		if id > max {
			max = id
		}
	}
	s.mu.RUnlock()
	if max == 0 {
		return nil, nil
	}
	return s.Range(ctx, userID, 1, max)
}

func (s *PostStore) Update(_ context.Context, userID string, post *domain.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.logs[userID][post.ID]; ok {
		s.logs[userID][post.ID] = post.Clone()
	}
	return nil
}

func (s *PostStore) DeleteAll(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, userID)
	return nil
}
