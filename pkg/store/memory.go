package store

import (
	"context"
	"sync"
)

// MemoryStore keeps sessions in process memory. Sessions are lost on restart.
type MemoryStore struct {
	mu sync.RWMutex
	m  map[int64]*session
}

type session struct {
	state State
	data  Data
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[int64]*session)}
}

func (s *MemoryStore) GetState(ctx context.Context, chatID int64) (State, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ses, ok := s.m[chatID]; ok {
		return ses.state, nil
	}
	return StateNone, nil
}

func (s *MemoryStore) SetState(ctx context.Context, chatID int64, state State) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(chatID).state = state
	return nil
}

func (s *MemoryStore) GetData(ctx context.Context, chatID int64) (Data, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	ses, ok := s.m[chatID]
	if !ok {
		return Data{}, nil
	}
	return ses.data.clone(), nil
}

func (s *MemoryStore) SetData(ctx context.Context, chatID int64, data Data) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(chatID).data = data.clone()
	return nil
}

func (s *MemoryStore) MergeData(ctx context.Context, chatID int64, delta Data) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	ses := s.entry(chatID)
	for k, v := range delta {
		ses.data[k] = v
	}
	return nil
}

func (s *MemoryStore) Destroy(ctx context.Context, chatID int64) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[chatID]
	delete(s.m, chatID)
	return ok, nil
}

// entry must be called with mu held for writing.
func (s *MemoryStore) entry(chatID int64) *session {
	ses, ok := s.m[chatID]
	if !ok {
		ses = &session{data: Data{}}
		s.m[chatID] = ses
	}
	return ses
}
