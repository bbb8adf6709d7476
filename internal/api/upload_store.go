package api

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"forecaster/internal/model"
)

// uploadSession 一次上传的指纹，供随后“记住此格式”使用
type uploadSession struct {
	fingerprint model.Fingerprint
	filename    string
	expiresAt   time.Time
}

type uploadStore struct {
	mu    sync.Mutex
	items map[string]uploadSession
}

func newUploadStore() *uploadStore {
	return &uploadStore{
		items: make(map[string]uploadSession),
	}
}

func (s *uploadStore) put(fp model.Fingerprint, filename string, ttl time.Duration) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeExpiredLocked(time.Now())

	id = uuid.NewString()
	s.items[id] = uploadSession{
		fingerprint: fp,
		filename:    filename,
		expiresAt:   time.Now().Add(ttl),
	}
	return id
}

func (s *uploadStore) get(id string) (uploadSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeExpiredLocked(time.Now())

	v, ok := s.items[id]
	if !ok {
		return uploadSession{}, false
	}
	return v, true
}

func (s *uploadStore) delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
}

func (s *uploadStore) purgeExpiredLocked(now time.Time) {
	for k, v := range s.items {
		if now.After(v.expiresAt) {
			delete(s.items, k)
		}
	}
}
