package api

import (
	"sync"

	"github.com/google/uuid"
)

// DecodeStore keeps finished decode runs addressable by id.
type DecodeStore struct {
	mu      sync.Mutex
	decodes map[string]DecodeResponse
}

func NewDecodeStore() *DecodeStore {
	return &DecodeStore{
		decodes: make(map[string]DecodeResponse),
	}
}

func (s *DecodeStore) Save(resp DecodeResponse) {
	s.mu.Lock()
	s.decodes[resp.ID] = resp
	s.mu.Unlock()
}

func (s *DecodeStore) Get(id string) (DecodeResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.decodes[id]
	return resp, ok
}

func (s *DecodeStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.decodes[id]; !ok {
		return false
	}
	delete(s.decodes, id)
	return true
}

func newDecodeID() string {
	return "dec_" + uuid.NewString()
}
