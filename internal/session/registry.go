package session

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/exams-tracker/internal/common"
	"github.com/joseph-ayodele/exams-tracker/internal/entity"
)

// Registry keeps the open drafts of a process by session id.
type Registry struct {
	deps Deps

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{deps: deps, sessions: map[uuid.UUID]*Session{}}
}

func (r *Registry) New(ownerID, patientID string) *Session {
	return r.add(New(ownerID, patientID, r.deps))
}

func (r *Registry) Open(exam *entity.Exam) *Session {
	return r.add(Open(exam, r.deps))
}

func (r *Registry) Get(id uuid.UUID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, common.NewAppError("NOT_FOUND", fmt.Sprintf("draft %s not found", id), common.ErrNotFound)
	}
	return s, nil
}

// Close cancels the draft's running work and forgets it.
func (r *Registry) Close(id uuid.UUID) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return common.NewAppError("NOT_FOUND", fmt.Sprintf("draft %s not found", id), common.ErrNotFound)
	}
	s.Close()
	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) add(s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	return s
}
