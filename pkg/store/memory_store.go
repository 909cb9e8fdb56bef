package store

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"strategylab/internal/util"
	"strategylab/pkg/domain"
)

// MemoryStore keeps all rows in-process. Used for tests and local
// development when no database URL is configured.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]domain.User
	sessions  map[string]domain.Session
	responses map[string]domain.ModuleResponse // key: sessionID + "/" + module
	finals    map[string]domain.FinalDocument  // key: sessionID
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]domain.User),
		sessions:  make(map[string]domain.Session),
		responses: make(map[string]domain.ModuleResponse),
		finals:    make(map[string]domain.FinalDocument),
	}
}

func responseKey(sessionID string, moduleNumber int) string {
	return sessionID + "/" + strconv.Itoa(moduleNumber)
}

// UpsertUser stores or refreshes a user record.
func (m *MemoryStore) UpsertUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.users[u.ID]; ok {
		existing.Email = u.Email
		existing.Name = u.Name
		existing.LastSeenAt = u.LastSeenAt
		m.users[u.ID] = existing
		return nil
	}
	m.users[u.ID] = u
	return nil
}

// GetUser returns a user by ID.
func (m *MemoryStore) GetUser(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// GetOrCreateSession returns the latest session for the user or creates one.
func (m *MemoryStore) GetOrCreateSession(userID string) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.Session
	for id := range m.sessions {
		sess := m.sessions[id]
		if sess.UserID != userID {
			continue
		}
		if latest == nil || sess.CreatedAt.After(latest.CreatedAt) {
			latest = &sess
		}
	}
	now := time.Now().UTC()
	if latest != nil {
		latest.UpdatedAt = now
		m.sessions[latest.ID] = *latest
		return *latest, nil
	}
	sess := domain.Session{
		ID:        util.NewID(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.sessions[sess.ID] = sess
	return sess, nil
}

// GetSession returns one session by ID.
func (m *MemoryStore) GetSession(id string) (domain.Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	return sess, ok, nil
}

// UpdateSession applies the supplied progression fields.
func (m *MemoryStore) UpdateSession(id string, patch domain.SessionPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if patch.CurrentModule != nil {
		sess.CurrentModule = *patch.CurrentModule
	}
	if patch.CompletionStatus != nil {
		sess.CompletionStatus = *patch.CompletionStatus
	}
	sess.UpdatedAt = time.Now().UTC()
	m.sessions[id] = sess
	return nil
}

// GetModuleResponse returns the response for one (session, module) pair.
func (m *MemoryStore) GetModuleResponse(sessionID string, moduleNumber int) (domain.ModuleResponse, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	resp, ok := m.responses[responseKey(sessionID, moduleNumber)]
	if !ok {
		return domain.ModuleResponse{}, false, nil
	}
	return copyResponse(resp), true, nil
}

// SaveModuleResponse upserts by (session, module) with merge semantics.
func (m *MemoryStore) SaveModuleResponse(patch domain.ModuleResponsePatch) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := responseKey(patch.SessionID, patch.ModuleNumber)
	existing, found := m.responses[key]
	merged, err := mergeModuleResponse(existing, found, patch)
	if err != nil {
		return "", err
	}
	m.responses[key] = copyResponse(merged)
	return merged.ID, nil
}

// ListModuleResponses returns all responses for a session ordered by module.
func (m *MemoryStore) ListModuleResponses(sessionID string) ([]domain.ModuleResponse, error) {
	return m.list(sessionID, false)
}

// ListCompletedModuleResponses returns finalized responses ordered by module.
func (m *MemoryStore) ListCompletedModuleResponses(sessionID string) ([]domain.ModuleResponse, error) {
	return m.list(sessionID, true)
}

func (m *MemoryStore) list(sessionID string, completedOnly bool) ([]domain.ModuleResponse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ModuleResponse, 0, domain.ModuleCount)
	for _, resp := range m.responses {
		if resp.SessionID != sessionID {
			continue
		}
		if completedOnly && resp.CompletedAt == nil {
			continue
		}
		res = append(res, copyResponse(resp))
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].ModuleNumber < res[j].ModuleNumber
	})
	return res, nil
}

// GetFinalDocument returns the final documents for a session.
func (m *MemoryStore) GetFinalDocument(sessionID string) (domain.FinalDocument, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.finals[sessionID]
	return doc, ok, nil
}

// SaveFinalDocument upserts the single final-document row per session.
func (m *MemoryStore) SaveFinalDocument(doc domain.FinalDocument) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.finals[doc.SessionID]; ok {
		doc.ID = existing.ID
	} else if doc.ID == "" {
		doc.ID = util.NewID()
	}
	m.finals[doc.SessionID] = doc
	return doc.ID, nil
}

func copyResponse(r domain.ModuleResponse) domain.ModuleResponse {
	out := r
	if len(r.AITranscript) > 0 {
		out.AITranscript = append([]domain.ChatMessage(nil), r.AITranscript...)
	}
	if len(r.FormData) > 0 {
		out.FormData = make(map[string]string, len(r.FormData))
		for k, v := range r.FormData {
			out.FormData[k] = v
		}
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
