package server

import (
	"context"

	"connectrpc.com/connect"
)

// SessionService creates, lists and destroys sessions.
type SessionService struct {
	sessions *SessionStore
}

// NewSessionService creates a SessionService.
func NewSessionService(sessions *SessionStore) *SessionService {
	return &SessionService{sessions: sessions}
}

// CreateSession creates a new session with an idle interpreter.
func (s *SessionService) CreateSession(
	ctx context.Context,
	req *connect.Request[CreateSessionRequest],
) (*connect.Response[CreateSessionResponse], error) {
	session := s.sessions.Create(req.Msg.Name)
	return connect.NewResponse(&CreateSessionResponse{
		SessionID: session.ID,
	}), nil
}

// DestroySession destroys a session, aborting any run in flight.
func (s *SessionService) DestroySession(
	ctx context.Context,
	req *connect.Request[DestroySessionRequest],
) (*connect.Response[DestroySessionResponse], error) {
	if _, err := lookupSession(s.sessions, req.Msg.SessionID); err != nil {
		return nil, err
	}
	s.sessions.Destroy(req.Msg.SessionID)
	return connect.NewResponse(&DestroySessionResponse{}), nil
}

// ListSessions describes every session.
func (s *SessionService) ListSessions(
	ctx context.Context,
	req *connect.Request[ListSessionsRequest],
) (*connect.Response[ListSessionsResponse], error) {
	resp := &ListSessionsResponse{Sessions: []SessionInfo{}}
	for _, session := range s.sessions.List() {
		resp.Sessions = append(resp.Sessions, session.info())
	}
	return connect.NewResponse(resp), nil
}
