package server

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"

	"github.com/chazu/wang/store"
	"github.com/chazu/wang/vm"
)

// SnapshotService saves session state to the snapshot store and restores
// stored snapshots into new sessions.
type SnapshotService struct {
	sessions *SessionStore
	store    *store.Store
}

// NewSnapshotService creates a SnapshotService.
func NewSnapshotService(sessions *SessionStore, st *store.Store) *SnapshotService {
	return &SnapshotService{sessions: sessions, store: st}
}

func (s *SnapshotService) check() error {
	if s.store == nil {
		return connect.NewError(connect.CodeUnimplemented, errors.New("no snapshot store configured"))
	}
	return nil
}

// Snapshot serializes an idle, paused or finished session and stores it.
func (s *SnapshotService) Snapshot(
	ctx context.Context,
	req *connect.Request[SnapshotRequest],
) (*connect.Response[SnapshotResponse], error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	session, err := lookupSession(s.sessions, req.Msg.SessionID)
	if err != nil {
		return nil, err
	}
	if session.running() {
		return nil, connect.NewError(connect.CodeFailedPrecondition,
			fmt.Errorf("session %s is running; pause it first", session.ID))
	}
	result, err := session.worker.Do(func(i *vm.Interpreter) (any, error) {
		return i.Serialize()
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeFailedPrecondition, err)
	}
	id, err := s.store.Save(ctx, req.Msg.SnapshotID, req.Msg.Label, result.(*vm.Snapshot))
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(&SnapshotResponse{Snapshot: *rec}), nil
}

// Restore loads a stored snapshot into a new session. A paused snapshot
// restores paused and is continued with Resume.
func (s *SnapshotService) Restore(
	ctx context.Context,
	req *connect.Request[RestoreRequest],
) (*connect.Response[StateResponse], error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	id, err := s.store.Find(ctx, req.Msg.SnapshotID)
	if err != nil {
		return nil, storeError(err)
	}
	snap, rec, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	interp, err := vm.Deserialize(snap, s.sessions.Options()...)
	if err != nil {
		return nil, connect.NewError(connect.CodeDataLoss, err)
	}
	name := req.Msg.Name
	if name == "" {
		name = rec.Label
	}
	session := s.sessions.Adopt(name, interp)
	log.Infof("snapshot %s restored into session %s", id, session.ID)
	return connect.NewResponse(stateOf(session)), nil
}

// ListSnapshots describes the stored snapshots.
func (s *SnapshotService) ListSnapshots(
	ctx context.Context,
	req *connect.Request[ListSnapshotsRequest],
) (*connect.Response[ListSnapshotsResponse], error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	recs, err := s.store.List(ctx)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	if recs == nil {
		recs = []store.Record{}
	}
	return connect.NewResponse(&ListSnapshotsResponse{Snapshots: recs}), nil
}

// DeleteSnapshot removes a stored snapshot.
func (s *SnapshotService) DeleteSnapshot(
	ctx context.Context,
	req *connect.Request[DeleteSnapshotRequest],
) (*connect.Response[DeleteSnapshotResponse], error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := s.store.Delete(ctx, req.Msg.SnapshotID); err != nil {
		return nil, storeError(err)
	}
	return connect.NewResponse(&DeleteSnapshotResponse{}), nil
}

func storeError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return connect.NewError(connect.CodeNotFound, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}
