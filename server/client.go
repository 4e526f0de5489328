package server

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// Client calls a WangServer.
type Client struct {
	createSession  *connect.Client[CreateSessionRequest, CreateSessionResponse]
	destroySession *connect.Client[DestroySessionRequest, DestroySessionResponse]
	listSessions   *connect.Client[ListSessionsRequest, ListSessionsResponse]

	start  *connect.Client[StartRequest, StateResponse]
	pause  *connect.Client[ControlRequest, StateResponse]
	resume *connect.Client[ControlRequest, StateResponse]
	abort  *connect.Client[ControlRequest, StateResponse]
	wait   *connect.Client[ControlRequest, StateResponse]
	state  *connect.Client[ControlRequest, StateResponse]

	snapshot       *connect.Client[SnapshotRequest, SnapshotResponse]
	restore        *connect.Client[RestoreRequest, StateResponse]
	listSnapshots  *connect.Client[ListSnapshotsRequest, ListSnapshotsResponse]
	deleteSnapshot *connect.Client[DeleteSnapshotRequest, DeleteSnapshotResponse]
}

func newClient[Req, Res any](hc connect.HTTPClient, baseURL, service, method string) *connect.Client[Req, Res] {
	return connect.NewClient[Req, Res](hc, baseURL+procedure(service, method), connect.WithCodec(jsonCodec{}))
}

// NewClient returns a client for the server at baseURL.
func NewClient(hc connect.HTTPClient, baseURL string) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")
	return &Client{
		createSession:  newClient[CreateSessionRequest, CreateSessionResponse](hc, baseURL, SessionServiceName, "CreateSession"),
		destroySession: newClient[DestroySessionRequest, DestroySessionResponse](hc, baseURL, SessionServiceName, "DestroySession"),
		listSessions:   newClient[ListSessionsRequest, ListSessionsResponse](hc, baseURL, SessionServiceName, "ListSessions"),

		start:  newClient[StartRequest, StateResponse](hc, baseURL, ExecutionServiceName, "Start"),
		pause:  newClient[ControlRequest, StateResponse](hc, baseURL, ExecutionServiceName, "Pause"),
		resume: newClient[ControlRequest, StateResponse](hc, baseURL, ExecutionServiceName, "Resume"),
		abort:  newClient[ControlRequest, StateResponse](hc, baseURL, ExecutionServiceName, "Abort"),
		wait:   newClient[ControlRequest, StateResponse](hc, baseURL, ExecutionServiceName, "Wait"),
		state:  newClient[ControlRequest, StateResponse](hc, baseURL, ExecutionServiceName, "State"),

		snapshot:       newClient[SnapshotRequest, SnapshotResponse](hc, baseURL, SnapshotServiceName, "Snapshot"),
		restore:        newClient[RestoreRequest, StateResponse](hc, baseURL, SnapshotServiceName, "Restore"),
		listSnapshots:  newClient[ListSnapshotsRequest, ListSnapshotsResponse](hc, baseURL, SnapshotServiceName, "ListSnapshots"),
		deleteSnapshot: newClient[DeleteSnapshotRequest, DeleteSnapshotResponse](hc, baseURL, SnapshotServiceName, "DeleteSnapshot"),
	}
}

func call[Req, Res any](ctx context.Context, c *connect.Client[Req, Res], msg *Req) (*Res, error) {
	resp, err := c.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) CreateSession(ctx context.Context, name string) (string, error) {
	resp, err := call(ctx, c.createSession, &CreateSessionRequest{Name: name})
	if err != nil {
		return "", err
	}
	return resp.SessionID, nil
}

func (c *Client) DestroySession(ctx context.Context, id string) error {
	_, err := call(ctx, c.destroySession, &DestroySessionRequest{SessionID: id})
	return err
}

func (c *Client) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	resp, err := call(ctx, c.listSessions, &ListSessionsRequest{})
	if err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

func (c *Client) Start(ctx context.Context, req *StartRequest) (*StateResponse, error) {
	return call(ctx, c.start, req)
}

func (c *Client) Pause(ctx context.Context, req *ControlRequest) (*StateResponse, error) {
	return call(ctx, c.pause, req)
}

func (c *Client) Resume(ctx context.Context, req *ControlRequest) (*StateResponse, error) {
	return call(ctx, c.resume, req)
}

func (c *Client) Abort(ctx context.Context, req *ControlRequest) (*StateResponse, error) {
	return call(ctx, c.abort, req)
}

func (c *Client) Wait(ctx context.Context, id string) (*StateResponse, error) {
	return call(ctx, c.wait, &ControlRequest{SessionID: id})
}

func (c *Client) State(ctx context.Context, id string) (*StateResponse, error) {
	return call(ctx, c.state, &ControlRequest{SessionID: id})
}

func (c *Client) Snapshot(ctx context.Context, req *SnapshotRequest) (*SnapshotResponse, error) {
	return call(ctx, c.snapshot, req)
}

func (c *Client) Restore(ctx context.Context, req *RestoreRequest) (*StateResponse, error) {
	return call(ctx, c.restore, req)
}

func (c *Client) ListSnapshots(ctx context.Context) (*ListSnapshotsResponse, error) {
	return call(ctx, c.listSnapshots, &ListSnapshotsRequest{})
}

func (c *Client) DeleteSnapshot(ctx context.Context, id string) error {
	_, err := call(ctx, c.deleteSnapshot, &DeleteSnapshotRequest{SnapshotID: id})
	return err
}
