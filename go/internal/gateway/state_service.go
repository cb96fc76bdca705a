package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/pollsync/go/internal/livepoll/chat"
	"github.com/mcdev12/pollsync/go/internal/livepoll/participants"
	"github.com/mcdev12/pollsync/go/internal/livepoll/policy"
	"github.com/mcdev12/pollsync/go/internal/models"
	"github.com/mcdev12/pollsync/go/internal/store"
)

const (
	StateServiceName       = "pollsync.v1.StateService"
	GetSnapshotProcedure   = "/" + StateServiceName + "/GetSnapshot"
	ListHistoryProcedure   = "/" + StateServiceName + "/ListHistory"
	defaultHistoryPageSize = 20
)

type GetSnapshotRequest struct{}

// Snapshot is the reconciliation read a client performs on connect, without a session.
type Snapshot struct {
	ActivePoll    *models.Poll         `json:"active_poll"`
	TimeRemaining int                  `json:"time_remaining"`
	Participants  []models.User        `json:"participants"`
	History       []models.PollResult  `json:"history"`
	ChatMessages  []models.ChatMessage `json:"chat_messages"`
	ServerTime    time.Time            `json:"server_time"`
}

type ListHistoryRequest struct {
	Limit int `json:"limit"`
}

type ListHistoryResponse struct {
	History []models.PollResult `json:"history"`
}

// StateService serves read-only views of the shared session over Connect.
type StateService struct {
	store  store.Store
	roster *participants.Tracker
	chat   *chat.Relay
	clock  clockwork.Clock
}

func NewStateService(s store.Store, clock clockwork.Clock, cfg policy.Config) *StateService {
	return &StateService{
		store:  s,
		roster: participants.NewTracker(s, clock, cfg),
		chat:   chat.NewRelay(s, cfg),
		clock:  clock,
	}
}

func (s *StateService) GetSnapshot(ctx context.Context, _ *connect.Request[GetSnapshotRequest]) (*connect.Response[Snapshot], error) {
	active, err := s.store.GetActivePoll(ctx)
	if err != nil {
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}
	roster, err := s.roster.Roster(ctx)
	if err != nil {
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}
	messages, err := s.chat.Recent(ctx)
	if err != nil {
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}
	history, err := s.history(ctx, 0)
	if err != nil {
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}

	now := s.clock.Now()
	snap := &Snapshot{
		ActivePoll:   active,
		Participants: roster,
		History:      history,
		ChatMessages: messages,
		ServerTime:   now.UTC(),
	}
	if active != nil {
		snap.TimeRemaining = active.RemainingAt(now)
	}
	return connect.NewResponse(snap), nil
}

func (s *StateService) ListHistory(ctx context.Context, req *connect.Request[ListHistoryRequest]) (*connect.Response[ListHistoryResponse], error) {
	limit := req.Msg.Limit
	if limit < 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("limit must not be negative"))
	}
	if limit == 0 {
		limit = defaultHistoryPageSize
	}

	history, err := s.history(ctx, limit)
	if err != nil {
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}
	return connect.NewResponse(&ListHistoryResponse{History: history}), nil
}

func (s *StateService) history(ctx context.Context, limit int) ([]models.PollResult, error) {
	polls, err := s.store.ListEndedPolls(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ended polls: %w", err)
	}
	results := make([]models.PollResult, len(polls))
	for i := range polls {
		results[i] = models.NewPollResult(&polls[i])
	}
	return results, nil
}

// NewStateServiceHandler mounts svc on its Connect procedures.
func NewStateServiceHandler(svc *StateService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	getSnapshot := connect.NewUnaryHandler(GetSnapshotProcedure, svc.GetSnapshot, opts...)
	listHistory := connect.NewUnaryHandler(ListHistoryProcedure, svc.ListHistory, opts...)

	return "/" + StateServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case GetSnapshotProcedure:
			getSnapshot.ServeHTTP(w, r)
		case ListHistoryProcedure:
			listHistory.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// StateServiceClient calls the read API.
type StateServiceClient struct {
	getSnapshot *connect.Client[GetSnapshotRequest, Snapshot]
	listHistory *connect.Client[ListHistoryRequest, ListHistoryResponse]
}

func NewStateServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *StateServiceClient {
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &StateServiceClient{
		getSnapshot: connect.NewClient[GetSnapshotRequest, Snapshot](httpClient, baseURL+GetSnapshotProcedure, opts...),
		listHistory: connect.NewClient[ListHistoryRequest, ListHistoryResponse](httpClient, baseURL+ListHistoryProcedure, opts...),
	}
}

func (c *StateServiceClient) GetSnapshot(ctx context.Context) (*Snapshot, error) {
	res, err := c.getSnapshot.CallUnary(ctx, connect.NewRequest(&GetSnapshotRequest{}))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *StateServiceClient) ListHistory(ctx context.Context, limit int) ([]models.PollResult, error) {
	res, err := c.listHistory.CallUnary(ctx, connect.NewRequest(&ListHistoryRequest{Limit: limit}))
	if err != nil {
		return nil, err
	}
	return res.Msg.History, nil
}

// jsonCodec lets Connect carry plain Go structs. It replaces the protobuf JSON codec
// under the same name, so clients send application/json.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
