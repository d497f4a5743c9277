package rpc

import (
	"context"
	"encoding/json"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/vzdtic/replicated-chat/pkg/chat"
	"github.com/vzdtic/replicated-chat/pkg/cluster"
	"github.com/vzdtic/replicated-chat/pkg/replication"
	"github.com/vzdtic/replicated-chat/pkg/store"
)

// Server serves the ChatService for one replica. It translates between the
// wire messages and the chat, cluster, and replication layers; chat errors
// become failed responses carrying the error text, never RPC errors.
type Server struct {
	chat    *chat.Service
	replica *cluster.Replica
	store   *store.Store
	logger  *zap.Logger

	grpcServer *grpc.Server
}

// NewServer builds the gRPC server with the JSON codec forced and the
// service registered.
func NewServer(chatSvc *chat.Service, replica *cluster.Replica, st *store.Store, logger *zap.Logger) *Server {
	s := &Server{
		chat:       chatSvc,
		replica:    replica,
		store:      st,
		logger:     logger,
		grpcServer: grpc.NewServer(grpc.ForceServerCodec(Codec{})),
	}
	RegisterChatService(s.grpcServer, s)
	return s
}

// Serve blocks serving the listener until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("serving", zap.String("address", lis.Addr().String()))
	return s.grpcServer.Serve(lis)
}

// Stop shuts the gRPC server down, draining in-flight RPCs.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

func (s *Server) CreateAccount(ctx context.Context, req *CreateAccountRequest) (*CreateAccountResponse, error) {
	msg, err := s.chat.CreateAccount(req.Username, req.Password)
	if err != nil {
		return &CreateAccountResponse{Success: false, Message: err.Error()}, nil
	}
	return &CreateAccountResponse{Success: true, Message: msg}, nil
}

func (s *Server) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	unread, msg, err := s.chat.Login(req.Username, req.Password)
	if err != nil {
		return &LoginResponse{Success: false, Message: err.Error()}, nil
	}
	return &LoginResponse{Success: true, Message: msg, UnreadCount: int32(unread)}, nil
}

func (s *Server) ListAccounts(ctx context.Context, req *ListAccountsRequest) (*ListAccountsResponse, error) {
	accounts, err := s.chat.ListAccounts(req.Pattern)
	if err != nil {
		return &ListAccountsResponse{Success: false}, nil
	}
	return &ListAccountsResponse{Success: true, Accounts: accounts}, nil
}

func (s *Server) SendMessage(ctx context.Context, req *SendMessageRequest) (*SendMessageResponse, error) {
	msg, err := s.chat.SendMessage(req.Sender, req.To, req.Content)
	if err != nil {
		return &SendMessageResponse{Success: false, Message: err.Error()}, nil
	}
	return &SendMessageResponse{Success: true, Message: msg}, nil
}

func (s *Server) ReadNewMessages(ctx context.Context, req *ReadNewMessagesRequest) (*ReadNewMessagesResponse, error) {
	msgs, err := s.chat.ReadNewMessages(req.Username, int(req.Count))
	if err != nil {
		return &ReadNewMessagesResponse{Success: false}, nil
	}
	return &ReadNewMessagesResponse{Success: true, Messages: msgs}, nil
}

func (s *Server) ListMessages(ctx context.Context, req *ListMessagesRequest) (*ListMessagesResponse, error) {
	msgs, err := s.chat.ListMessages(req.Username)
	if err != nil {
		return &ListMessagesResponse{Success: false}, nil
	}
	return &ListMessagesResponse{Success: true, Messages: msgs}, nil
}

func (s *Server) DeleteMessages(ctx context.Context, req *DeleteMessagesRequest) (*DeleteMessagesResponse, error) {
	msg, err := s.chat.DeleteMessages(req.Username, req.MessageIDs)
	if err != nil {
		return &DeleteMessagesResponse{Success: false, Message: err.Error()}, nil
	}
	return &DeleteMessagesResponse{Success: true, Message: msg}, nil
}

func (s *Server) DeleteAccount(ctx context.Context, req *DeleteAccountRequest) (*DeleteAccountResponse, error) {
	msg, err := s.chat.DeleteAccount(req.Username)
	if err != nil {
		return &DeleteAccountResponse{Success: false, Message: err.Error()}, nil
	}
	return &DeleteAccountResponse{Success: true, Message: msg}, nil
}

func (s *Server) GetLeaderInfo(ctx context.Context, req *GetLeaderInfoRequest) (*GetLeaderInfoResponse, error) {
	info := s.replica.Info()
	return &GetLeaderInfoResponse{
		Success:          info.Success,
		LeaderAddress:    info.LeaderAddress,
		Message:          info.Message,
		ReplicaAddresses: info.ReplicaAddresses,
	}, nil
}

func (s *Server) Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	s.replica.RecordHeartbeat(req.LeaderID, req.LeaderAddress)
	return &HeartbeatResponse{Success: true}, nil
}

func (s *Server) Election(ctx context.Context, req *ElectionRequest) (*ElectionResponse, error) {
	granted := s.replica.VoteOn(req.CandidateID)
	s.logger.Info("vote requested",
		zap.Int("candidate_id", req.CandidateID), zap.Bool("granted", granted))
	return &ElectionResponse{VoteGranted: granted}, nil
}

// ReplicateOperation applies a leader-originated record to the local store.
// Apply failures are reported back; the leader only logs them.
func (s *Server) ReplicateOperation(ctx context.Context, req *ReplicationRequest) (*ReplicationResponse, error) {
	rec := replication.Record{
		OperationType: replication.OpType(req.OperationType),
		Data:          json.RawMessage(req.Data),
	}
	if err := replication.Apply(s.store, rec); err != nil {
		s.logger.Warn("replicated operation failed",
			zap.String("operation", req.OperationType), zap.Error(err))
		return &ReplicationResponse{Success: false, Message: err.Error()}, nil
	}
	return &ReplicationResponse{Success: true, Message: "Operation replicated"}, nil
}

// JoinCluster registers the new replica as a peer and hands it a full state
// snapshot. Serving this on a follower is harmless; joiners only call the
// leader they located.
func (s *Server) JoinCluster(ctx context.Context, req *JoinClusterRequest) (*JoinClusterResponse, error) {
	s.replica.RegisterPeer(req.NewServerAddress)
	snap, err := s.store.SnapshotAll()
	if err != nil {
		return &JoinClusterResponse{Success: false, Message: err.Error()}, nil
	}
	state, err := json.Marshal(snap)
	if err != nil {
		return &JoinClusterResponse{Success: false, Message: err.Error()}, nil
	}
	s.logger.Info("replica joined, state transferred",
		zap.String("new_server", req.NewServerAddress),
		zap.Int("accounts", len(snap.Accounts)),
		zap.Int("messages", len(snap.Messages)))
	return &JoinClusterResponse{Success: true, State: string(state), Message: "State transfer complete"}, nil
}
