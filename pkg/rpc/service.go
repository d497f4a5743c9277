package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "chat.ChatService"

// ChatService is the full RPC surface a replica serves: the eight
// client-facing operations, leader discovery, and the replica-to-replica
// coordination calls.
type ChatService interface {
	CreateAccount(ctx context.Context, req *CreateAccountRequest) (*CreateAccountResponse, error)
	Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error)
	ListAccounts(ctx context.Context, req *ListAccountsRequest) (*ListAccountsResponse, error)
	SendMessage(ctx context.Context, req *SendMessageRequest) (*SendMessageResponse, error)
	ReadNewMessages(ctx context.Context, req *ReadNewMessagesRequest) (*ReadNewMessagesResponse, error)
	ListMessages(ctx context.Context, req *ListMessagesRequest) (*ListMessagesResponse, error)
	DeleteMessages(ctx context.Context, req *DeleteMessagesRequest) (*DeleteMessagesResponse, error)
	DeleteAccount(ctx context.Context, req *DeleteAccountRequest) (*DeleteAccountResponse, error)
	GetLeaderInfo(ctx context.Context, req *GetLeaderInfoRequest) (*GetLeaderInfoResponse, error)

	Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error)
	Election(ctx context.Context, req *ElectionRequest) (*ElectionResponse, error)
	ReplicateOperation(ctx context.Context, req *ReplicationRequest) (*ReplicationResponse, error)
	JoinCluster(ctx context.Context, req *JoinClusterRequest) (*JoinClusterResponse, error)
}

// handler adapts one typed service method to the grpc.MethodDesc shape.
func handler[Req any](method string, invoke func(context.Context, ChatService, *Req) (interface{}, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	fullMethod := "/" + serviceName + "/" + method
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return invoke(ctx, srv.(ChatService), in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return invoke(ctx, srv.(ChatService), req.(*Req))
		})
	}
}

var chatServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ChatService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateAccount", Handler: handler("CreateAccount",
			func(ctx context.Context, s ChatService, req *CreateAccountRequest) (interface{}, error) {
				return s.CreateAccount(ctx, req)
			})},
		{MethodName: "Login", Handler: handler("Login",
			func(ctx context.Context, s ChatService, req *LoginRequest) (interface{}, error) {
				return s.Login(ctx, req)
			})},
		{MethodName: "ListAccounts", Handler: handler("ListAccounts",
			func(ctx context.Context, s ChatService, req *ListAccountsRequest) (interface{}, error) {
				return s.ListAccounts(ctx, req)
			})},
		{MethodName: "SendMessage", Handler: handler("SendMessage",
			func(ctx context.Context, s ChatService, req *SendMessageRequest) (interface{}, error) {
				return s.SendMessage(ctx, req)
			})},
		{MethodName: "ReadNewMessages", Handler: handler("ReadNewMessages",
			func(ctx context.Context, s ChatService, req *ReadNewMessagesRequest) (interface{}, error) {
				return s.ReadNewMessages(ctx, req)
			})},
		{MethodName: "ListMessages", Handler: handler("ListMessages",
			func(ctx context.Context, s ChatService, req *ListMessagesRequest) (interface{}, error) {
				return s.ListMessages(ctx, req)
			})},
		{MethodName: "DeleteMessages", Handler: handler("DeleteMessages",
			func(ctx context.Context, s ChatService, req *DeleteMessagesRequest) (interface{}, error) {
				return s.DeleteMessages(ctx, req)
			})},
		{MethodName: "DeleteAccount", Handler: handler("DeleteAccount",
			func(ctx context.Context, s ChatService, req *DeleteAccountRequest) (interface{}, error) {
				return s.DeleteAccount(ctx, req)
			})},
		{MethodName: "GetLeaderInfo", Handler: handler("GetLeaderInfo",
			func(ctx context.Context, s ChatService, req *GetLeaderInfoRequest) (interface{}, error) {
				return s.GetLeaderInfo(ctx, req)
			})},
		{MethodName: "Heartbeat", Handler: handler("Heartbeat",
			func(ctx context.Context, s ChatService, req *HeartbeatRequest) (interface{}, error) {
				return s.Heartbeat(ctx, req)
			})},
		{MethodName: "Election", Handler: handler("Election",
			func(ctx context.Context, s ChatService, req *ElectionRequest) (interface{}, error) {
				return s.Election(ctx, req)
			})},
		{MethodName: "ReplicateOperation", Handler: handler("ReplicateOperation",
			func(ctx context.Context, s ChatService, req *ReplicationRequest) (interface{}, error) {
				return s.ReplicateOperation(ctx, req)
			})},
		{MethodName: "JoinCluster", Handler: handler("JoinCluster",
			func(ctx context.Context, s ChatService, req *JoinClusterRequest) (interface{}, error) {
				return s.JoinCluster(ctx, req)
			})},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterChatService registers the service implementation on a gRPC server.
func RegisterChatService(s grpc.ServiceRegistrar, srv ChatService) {
	s.RegisterService(&chatServiceDesc, srv)
}

// ChatClient is the typed client stub for ChatService.
type ChatClient struct {
	cc grpc.ClientConnInterface
}

// NewChatClient creates a stub over an established connection.
func NewChatClient(cc grpc.ClientConnInterface) *ChatClient {
	return &ChatClient{cc: cc}
}

func invoke[Req, Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, req *Req, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, "/"+serviceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ChatClient) CreateAccount(ctx context.Context, req *CreateAccountRequest, opts ...grpc.CallOption) (*CreateAccountResponse, error) {
	return invoke[CreateAccountRequest, CreateAccountResponse](ctx, c.cc, "CreateAccount", req, opts...)
}

func (c *ChatClient) Login(ctx context.Context, req *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error) {
	return invoke[LoginRequest, LoginResponse](ctx, c.cc, "Login", req, opts...)
}

func (c *ChatClient) ListAccounts(ctx context.Context, req *ListAccountsRequest, opts ...grpc.CallOption) (*ListAccountsResponse, error) {
	return invoke[ListAccountsRequest, ListAccountsResponse](ctx, c.cc, "ListAccounts", req, opts...)
}

func (c *ChatClient) SendMessage(ctx context.Context, req *SendMessageRequest, opts ...grpc.CallOption) (*SendMessageResponse, error) {
	return invoke[SendMessageRequest, SendMessageResponse](ctx, c.cc, "SendMessage", req, opts...)
}

func (c *ChatClient) ReadNewMessages(ctx context.Context, req *ReadNewMessagesRequest, opts ...grpc.CallOption) (*ReadNewMessagesResponse, error) {
	return invoke[ReadNewMessagesRequest, ReadNewMessagesResponse](ctx, c.cc, "ReadNewMessages", req, opts...)
}

func (c *ChatClient) ListMessages(ctx context.Context, req *ListMessagesRequest, opts ...grpc.CallOption) (*ListMessagesResponse, error) {
	return invoke[ListMessagesRequest, ListMessagesResponse](ctx, c.cc, "ListMessages", req, opts...)
}

func (c *ChatClient) DeleteMessages(ctx context.Context, req *DeleteMessagesRequest, opts ...grpc.CallOption) (*DeleteMessagesResponse, error) {
	return invoke[DeleteMessagesRequest, DeleteMessagesResponse](ctx, c.cc, "DeleteMessages", req, opts...)
}

func (c *ChatClient) DeleteAccount(ctx context.Context, req *DeleteAccountRequest, opts ...grpc.CallOption) (*DeleteAccountResponse, error) {
	return invoke[DeleteAccountRequest, DeleteAccountResponse](ctx, c.cc, "DeleteAccount", req, opts...)
}

func (c *ChatClient) GetLeaderInfo(ctx context.Context, req *GetLeaderInfoRequest, opts ...grpc.CallOption) (*GetLeaderInfoResponse, error) {
	return invoke[GetLeaderInfoRequest, GetLeaderInfoResponse](ctx, c.cc, "GetLeaderInfo", req, opts...)
}

func (c *ChatClient) Heartbeat(ctx context.Context, req *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatResponse, error) {
	return invoke[HeartbeatRequest, HeartbeatResponse](ctx, c.cc, "Heartbeat", req, opts...)
}

func (c *ChatClient) Election(ctx context.Context, req *ElectionRequest, opts ...grpc.CallOption) (*ElectionResponse, error) {
	return invoke[ElectionRequest, ElectionResponse](ctx, c.cc, "Election", req, opts...)
}

func (c *ChatClient) ReplicateOperation(ctx context.Context, req *ReplicationRequest, opts ...grpc.CallOption) (*ReplicationResponse, error) {
	return invoke[ReplicationRequest, ReplicationResponse](ctx, c.cc, "ReplicateOperation", req, opts...)
}

func (c *ChatClient) JoinCluster(ctx context.Context, req *JoinClusterRequest, opts ...grpc.CallOption) (*JoinClusterResponse, error) {
	return invoke[JoinClusterRequest, JoinClusterResponse](ctx, c.cc, "JoinCluster", req, opts...)
}
