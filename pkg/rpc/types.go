package rpc

// Typed request/response messages for every operation. Field tags are the
// wire contract; the registered JSON codec serializes them (see codec.go).
// Every response carries success and a human-readable message unless noted.

type CreateAccountRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CreateAccountResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	UnreadCount int32  `json:"unread_count"`
}

type ListAccountsRequest struct {
	Username string `json:"username"`
	Pattern  string `json:"pattern"`
}

type ListAccountsResponse struct {
	Success  bool     `json:"success"`
	Accounts []string `json:"accounts"`
}

type SendMessageRequest struct {
	Sender  string `json:"sender"`
	To      string `json:"to"`
	Content string `json:"content"`
}

type SendMessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type ReadNewMessagesRequest struct {
	Username string `json:"username"`
	Count    int32  `json:"count"`
}

type ReadNewMessagesResponse struct {
	Success  bool     `json:"success"`
	Messages []string `json:"messages"`
}

type ListMessagesRequest struct {
	Username string `json:"username"`
}

type ListMessagesResponse struct {
	Success  bool     `json:"success"`
	Messages []string `json:"messages"`
}

type DeleteMessagesRequest struct {
	Username   string  `json:"username"`
	MessageIDs []int64 `json:"message_ids"`
}

type DeleteMessagesResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type DeleteAccountRequest struct {
	Username string `json:"username"`
}

type DeleteAccountResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type GetLeaderInfoRequest struct{}

type GetLeaderInfoResponse struct {
	Success          bool     `json:"success"`
	LeaderAddress    string   `json:"leader_address"`
	Message          string   `json:"message"`
	ReplicaAddresses []string `json:"replica_addresses"`
}

// Replica-to-replica messages.

type HeartbeatRequest struct {
	LeaderID      int    `json:"leader_id"`
	Timestamp     int64  `json:"timestamp"`
	LeaderAddress string `json:"leader_address"`
}

type HeartbeatResponse struct {
	Success bool `json:"success"`
}

type ElectionRequest struct {
	CandidateID int `json:"candidate_id"`
}

type ElectionResponse struct {
	VoteGranted bool `json:"vote_granted"`
}

type ReplicationRequest struct {
	OperationType string `json:"operation_type"`
	Data          string `json:"data"`
}

type ReplicationResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type JoinClusterRequest struct {
	NewServerAddress string `json:"new_server_address"`
}

type JoinClusterResponse struct {
	Success bool   `json:"success"`
	State   string `json:"state"`
	Message string `json:"message"`
}
