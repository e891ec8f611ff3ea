package main

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/PaulBabatuyi/recircle-chat/internal/data"
	"github.com/PaulBabatuyi/recircle-chat/internal/realtime"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const serviceName = "recircle.chat.v1.ConversationService"

// Full method names, as seen by interceptors.
const (
	methodRegister        = "/" + serviceName + "/Register"
	methodLogin           = "/" + serviceName + "/Login"
	methodGetOrCreate     = "/" + serviceName + "/GetOrCreate"
	methodGetConversation = "/" + serviceName + "/GetConversation"
	methodListInbox       = "/" + serviceName + "/ListInbox"
	methodMarkSeen        = "/" + serviceName + "/MarkSeen"
	methodEvents          = "/" + serviceName + "/Events"
)

// GetOrCreateRequest names the peer of the conversation.
type GetOrCreateRequest struct {
	PeerID string `json:"peerId"`
}

// GetOrCreateResponse carries the conversation id.
type GetOrCreateResponse struct {
	ConversationID string `json:"conversationId"`
}

// GetConversationRequest selects a conversation and a page of its history.
type GetConversationRequest struct {
	ConversationID string `json:"conversationId"`
	Limit          int    `json:"limit,omitempty"`
	Before         string `json:"before,omitempty"`
}

// GetConversationResponse carries the conversation as seen by the caller.
type GetConversationResponse struct {
	Conversation *data.ConversationView `json:"conversation"`
}

// ListInboxRequest is empty; the caller comes from the token.
type ListInboxRequest struct{}

// ListInboxResponse carries the caller's inbox.
type ListInboxResponse struct {
	Chats []*data.InboxSummary `json:"chats"`
}

// MarkSeenRequest marks every message from PeerID as seen.
type MarkSeenRequest struct {
	ConversationID string `json:"conversationId"`
	PeerID         string `json:"peerId"`
}

// MarkSeenResponse acknowledges MarkSeen.
type MarkSeenResponse struct {
	Message string `json:"message"`
}

// conversationService is the handler type of the service descriptor.
type conversationService interface {
	Register(context.Context, *RegisterRequest) (*AuthResponse, error)
	Login(context.Context, *LoginRequest) (*AuthResponse, error)
	GetOrCreate(context.Context, *GetOrCreateRequest) (*GetOrCreateResponse, error)
	GetConversation(context.Context, *GetConversationRequest) (*GetConversationResponse, error)
	ListInbox(context.Context, *ListInboxRequest) (*ListInboxResponse, error)
	MarkSeen(context.Context, *MarkSeenRequest) (*MarkSeenResponse, error)
	Events(grpc.ServerStream) error
}

var _ conversationService = (*Server)(nil)

// unaryMethod adapts a typed handler to grpc.MethodDesc.
func unaryMethod[Req, Resp any](name string, call func(conversationService, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(conversationService), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(conversationService), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var conversationServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*conversationService)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Register", conversationService.Register),
		unaryMethod("Login", conversationService.Login),
		unaryMethod("GetOrCreate", conversationService.GetOrCreate),
		unaryMethod("GetConversation", conversationService.GetConversation),
		unaryMethod("ListInbox", conversationService.ListInbox),
		unaryMethod("MarkSeen", conversationService.MarkSeen),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "Events",
			Handler: func(srv any, stream grpc.ServerStream) error {
				return srv.(conversationService).Events(stream)
			},
			ServerStreams: true,
			ClientStreams: true,
		},
	},
}

// registerService registers the ConversationService on the given gRPC server.
func registerService(s *grpc.Server, srv *Server) {
	s.RegisterService(&conversationServiceDesc, srv)
}

// Register handles user registration: hashes password, stores user, returns JWT token
func (s *Server) Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error) {
	resp, err := s.register(ctx, req)
	if err != nil {
		return nil, s.grpcError(methodRegister, err)
	}
	return resp, nil
}

// Login authenticates a user and returns a JWT token
func (s *Server) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	resp, err := s.login(ctx, req)
	if err != nil {
		return nil, s.grpcError(methodLogin, err)
	}
	return resp, nil
}

// callerID returns the authenticated user placed in ctx by the interceptors.
func callerID(ctx context.Context) (string, error) {
	claims, ok := getClaimsFromContext(ctx)
	if !ok {
		return "", status.Errorf(codes.Unauthenticated, "missing auth claims")
	}
	return claims.UserID, nil
}

// GetOrCreate returns the conversation between the caller and a peer.
func (s *Server) GetOrCreate(ctx context.Context, req *GetOrCreateRequest) (*GetOrCreateResponse, error) {
	me, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	id, err := s.convs.GetOrCreate(ctx, me, req.PeerID)
	if err != nil {
		return nil, s.grpcError(methodGetOrCreate, err)
	}
	return &GetOrCreateResponse{ConversationID: id}, nil
}

// GetConversation returns a page of history.
func (s *Server) GetConversation(ctx context.Context, req *GetConversationRequest) (*GetConversationResponse, error) {
	me, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	if req.Limit < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit must be non-negative")
	}
	page := data.Page{Limit: min(req.Limit, maxPageLimit), Before: req.Before}
	view, err := s.convs.GetConversation(ctx, req.ConversationID, me, page)
	if err != nil {
		return nil, s.grpcError(methodGetConversation, err)
	}
	return &GetConversationResponse{Conversation: view}, nil
}

// ListInbox returns the caller's inbox.
func (s *Server) ListInbox(ctx context.Context, _ *ListInboxRequest) (*ListInboxResponse, error) {
	me, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	chats, err := s.convs.ListInbox(ctx, me)
	if err != nil {
		return nil, s.grpcError(methodListInbox, err)
	}
	return &ListInboxResponse{Chats: chats}, nil
}

// MarkSeen marks the peer's messages as seen.
func (s *Server) MarkSeen(ctx context.Context, req *MarkSeenRequest) (*MarkSeenResponse, error) {
	me, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.channel.MarkSeen(ctx, me, req.ConversationID, req.PeerID, ""); err != nil {
		return nil, s.grpcError(methodMarkSeen, err)
	}
	return &MarkSeenResponse{Message: "updated"}, nil
}

// Events is the bidirectional realtime stream: client events in, relayed
// server events out. A failed client event is answered with an error event
// and the stream stays open.
func (s *Server) Events(stream grpc.ServerStream) error {
	me, err := callerID(stream.Context())
	if err != nil {
		return err
	}

	out := realtime.NewOutbox(s.sendQueue)
	handle, err := s.hub.Join(me, "grpc", out)
	if err != nil {
		return status.Error(codes.Unavailable, "server shutting down")
	}
	defer s.hub.Leave(handle)
	defer out.Close()

	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	s.log.Info("grpc.events.open", "user_id", me, "conn_id", handle.ID)
	start := time.Now()
	defer func() {
		s.log.Info("grpc.events.close", "user_id", me, "conn_id", handle.ID, "duration_ms", time.Since(start).Milliseconds())
	}()

	// Only this goroutine sends on the stream.
	writeErr := make(chan error, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-out.Done():
				if out.Overflowed() {
					writeErr <- status.Error(codes.ResourceExhausted, "client is not reading events fast enough")
				} else {
					writeErr <- status.Error(codes.Unavailable, "server shutting down")
				}
				return
			case env := <-out.C():
				if err := stream.SendMsg(&env); err != nil {
					writeErr <- err
					return
				}
			}
		}
	}()

	// Only this goroutine receives. It ends when the stream does, which
	// returning from Events guarantees.
	readErr := make(chan error, 1)
	go func() {
		for {
			var env realtime.Envelope
			if err := stream.RecvMsg(&env); err != nil {
				readErr <- err
				return
			}
			if err := s.channel.Handle(ctx, me, env); err != nil {
				_ = out.Send(realtime.ErrorEnvelope(env.Event, err))
			}
		}
	}()

	select {
	case err := <-readErr:
		if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
			return nil
		}
		return err
	case err := <-writeErr:
		return err
	}
}
