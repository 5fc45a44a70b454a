package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// NegotiatorServer is implemented by the daemon; it is the HandlerType of
// ServiceDesc below.
type NegotiatorServer interface {
	SendTx(context.Context, *SendTxRequest) (*SendTxResponse, error)
	CancelTx(context.Context, *CancelTxRequest) (*CancelTxResponse, error)
	GetStatus(context.Context, *GetStatusRequest) (*GetStatusResponse, error)
}

// RegisterNegotiatorServer registers srv against s, the same shape
// protoc-gen-go would emit, hand-written since there is no .proto source.
func RegisterNegotiatorServer(s *grpc.Server, srv NegotiatorServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func _Negotiator_SendTx_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SendTxRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NegotiatorServer).SendTx(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/negwalletrpc.Negotiator/SendTx"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NegotiatorServer).SendTx(ctx, req.(*SendTxRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Negotiator_CancelTx_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CancelTxRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NegotiatorServer).CancelTx(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/negwalletrpc.Negotiator/CancelTx"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NegotiatorServer).CancelTx(ctx, req.(*CancelTxRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Negotiator_GetStatus_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NegotiatorServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/negwalletrpc.Negotiator/GetStatus"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NegotiatorServer).GetStatus(ctx, req.(*GetStatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is the grpc service descriptor for Negotiator.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "negwalletrpc.Negotiator",
	HandlerType: (*NegotiatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SendTx", Handler: _Negotiator_SendTx_Handler},
		{MethodName: "CancelTx", Handler: _Negotiator_CancelTx_Handler},
		{MethodName: "GetStatus", Handler: _Negotiator_GetStatus_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "negwalletrpc",
}

// NegotiatorClient is the client-side counterpart of NegotiatorServer.
type NegotiatorClient interface {
	SendTx(ctx context.Context, in *SendTxRequest) (*SendTxResponse, error)
	CancelTx(ctx context.Context, in *CancelTxRequest) (*CancelTxResponse, error)
	GetStatus(ctx context.Context, in *GetStatusRequest) (*GetStatusResponse, error)
}

type negotiatorClient struct {
	cc *grpc.ClientConn
}

// NewNegotiatorClient wraps cc, which must have been dialed with
// DefaultCallOptions (see NewGobDialOption) so every call negotiates the gob
// codec.
func NewNegotiatorClient(cc *grpc.ClientConn) NegotiatorClient {
	return &negotiatorClient{cc: cc}
}

// NewGobDialOption returns the grpc.DialOption every client must pass so its
// calls are encoded with the gob codec registered in codec.go.
func NewGobDialOption() grpc.DialOption {
	return grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName))
}

func (c *negotiatorClient) SendTx(ctx context.Context, in *SendTxRequest) (*SendTxResponse, error) {
	out := new(SendTxResponse)
	if err := c.cc.Invoke(ctx, "/negwalletrpc.Negotiator/SendTx", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *negotiatorClient) CancelTx(ctx context.Context, in *CancelTxRequest) (*CancelTxResponse, error) {
	out := new(CancelTxResponse)
	if err := c.cc.Invoke(ctx, "/negwalletrpc.Negotiator/CancelTx", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *negotiatorClient) GetStatus(ctx context.Context, in *GetStatusRequest) (*GetStatusResponse, error) {
	out := new(GetStatusResponse)
	if err := c.cc.Invoke(ctx, "/negwalletrpc.Negotiator/GetStatus", in, out); err != nil {
		return nil, err
	}
	return out, nil
}
