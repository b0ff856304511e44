package rpctransport

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
)

// codecName identifies rawCodec to gRPC's content-subtype negotiation.
const codecName = "rpcore-raw"

// rawCodec is a byte-passthrough grpc.Codec: it neither knows nor cares
// about protobuf, since rpcore's wire payloads are opaque []byte. Both
// grpc_server.go and grpc_client.go force this codec via
// grpc.ForceServerCodec/grpc.ForceCodec so no .proto/protoc step is needed
// anywhere in this module.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	b, ok := v.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("rpctransport: rawCodec cannot marshal %T", v)
	}
	return *b, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("rpctransport: rawCodec cannot unmarshal into %T", v)
	}
	*b = append([]byte(nil), data...)
	return nil
}

func (rawCodec) Name() string {
	return codecName
}

// transportServer is the hand-rolled service interface the ServiceDesc below
// dispatches into; grpc_server.go's Server implements it.
type transportServer interface {
	Dispatch(ctx context.Context, req []byte) ([]byte, error)
	Send(ctx context.Context, req []byte) ([]byte, error)
}

// decodeRequest is the shared "decode, run interceptor chain, invoke"
// boilerplate a protoc-generated _Handler function would otherwise contain.
func decodeRequest(
	ctx context.Context, dec func(any) error,
	srv any, info *grpc.UnaryServerInfo, interceptor grpc.UnaryServerInterceptor,
	invoke func(context.Context, []byte) ([]byte, error),
) (any, error) {
	in := new([]byte)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		resp, err := invoke(ctx, *in)
		return &resp, err
	}

	handler := func(ctx context.Context, req any) (any, error) {
		resp, err := invoke(ctx, *req.(*[]byte))
		return &resp, err
	}
	return interceptor(ctx, in, info, handler)
}

func dispatchHandler(
	srv any, ctx context.Context, dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	info := &grpc.UnaryServerInfo{
		Server: srv, FullMethod: "/rpcore.Transport/Dispatch",
	}
	return decodeRequest(ctx, dec, srv, info, interceptor, srv.(transportServer).Dispatch)
}

func sendHandler(
	srv any, ctx context.Context, dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	info := &grpc.UnaryServerInfo{
		Server: srv, FullMethod: "/rpcore.Transport/Send",
	}
	return decodeRequest(ctx, dec, srv, info, interceptor, srv.(transportServer).Send)
}

// serviceDesc is the hand-rolled analog of a protoc-generated
// *_grpc.pb.go's ServiceDesc: one "Dispatch" unary RPC (request/response)
// and one "Send" unary RPC (fire-and-forget, acked with an empty frame),
// both carrying opaque frames rather than a generated message type.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "rpcore.Transport",
	HandlerType: (*transportServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Dispatch", Handler: dispatchHandler},
		{MethodName: "Send", Handler: sendHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rpcore/transport.proto",
}
