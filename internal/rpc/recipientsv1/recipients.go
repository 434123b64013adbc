// Package recipientsv1 declares the recipients.v1.Recipients gRPC service.
// Requests and responses are google.protobuf.Struct messages; field layout is owned by internal/convert.
package recipientsv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "recipients.v1.Recipients"

const (
	MergeAndFetchFullMethodName = "/" + ServiceName + "/MergeAndFetch"
	GetRecipientFullMethodName  = "/" + ServiceName + "/GetRecipient"
	WatchChangesFullMethodName  = "/" + ServiceName + "/WatchChanges"
)

// RecipientsServer is the server API for the Recipients service.
type RecipientsServer interface {
	// MergeAndFetch resolves {e164, aci, pni, trust, change_self} onto one recipient.
	MergeAndFetch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// GetRecipient loads {id}.
	GetRecipient(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// WatchChanges streams committed row-level change batches.
	WatchChanges(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

// UnimplementedRecipientsServer answers every method with codes.Unimplemented.
type UnimplementedRecipientsServer struct{}

func (UnimplementedRecipientsServer) MergeAndFetch(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method MergeAndFetch not implemented")
}

func (UnimplementedRecipientsServer) GetRecipient(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetRecipient not implemented")
}

func (UnimplementedRecipientsServer) WatchChanges(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error {
	return status.Error(codes.Unimplemented, "method WatchChanges not implemented")
}

// RegisterRecipientsServer attaches srv to s.
func RegisterRecipientsServer(s grpc.ServiceRegistrar, srv RecipientsServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func mergeAndFetchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RecipientsServer).MergeAndFetch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MergeAndFetchFullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RecipientsServer).MergeAndFetch(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func getRecipientHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RecipientsServer).GetRecipient(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetRecipientFullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RecipientsServer).GetRecipient(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func watchChangesHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(RecipientsServer).WatchChanges(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// ServiceDesc describes recipients.v1.Recipients for grpc.ServiceRegistrar.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RecipientsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "MergeAndFetch", Handler: mergeAndFetchHandler},
		{MethodName: "GetRecipient", Handler: getRecipientHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchChanges", Handler: watchChangesHandler, ServerStreams: true},
	},
	Metadata: "recipients/v1/recipients",
}

// RecipientsClient is the client API for the Recipients service.
type RecipientsClient interface {
	MergeAndFetch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetRecipient(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	WatchChanges(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error)
}

type recipientsClient struct {
	cc grpc.ClientConnInterface
}

// NewRecipientsClient wraps cc.
func NewRecipientsClient(cc grpc.ClientConnInterface) RecipientsClient {
	return &recipientsClient{cc: cc}
}

func (c *recipientsClient) MergeAndFetch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MergeAndFetchFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *recipientsClient) GetRecipient(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetRecipientFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *recipientsClient) WatchChanges(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], WatchChangesFullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
