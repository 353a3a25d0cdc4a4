package grpcstore

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// StoreServer is the server API for the twine Store gRPC service.
//
// Requests name blocks with resolver selector strings ("<strand>",
// "<strand>:<index>", "<strand>:latest", "<strand>:<tixel>",
// "<strand>:<start>:<end>"); responses carry raw block bytes. Only protobuf
// well-known types are used, so no codegen toolchain is required.
//
// Proto definition: store.proto.
type StoreServer interface {
	Has(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	Fetch(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	Save(context.Context, *wrapperspb.BytesValue) (*wrapperspb.StringValue, error)
	Delete(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Range(*wrapperspb.StringValue, Store_BlocksServer) error
	Strands(*emptypb.Empty, Store_BlocksServer) error
}

// UnimplementedStoreServer can be embedded to have forward compatible implementations.
type UnimplementedStoreServer struct{}

func (UnimplementedStoreServer) Has(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Has not implemented")
}
func (UnimplementedStoreServer) Fetch(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Fetch not implemented")
}
func (UnimplementedStoreServer) Save(context.Context, *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Save not implemented")
}
func (UnimplementedStoreServer) Delete(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Delete not implemented")
}
func (UnimplementedStoreServer) Range(*wrapperspb.StringValue, Store_BlocksServer) error {
	return status.Error(codes.Unimplemented, "method Range not implemented")
}
func (UnimplementedStoreServer) Strands(*emptypb.Empty, Store_BlocksServer) error {
	return status.Error(codes.Unimplemented, "method Strands not implemented")
}

// RegisterStoreServer registers the Store service on a gRPC server.
func RegisterStoreServer(s grpc.ServiceRegistrar, srv StoreServer) {
	s.RegisterService(&Store_ServiceDesc, srv)
}

const serviceName = "xdao.twine.storage.v1.Store"

// StoreClient is the client API for the Store gRPC service.
type StoreClient interface {
	Has(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error)
	Fetch(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	Save(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	Delete(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Range(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (Store_BlocksClient, error)
	Strands(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (Store_BlocksClient, error)
}

type storeClient struct{ cc grpc.ClientConnInterface }

func NewStoreClient(cc grpc.ClientConnInterface) StoreClient { return &storeClient{cc: cc} }

func (c *storeClient) Has(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Has", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storeClient) Fetch(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Fetch", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storeClient) Save(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Save", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storeClient) Delete(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Delete", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storeClient) Range(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (Store_BlocksClient, error) {
	return c.serverStream(ctx, 0, "Range", in, opts...)
}

func (c *storeClient) Strands(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (Store_BlocksClient, error) {
	return c.serverStream(ctx, 1, "Strands", in, opts...)
}

func (c *storeClient) serverStream(ctx context.Context, desc int, method string, in any, opts ...grpc.CallOption) (Store_BlocksClient, error) {
	stream, err := c.cc.NewStream(ctx, &Store_ServiceDesc.Streams[desc], "/"+serviceName+"/"+method, opts...)
	if err != nil {
		return nil, err
	}
	x := &storeBlocksClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// Store_BlocksClient receives a server stream of blocks.
type Store_BlocksClient interface {
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ClientStream
}

type storeBlocksClient struct{ grpc.ClientStream }

func (x *storeBlocksClient) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Store_BlocksServer sends a stream of blocks.
type Store_BlocksServer interface {
	Send(*wrapperspb.BytesValue) error
	grpc.ServerStream
}

type storeBlocksServer struct{ grpc.ServerStream }

func (x *storeBlocksServer) Send(m *wrapperspb.BytesValue) error { return x.ServerStream.SendMsg(m) }

func _Store_Has_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StoreServer).Has(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Has"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StoreServer).Has(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Store_Fetch_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StoreServer).Fetch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Fetch"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StoreServer).Fetch(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Store_Save_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StoreServer).Save(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Save"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StoreServer).Save(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Store_Delete_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StoreServer).Delete(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Delete"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StoreServer).Delete(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Store_Range_Handler(srv interface{}, stream grpc.ServerStream) error {
	in := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(StoreServer).Range(in, &storeBlocksServer{stream})
}

func _Store_Strands_Handler(srv interface{}, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(StoreServer).Strands(in, &storeBlocksServer{stream})
}

// Store_ServiceDesc is the grpc.ServiceDesc for Store service.
var Store_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*StoreServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Has", Handler: _Store_Has_Handler},
		{MethodName: "Fetch", Handler: _Store_Fetch_Handler},
		{MethodName: "Save", Handler: _Store_Save_Handler},
		{MethodName: "Delete", Handler: _Store_Delete_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Range", Handler: _Store_Range_Handler, ServerStreams: true},
		{StreamName: "Strands", Handler: _Store_Strands_Handler, ServerStreams: true},
	},
	Metadata: "store.proto",
}
