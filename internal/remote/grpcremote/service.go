// Package grpcremote is the gRPC transport of the workspace service. Messages are
// protobuf Struct values; the method set is fixed by ServiceName.
package grpcremote

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service.
const ServiceName = "cafe.storage.v1.Storage"

// Method names.
const (
	MethodSaveFile          = "SaveFile"
	MethodLoadFile          = "LoadFile"
	MethodListFiles         = "ListFiles"
	MethodListCollaborators = "ListCollaborators"
	MethodListCursors       = "ListCursors"
	MethodPutCursor         = "PutCursor"
	MethodAnnounce          = "Announce"
	MethodWithdraw          = "Withdraw"
)

// UserHeader carries the caller handle when no bearer token is available. Servers
// accept it only when configured to trust it.
const UserHeader = "x-cafe-user"

// FullMethod returns the RPC path of method.
func FullMethod(method string) string { return "/" + ServiceName + "/" + method }

// StorageServer is the server side of the service.
type StorageServer interface {
	SaveFile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LoadFile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListFiles(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListCollaborators(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListCursors(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PutCursor(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Announce(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Withdraw(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterStorageServer registers srv on s.
func RegisterStorageServer(s grpc.ServiceRegistrar, srv StorageServer) {
	s.RegisterService(&serviceDesc, srv)
}

type unaryCall func(StorageServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if ic == nil {
				return call(srv.(StorageServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return ic(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(StorageServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StorageServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodSaveFile, StorageServer.SaveFile),
		unary(MethodLoadFile, StorageServer.LoadFile),
		unary(MethodListFiles, StorageServer.ListFiles),
		unary(MethodListCollaborators, StorageServer.ListCollaborators),
		unary(MethodListCursors, StorageServer.ListCursors),
		unary(MethodPutCursor, StorageServer.PutCursor),
		unary(MethodAnnounce, StorageServer.Announce),
		unary(MethodWithdraw, StorageServer.Withdraw),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cafe/storage/v1/storage.proto",
}
