// Package grpcserver exposes a workspace backend as the gRPC storage service.
package grpcserver

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/cafe-collab/internal/convert"
	"github.com/and161185/cafe-collab/internal/identity"
	"github.com/and161185/cafe-collab/internal/remote"
	"github.com/and161185/cafe-collab/internal/remote/grpcremote"
)

// Server serves the storage service on top of a backend connector.
type Server struct {
	backend     remote.Connector
	verifyKey   []byte
	trustHeader bool
}

var _ grpcremote.StorageServer = (*Server)(nil)

// New constructs a server. Bearer tokens are verified with verifyKey (HS256);
// trustHeader additionally admits callers named by the plain user header.
func New(backend remote.Connector, verifyKey []byte, trustHeader bool) *Server {
	return &Server{backend: backend, verifyKey: verifyKey, trustHeader: trustHeader}
}

// NewGRPCServer builds a grpc.Server with recovery, auth and logging interceptors
// and registers srv on it.
func NewGRPCServer(srv *Server, log *zap.Logger, opts ...grpc.ServerOption) *grpc.Server {
	if log == nil {
		log = zap.NewNop()
	}
	opts = append(opts, grpc.ChainUnaryInterceptor(
		RecoverUnary(log),
		AuthUnary(srv.Authenticate),
		LoggingUnary(log),
	))
	gs := grpc.NewServer(opts...)
	grpcremote.RegisterStorageServer(gs, srv)
	return gs
}

// Authenticate resolves the caller from "authorization: Bearer <JWT>" or, when
// trusted, from the user header.
func (s *Server) Authenticate(ctx context.Context) (remote.Principal, error) {
	if tok, err := bearerTokenFromMD(ctx); err == nil {
		if len(s.verifyKey) == 0 {
			return remote.Principal{}, status.Error(codes.Unauthenticated, "bearer tokens not accepted")
		}
		h, err := (&identity.Token{Raw: tok, VerifyKey: s.verifyKey}).Handle()
		if err != nil {
			return remote.Principal{}, status.Error(codes.Unauthenticated, "invalid token")
		}
		return remote.Principal{Handle: h, Token: tok}, nil
	}
	if s.trustHeader {
		md, _ := metadata.FromIncomingContext(ctx)
		for _, v := range md.Get(grpcremote.UserHeader) {
			if v = strings.TrimSpace(v); v != "" {
				return remote.Principal{Handle: v}, nil
			}
		}
	}
	return remote.Principal{}, status.Error(codes.Unauthenticated, "no auth")
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}

// open connects the backend on behalf of the caller.
func (s *Server) open(ctx context.Context) (remote.Remote, error) {
	p, ok := PrincipalFromCtx(ctx)
	if !ok {
		var err error
		if p, err = s.Authenticate(ctx); err != nil {
			return nil, err
		}
	}
	r, err := s.backend.Connect(ctx, p)
	if err != nil {
		return nil, grpcremote.ToStatus(err)
	}
	return r, nil
}

func badRequest(err error) error {
	return status.Errorf(codes.InvalidArgument, "bad request: %v", err)
}

// SaveFile stores new content and returns the bumped version.
func (s *Server) SaveFile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ws, id, content, err := convert.ToSave(req)
	if err != nil {
		return nil, badRequest(err)
	}
	r, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	v, err := r.SaveFile(ctx, ws, id, content)
	if err != nil {
		return nil, grpcremote.ToStatus(err)
	}
	return convert.FromVersion(v), nil
}

// LoadFile returns content and metadata of one file.
func (s *Server) LoadFile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ws, id, err := convert.ToFileRef(req)
	if err != nil {
		return nil, badRequest(err)
	}
	r, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	f, err := r.LoadFile(ctx, ws, id)
	if err != nil {
		return nil, grpcremote.ToStatus(err)
	}
	return convert.FromFile(f), nil
}

// ListFiles returns every file id of a workspace.
func (s *Server) ListFiles(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ws, err := convert.ToTable(req)
	if err != nil {
		return nil, badRequest(err)
	}
	r, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	ids, err := r.ListFiles(ctx, ws)
	if err != nil {
		return nil, grpcremote.ToStatus(err)
	}
	return convert.FromFileIDs(ids), nil
}

// ListCollaborators returns the users present in a workspace.
func (s *Server) ListCollaborators(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ws, err := convert.ToTable(req)
	if err != nil {
		return nil, badRequest(err)
	}
	r, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	cs, err := r.ListCollaborators(ctx, ws)
	if err != nil {
		return nil, grpcremote.ToStatus(err)
	}
	return convert.FromCollaborators(cs), nil
}

// ListCursors returns the last cursor of every user in a workspace.
func (s *Server) ListCursors(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ws, err := convert.ToTable(req)
	if err != nil {
		return nil, badRequest(err)
	}
	r, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	cs, err := r.ListCursors(ctx, ws)
	if err != nil {
		return nil, grpcremote.ToStatus(err)
	}
	return convert.FromCursors(cs), nil
}

// PutCursor publishes the caller's cursor.
func (s *Server) PutCursor(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ws, err := convert.ToTable(req)
	if err != nil {
		return nil, badRequest(err)
	}
	raw := req.GetFields()[convert.FieldCursor].GetStructValue()
	if raw == nil {
		return nil, status.Error(codes.InvalidArgument, "missing cursor")
	}
	cur, err := convert.ToCursor(raw)
	if err != nil {
		return nil, badRequest(err)
	}
	r, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if err := r.PutCursor(ctx, ws, cur); err != nil {
		return nil, grpcremote.ToStatus(err)
	}
	return &structpb.Struct{}, nil
}

// Announce marks the caller present.
func (s *Server) Announce(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ws, err := convert.ToTable(req)
	if err != nil {
		return nil, badRequest(err)
	}
	c, err := convert.ToCollaborator(req.GetFields()[convert.FieldCollaborator].GetStructValue())
	if err != nil {
		return nil, badRequest(err)
	}
	r, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if err := r.Announce(ctx, ws, c); err != nil {
		return nil, grpcremote.ToStatus(err)
	}
	return &structpb.Struct{}, nil
}

// Withdraw removes the caller's presence and cursor.
func (s *Server) Withdraw(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ws, err := convert.ToTable(req)
	if err != nil {
		return nil, badRequest(err)
	}
	user := req.GetFields()[convert.FieldUser].GetStringValue()
	r, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if err := r.Withdraw(ctx, ws, user); err != nil {
		return nil, grpcremote.ToStatus(err)
	}
	return &structpb.Struct{}, nil
}
