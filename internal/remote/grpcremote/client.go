package grpcremote

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/cafe-collab/internal/convert"
	"github.com/and161185/cafe-collab/internal/errs"
	"github.com/and161185/cafe-collab/internal/model"
	"github.com/and161185/cafe-collab/internal/remote"
)

// DefaultTimeout bounds a call when the caller set no deadline.
const DefaultTimeout = 5 * time.Second

// Config describes how to reach the storage service.
type Config struct {
	Addr      string
	CACert    string        // PEM bundle; empty means system roots
	Insecure  bool          // TLS without certificate verification
	Plaintext bool          // no TLS at all
	Timeout   time.Duration // per-call default deadline
}

// Connector dials one gRPC channel per principal.
type Connector struct {
	cfg   Config
	log   *zap.Logger
	extra []grpc.DialOption
}

var _ remote.Connector = (*Connector)(nil)

// NewConnector builds a connector. Extra dial options are appended last.
func NewConnector(cfg Config, log *zap.Logger, extra ...grpc.DialOption) *Connector {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Connector{cfg: cfg, log: log, extra: extra}
}

// Connect implements remote.Connector. The channel is lazy: connectivity problems
// surface on the first call.
func (c *Connector) Connect(_ context.Context, p remote.Principal) (remote.Remote, error) {
	if p.Handle == "" && p.Token == "" {
		return nil, errs.ErrAccessDenied
	}
	creds, err := transportCreds(c.cfg)
	if err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithPerRPCCredentials(principalCreds{handle: p.Handle, token: p.Token, secure: !c.cfg.Plaintext}),
		grpc.WithChainUnaryInterceptor(DeadlineUnary(c.cfg.Timeout), LoggingUnary(c.log)),
	}
	opts = append(opts, c.extra...)
	cc, err := grpc.NewClient(c.cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", errs.ErrRemoteUnavailable, c.cfg.Addr, err)
	}
	return NewClient(cc, cc), nil
}

// Client speaks the storage service over an established channel.
type Client struct {
	cc     grpc.ClientConnInterface
	closer io.Closer
}

var _ remote.Remote = (*Client)(nil)

// NewClient wraps cc. closer may be nil when the channel is owned elsewhere.
func NewClient(cc grpc.ClientConnInterface, closer io.Closer) *Client {
	return &Client{cc: cc, closer: closer}
}

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out); err != nil {
		return nil, FromStatus(err)
	}
	return out, nil
}

func malformed(method string, err error) error {
	return fmt.Errorf("%w: %s: malformed response: %v", errs.ErrRemoteUnavailable, method, err)
}

func (c *Client) SaveFile(ctx context.Context, ws model.WorkspaceID, id model.FileID, content []byte) (model.Version, error) {
	out, err := c.invoke(ctx, MethodSaveFile, convert.SaveRequest(ws, id, content))
	if err != nil {
		return 0, err
	}
	v, err := convert.ToVersion(out)
	if err != nil {
		return 0, malformed(MethodSaveFile, err)
	}
	return v, nil
}

func (c *Client) LoadFile(ctx context.Context, ws model.WorkspaceID, id model.FileID) (model.File, error) {
	out, err := c.invoke(ctx, MethodLoadFile, convert.FileRequest(ws, id))
	if err != nil {
		return model.File{}, err
	}
	f, err := convert.ToFile(out)
	if err != nil {
		return model.File{}, malformed(MethodLoadFile, err)
	}
	return f, nil
}

func (c *Client) ListFiles(ctx context.Context, ws model.WorkspaceID) ([]model.FileID, error) {
	out, err := c.invoke(ctx, MethodListFiles, convert.TableRequest(ws))
	if err != nil {
		return nil, err
	}
	ids, err := convert.ToFileIDs(out)
	if err != nil {
		return nil, malformed(MethodListFiles, err)
	}
	return ids, nil
}

func (c *Client) ListCollaborators(ctx context.Context, ws model.WorkspaceID) ([]model.CollaboratorRecord, error) {
	out, err := c.invoke(ctx, MethodListCollaborators, convert.TableRequest(ws))
	if err != nil {
		return nil, err
	}
	cs, err := convert.ToCollaborators(out)
	if err != nil {
		return nil, malformed(MethodListCollaborators, err)
	}
	return cs, nil
}

func (c *Client) ListCursors(ctx context.Context, ws model.WorkspaceID) ([]model.CursorRecord, error) {
	out, err := c.invoke(ctx, MethodListCursors, convert.TableRequest(ws))
	if err != nil {
		return nil, err
	}
	cs, err := convert.ToCursors(out)
	if err != nil {
		return nil, malformed(MethodListCursors, err)
	}
	return cs, nil
}

func (c *Client) PutCursor(ctx context.Context, ws model.WorkspaceID, cur model.CursorRecord) error {
	_, err := c.invoke(ctx, MethodPutCursor, convert.CursorRequest(ws, cur))
	return err
}

func (c *Client) Announce(ctx context.Context, ws model.WorkspaceID, r model.CollaboratorRecord) error {
	_, err := c.invoke(ctx, MethodAnnounce, convert.CollaboratorRequest(ws, r))
	return err
}

func (c *Client) Withdraw(ctx context.Context, ws model.WorkspaceID, userID string) error {
	_, err := c.invoke(ctx, MethodWithdraw, convert.UserRequest(ws, userID))
	return err
}

// Close releases the channel.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}
