package grpcremote

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/cafe-collab/internal/errs"
)

func TestFromStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code codes.Code
		want error
	}{
		{codes.NotFound, errs.ErrNotFound},
		{codes.PermissionDenied, errs.ErrAccessDenied},
		{codes.Unauthenticated, errs.ErrAccessDenied},
		{codes.InvalidArgument, errs.ErrInvalidOperation},
		{codes.FailedPrecondition, errs.ErrInvalidOperation},
		{codes.ResourceExhausted, errs.ErrFileTooLarge},
		{codes.Aborted, errs.ErrVersionConflict},
		{codes.Unavailable, errs.ErrRemoteUnavailable},
		{codes.DeadlineExceeded, errs.ErrRemoteUnavailable},
		{codes.Internal, errs.ErrRemoteUnavailable},
	}
	for _, tc := range cases {
		err := FromStatus(status.Error(tc.code, "msg"))
		require.ErrorIs(t, err, tc.want, tc.code.String())
		require.Contains(t, err.Error(), "msg")
	}

	require.NoError(t, FromStatus(nil))
	require.ErrorIs(t, FromStatus(errors.New("plain")), errs.ErrRemoteUnavailable)
}

func TestToStatus_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, s := range []error{
		errs.ErrNotFound, errs.ErrAccessDenied, errs.ErrInvalidOperation,
		errs.ErrFileTooLarge, errs.ErrVersionConflict, errs.ErrRemoteUnavailable,
	} {
		require.ErrorIs(t, FromStatus(ToStatus(s)), s)
	}

	require.Equal(t, codes.Internal, status.Code(ToStatus(errors.New("db exploded"))))
	require.NotContains(t, ToStatus(errors.New("db exploded")).Error(), "exploded")

	passthrough := status.Error(codes.Unauthenticated, "no auth")
	require.Equal(t, passthrough, ToStatus(passthrough))
	require.NoError(t, ToStatus(nil))
}
