package grpcremote

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/cafe-collab/internal/errs"
)

// FromStatus maps a gRPC error onto the storage sentinels. Unknown codes count as
// the remote being unavailable so callers retry.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %v", errs.ErrRemoteUnavailable, err)
	}
	var base error
	switch st.Code() {
	case codes.NotFound:
		base = errs.ErrNotFound
	case codes.PermissionDenied, codes.Unauthenticated:
		base = errs.ErrAccessDenied
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		base = errs.ErrInvalidOperation
	case codes.ResourceExhausted:
		base = errs.ErrFileTooLarge
	case codes.Aborted:
		base = errs.ErrVersionConflict
	default:
		base = errs.ErrRemoteUnavailable
	}
	return fmt.Errorf("%w: %s", base, st.Message())
}

// ToStatus is the server side inverse of FromStatus.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok && !isSentinel(err) {
		return err
	}
	var code codes.Code
	switch {
	case errors.Is(err, errs.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, errs.ErrAccessDenied):
		code = codes.PermissionDenied
	case errors.Is(err, errs.ErrInvalidOperation):
		code = codes.InvalidArgument
	case errors.Is(err, errs.ErrFileTooLarge):
		code = codes.ResourceExhausted
	case errors.Is(err, errs.ErrVersionConflict):
		code = codes.Aborted
	case errors.Is(err, errs.ErrRemoteUnavailable):
		code = codes.Unavailable
	default:
		return status.Error(codes.Internal, "internal")
	}
	return status.Error(code, err.Error())
}

func isSentinel(err error) bool {
	for _, s := range []error{
		errs.ErrNotFound, errs.ErrAccessDenied, errs.ErrInvalidOperation,
		errs.ErrFileTooLarge, errs.ErrVersionConflict, errs.ErrRemoteUnavailable,
	} {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}
