package remote

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/animat-simulator/internal/sim/state"
	"github.com/signalsfoundry/animat-simulator/model"
)

var (
	// ErrObjectNotFound is returned for ids that are not, or no longer,
	// exported.
	ErrObjectNotFound = errors.New("object not found")
	// ErrNameNotBound is returned when looking up a name nothing is bound to.
	ErrNameNotBound = errors.New("name not bound")
	// ErrNameInUse is returned when publishing a name bound to another object.
	ErrNameInUse = errors.New("name already bound")
	// ErrUnknownMethod is returned for methods the object kind does not have.
	ErrUnknownMethod = errors.New("unknown method")
	// ErrInvalidArgument is returned for missing or mistyped call arguments.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnsupportedObject is returned when exporting a type with no remote
	// surface.
	ErrUnsupportedObject = errors.New("unsupported object type")
)

// toStatusError maps registry and simulation errors onto gRPC status codes.
func toStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrObjectNotFound),
		errors.Is(err, ErrNameNotBound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, state.ErrUnknownSpecies):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, ErrUnknownMethod):
		return status.Error(codes.Unimplemented, err.Error())

	case errors.Is(err, state.ErrEnvironmentDisposed),
		errors.Is(err, state.ErrPopulationDead),
		errors.Is(err, state.ErrAnimalDead):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, model.ErrNoSuchParameter):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrNameInUse):
		return status.Error(codes.AlreadyExists, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// fromStatusError turns a status error received by a client back into the
// matching sentinel, keeping the server message.
func fromStatusError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	var sentinel error
	switch st.Code() {
	case codes.NotFound:
		sentinel = ErrObjectNotFound
	case codes.InvalidArgument:
		sentinel = ErrInvalidArgument
	case codes.Unimplemented:
		sentinel = ErrUnknownMethod
	case codes.AlreadyExists:
		sentinel = ErrNameInUse
	default:
		return err
	}
	return &remoteError{sentinel: sentinel, msg: st.Message(), status: err}
}

// remoteError carries the server message while matching the local sentinel
// and the original status with errors.Is.
type remoteError struct {
	sentinel error
	msg      string
	status   error
}

func (e *remoteError) Error() string   { return e.msg }
func (e *remoteError) Unwrap() []error { return []error{e.sentinel, e.status} }
