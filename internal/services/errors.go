package services

import (
	"net/http"

	"github.com/dpup/prefab/errors"
	"google.golang.org/grpc/codes"
)

func invalidArgument(msg string) error {
	return errors.NewC(msg, codes.InvalidArgument)
}

func failedPrecondition(msg string) error {
	return errors.NewC(msg, codes.FailedPrecondition)
}

func notFound(msg string) error {
	return errors.NewC(msg, codes.NotFound)
}

func exhausted(msg string) error {
	return errors.NewC(msg, codes.ResourceExhausted)
}

func rideClosed() error {
	return errors.NewC("ride session is closed", codes.Unavailable)
}

// httpStatus maps an error's gRPC code to the HTTP status returned to clients
func httpStatus(err error) int {
	switch errors.Code(err) {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.FailedPrecondition:
		return http.StatusConflict
	case codes.NotFound:
		return http.StatusNotFound
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.Canceled:
		return 499
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
