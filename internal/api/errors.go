package api

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/glide/internal/conn"
	"github.com/matheus3301/glide/internal/outbox"
	"github.com/matheus3301/glide/internal/rest"
	"github.com/matheus3301/glide/internal/session"
	"github.com/matheus3301/glide/internal/stream"
)

// toStatus maps a core error onto a gRPC status.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	return grpcstatus.Error(codeOf(err), err.Error())
}

func codeOf(err error) codes.Code {
	var apiErr *rest.APIError
	var herr *session.HistoryFetchError
	switch {
	case errors.Is(err, outbox.ErrValidation),
		errors.Is(err, session.ErrBroadcastRoom):
		return codes.InvalidArgument
	case errors.Is(err, session.ErrUnknownConversation),
		errors.Is(err, outbox.ErrNoPartner),
		errors.Is(err, stream.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, session.ErrNoIdentity),
		errors.Is(err, session.ErrPendingDelete),
		errors.Is(err, outbox.ErrNotRetryable),
		errors.Is(err, stream.ErrInvalidTransition),
		errors.Is(err, conn.ErrInvalidState):
		return codes.FailedPrecondition
	case errors.Is(err, conn.ErrNotConnected),
		errors.Is(err, session.ErrClosed),
		errors.Is(err, outbox.ErrClosed),
		errors.As(err, &herr):
		return codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.As(err, &apiErr):
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return codes.Unauthenticated
		case http.StatusNotFound:
			return codes.NotFound
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return codes.InvalidArgument
		}
		return codes.Unavailable
	}
	return codes.Internal
}
