package transcriber

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/foxseedlab/streamkoshin/internal/transcriber"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return transcriber.NewError(transcriber.KindSessionState, op, err)
	}
	st, ok := status.FromError(err)
	if !ok {
		return transcriber.NewError(transcriber.KindTransient, op, err)
	}
	switch st.Code() {
	case codes.PermissionDenied, codes.Unauthenticated:
		return transcriber.NewError(transcriber.KindPermissionDenied, op, err)
	case codes.ResourceExhausted:
		return transcriber.NewError(transcriber.KindQuotaExceeded, op, err)
	case codes.Canceled:
		return transcriber.NewError(transcriber.KindSessionState, op, err)
	case codes.Aborted, codes.OutOfRange:
		if isStreamLimitMessage(st.Message()) {
			return transcriber.NewError(transcriber.KindTransient, op, fmt.Errorf("%w: %w", transcriber.ErrStreamExpired, err))
		}
	}
	return transcriber.NewError(transcriber.KindTransient, op, err)
}

func isStreamLimitMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "max duration of 5 minutes") ||
		strings.Contains(msg, "maximum allowed stream duration") ||
		strings.Contains(msg, "stream timed out after receiving no more client requests")
}
