package generation

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	xerrors "SpriteForge/internal/errors"
)

// StatusCode maps an error kind to the HTTP status returned to clients. It is
// the only place where that mapping lives.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch xerrors.CodeOf(err) {
	case xerrors.CodeValidation, xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case xerrors.CodeQuotaExceeded:
		return http.StatusPaymentRequired
	case xerrors.CodeTooManyConcurrent:
		return http.StatusTooManyRequests
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func validationError(msg string) error {
	return xerrors.New(xerrors.CodeValidation, msg)
}

// annotate 为错误附加复现所需的上下文，保持原错误码不变。
func annotate(err error, prompt string, seed int64, motion string) error {
	if err == nil {
		return nil
	}
	code := xerrors.CodeOf(err)
	if code == xerrors.CodeUnknown {
		switch {
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			code = xerrors.CodeTimeout
		default:
			code = xerrors.CodeStorageFailure
		}
	}
	opts := []xerrors.Option{
		xerrors.WithMetadata("prompt", prompt),
		xerrors.WithMetadata("seed", strconv.FormatInt(seed, 10)),
	}
	if motion != "" {
		opts = append(opts, xerrors.WithMetadata("motion", motion))
	}
	if e, ok := xerrors.From(err); ok {
		for k, v := range e.Metadata() {
			opts = append(opts, xerrors.WithMetadata(k, v))
		}
		opts = append(opts, xerrors.WithRetryable(e.Retryable()))
	}
	return xerrors.Wrap(code, err, xerrors.PublicMessage(err), opts...)
}
