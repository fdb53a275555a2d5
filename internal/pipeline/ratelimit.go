package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/sdko-org/filevault/internal/apperr"
	"github.com/sdko-org/filevault/internal/ratelimit"
)

const (
	HeaderRetryAfter         = "Retry-After"
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

type KeyFunc func(ctx context.Context, req events.APIGatewayProxyRequest) string

type SkipFunc func(ctx context.Context, req events.APIGatewayProxyRequest) bool

type RateLimitOptions struct {
	MaxRequests int
	Window      time.Duration
	KeyFunc     KeyFunc
	Skip        SkipFunc
}

// IPPathKey keys buckets by source address and path.
func IPPathKey(_ context.Context, req events.APIGatewayProxyRequest) string {
	return SourceIP(req) + ":" + req.Path
}

// UserKey keys buckets by caller, falling back to IPPathKey for anonymous
// requests.
func UserKey(ctx context.Context, req events.APIGatewayProxyRequest) string {
	if id := IdentityFrom(ctx); !id.Anonymous() {
		return "user:" + id.UserID + ":" + req.Path
	}
	return IPPathKey(ctx, req)
}

func RateLimit(store *ratelimit.Store, opts RateLimitOptions) Middleware {
	keyFn := opts.KeyFunc
	if keyFn == nil {
		keyFn = IPPathKey
	}

	return func(next Handler) Handler {
		return func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
			if opts.Skip != nil && opts.Skip(ctx, req) {
				return next(ctx, req)
			}

			d := store.Check(keyFn(ctx, req), opts.MaxRequests, opts.Window)
			if !d.Allowed {
				resp := ErrorResponse(apperr.RateLimitExceeded(
					fmt.Sprintf("Too many requests, retry after %d seconds", d.RetryAfter),
				).WithDetails(map[string]any{"retryAfter": d.RetryAfter}))
				setHeader(&resp, HeaderRetryAfter, strconv.Itoa(d.RetryAfter))
				setHeader(&resp, HeaderRateLimitLimit, strconv.Itoa(d.Limit))
				setHeader(&resp, HeaderRateLimitRemaining, "0")
				setHeader(&resp, HeaderRateLimitReset, strconv.FormatInt(d.ResetAt.UnixMilli(), 10))
				return resp, nil
			}

			resp, err := next(ctx, req)
			if err != nil {
				return resp, err
			}
			setHeader(&resp, HeaderRateLimitLimit, strconv.Itoa(d.Limit))
			setHeader(&resp, HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
			return resp, nil
		}
	}
}
