// Package pipeline composes request middleware around API Gateway proxy
// handlers. A Handler may fail by returning an error or by panicking; the
// ErrorHandling middleware turns both into the standard error envelope.
package pipeline

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
)

type Handler func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

type Middleware func(Handler) Handler

// Compose nests middleware so that the first argument is the outermost layer:
// Compose(A, B)(h) runs A, then B, then h, and unwinds in reverse.
func Compose(mws ...Middleware) Middleware {
	return func(h Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			if mws[i] == nil {
				continue
			}
			h = mws[i](h)
		}
		return h
	}
}

// Wrap is shorthand for Compose(mws...)(h).
func Wrap(h Handler, mws ...Middleware) Handler {
	return Compose(mws...)(h)
}
