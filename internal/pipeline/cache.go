package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/sdko-org/filevault/internal/cache"
)

const (
	HeaderCache        = "X-Cache"
	HeaderCacheControl = "Cache-Control"
)

type CacheOptions struct {
	TTL time.Duration
	// Methods defaults to GET.
	Methods []string
	// StatusCodes defaults to 200.
	StatusCodes []int
	// VaryHeaders are folded into the key. Any endpoint whose response
	// depends on the caller must list Authorization here.
	VaryHeaders []string
	KeyFunc     KeyFunc
	Skip        SkipFunc
}

// CacheKey builds method|path|sorted query|selected headers. Header values
// are stored as sha256 digests so keys never carry credentials.
func CacheKey(req events.APIGatewayProxyRequest, varyHeaders []string) string {
	keys := make([]string, 0, len(req.QueryStringParameters))
	for k := range req.QueryStringParameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	query := make([]string, 0, len(keys))
	for _, k := range keys {
		query = append(query, k+"="+req.QueryStringParameters[k])
	}

	headers := make([]string, 0, len(varyHeaders))
	for _, name := range varyHeaders {
		headers = append(headers, strings.ToLower(name)+"="+digest(Header(req, name)))
	}

	return strings.Join([]string{
		req.HTTPMethod,
		req.Path,
		strings.Join(query, "&"),
		strings.Join(headers, "&"),
	}, "|")
}

func digest(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// Cache serves repeated requests from store while the entry is fresh.
func Cache(store *cache.Store, opts CacheOptions) Middleware {
	methods := opts.Methods
	if len(methods) == 0 {
		methods = []string{http.MethodGet}
	}
	statuses := opts.StatusCodes
	if len(statuses) == 0 {
		statuses = []int{http.StatusOK}
	}
	keyFn := opts.KeyFunc
	if keyFn == nil {
		keyFn = func(_ context.Context, req events.APIGatewayProxyRequest) string {
			return CacheKey(req, opts.VaryHeaders)
		}
	}
	cacheControl := fmt.Sprintf("public, max-age=%d", int(opts.TTL.Seconds()))

	return func(next Handler) Handler {
		return func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
			if !containsString(methods, req.HTTPMethod) || (opts.Skip != nil && opts.Skip(ctx, req)) {
				return next(ctx, req)
			}

			key := keyFn(ctx, req)
			if cached, ok := store.Get(key); ok {
				setHeader(&cached, HeaderCache, "HIT")
				setHeader(&cached, HeaderCacheControl, cacheControl)
				return cached, nil
			}

			resp, err := next(ctx, req)
			if err != nil {
				return resp, err
			}
			if containsInt(statuses, resp.StatusCode) {
				store.Set(key, resp, opts.TTL)
			}
			setHeader(&resp, HeaderCache, "MISS")
			setHeader(&resp, HeaderCacheControl, cacheControl)
			return resp, nil
		}
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func containsInt(list []int, n int) bool {
	for _, v := range list {
		if v == n {
			return true
		}
	}
	return false
}
