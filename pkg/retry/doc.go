// Package retry runs a function with exponential backoff.
//
// Basic usage:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
//	    return probe(ctx)
//	})
//
// Errors wrapped with Permanent stop the loop at once. Errors that implement
// RetryAfter() time.Duration override the computed backoff, which is how the
// HTTP client honours a server's Retry-After header.
package retry
