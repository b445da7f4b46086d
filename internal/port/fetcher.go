package port

import "context"

// ResourceInfo is what a fetcher learns from the response headers.
// TotalLength is domain.UnknownLength when the server does not say.
type ResourceInfo struct {
	TotalLength   int64
	SupportsRange bool
	ContentType   string
	// Offset is where the body actually starts. It differs from the
	// requested offset when the server ignored the range.
	Offset int64
}

// FetchRequest asks for Length bytes starting at Offset.
// A negative Length means "until the end of the resource".
type FetchRequest struct {
	Key    string
	Offset int64
	Length int64
}

// FetchHandler receives the results of a fetch in order.
// OnInfo is called once before the first OnData.
type FetchHandler interface {
	OnInfo(info ResourceInfo)
	// OnData receives body bytes; p is only valid for the duration of the call.
	// A non-nil error aborts the fetch.
	OnData(offset int64, p []byte) error
}

// RangeFetcher performs one bounded byte-range request. Fetch blocks until
// the body is consumed, the context is cancelled or the transfer fails.
// A nil return means the session completed.
type RangeFetcher interface {
	Fetch(ctx context.Context, req FetchRequest, h FetchHandler) error
}
