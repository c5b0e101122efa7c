package types

import "context"

// Dispatcher is the external collaborator that actually performs HTTP
// dispatch. The Request Manager depends only on this interface; the
// concrete implementation lives in internal/httpadapter.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *Request) (*Response, error)
}
