package ledger

import "context"

// Client anchors a content hash on an external immutable ledger. Anchor must
// be idempotent given the same hash: re-anchoring returns the original tx ref.
type Client interface {
	Anchor(ctx context.Context, contentHash string) (txRef string, err error)
}
