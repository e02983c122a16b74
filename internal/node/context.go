package node

import "context"

type ctxNodeKey struct{}

// NodeContext identifies the node currently being executed.
type NodeContext struct {
	RunID  string
	NodeID string
	Type   string
}

// NewContext returns a new context carrying the given NodeContext.
func NewContext(ctx context.Context, nc *NodeContext) context.Context {
	return context.WithValue(ctx, ctxNodeKey{}, nc)
}

// FromContext retrieves the NodeContext from the context, if present.
func FromContext(ctx context.Context) (*NodeContext, bool) {
	nc, ok := ctx.Value(ctxNodeKey{}).(*NodeContext)
	return nc, ok && nc != nil
}
