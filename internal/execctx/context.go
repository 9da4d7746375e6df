package execctx

// Node is the view of an executor needed to build its context.
type Node interface {
	ID() string
	// ParentNode returns the enclosing executor or nil.
	ParentNode() Node
	// DependencyNodes returns executors whose attributes seed this one.
	DependencyNodes() []Node
	// SharesParentContext reports whether the node writes into its parent's storage.
	SharesParentContext() bool
}

// ExecutionContext is the attribute scope of one executor run.
type ExecutionContext struct {
	node     Node
	attrs    *Attributes
	internal *Attributes
	parent   *ExecutionContext
	shared   bool
}

func newContext(node Node, parent *ExecutionContext, seed map[string]any) *ExecutionContext {
	if node.SharesParentContext() && parent != nil {
		return &ExecutionContext{
			node:     node,
			attrs:    parent.attrs,
			internal: parent.internal,
			parent:   parent,
			shared:   true,
		}
	}
	return &ExecutionContext{
		node:     node,
		attrs:    NewAttributes(seed),
		internal: NewAttributes(nil),
		parent:   parent,
	}
}

// Node returns the executor owning the context.
func (c *ExecutionContext) Node() Node {
	return c.node
}

// Parent returns the enclosing context or nil.
func (c *ExecutionContext) Parent() *ExecutionContext {
	return c.parent
}

// Shared reports whether the context aliases its parent's storage.
func (c *ExecutionContext) Shared() bool {
	return c.shared
}

// Attribute looks key up locally and then through the parent chain. Keys
// copied into a snapshot keep their copied value; keys the parent adds later
// are still reached through the chain.
func (c *ExecutionContext) Attribute(key string) (any, bool) {
	for ctx := c; ctx != nil; ctx = ctx.parent {
		if v, ok := ctx.attrs.Get(key); ok {
			return v, true
		}
	}
	return nil, false
}

// SetAttribute writes into the storage this context owns (the parent's when shared).
func (c *ExecutionContext) SetAttribute(key string, value any) {
	c.attrs.Set(key, value)
}

// RemoveAttribute deletes key from the owned storage only.
func (c *ExecutionContext) RemoveAttribute(key string) bool {
	return c.attrs.Delete(key)
}

// InternalAttribute reads runtime bookkeeping that is never exposed to expressions.
func (c *ExecutionContext) InternalAttribute(key string) (any, bool) {
	for ctx := c; ctx != nil; ctx = ctx.parent {
		if v, ok := ctx.internal.Get(key); ok {
			return v, true
		}
	}
	return nil, false
}

// SetInternalAttribute writes runtime bookkeeping.
func (c *ExecutionContext) SetInternalAttribute(key string, value any) {
	c.internal.Set(key, value)
}

// Flatten merges the parent chain into one map; nearer scopes win.
func (c *ExecutionContext) Flatten() map[string]any {
	var chain []*ExecutionContext
	for ctx := c; ctx != nil; ctx = ctx.parent {
		chain = append(chain, ctx)
	}

	out := make(map[string]any)
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range chain[i].attrs.Snapshot() {
			out[k] = v
		}
	}
	return out
}
