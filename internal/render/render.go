// Package render keeps an HTML view of a page document in step with its
// store. A Renderer builds the whole page once, then follows store change
// notifications and rebuilds only the subtree each change touched.
package render

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/a-h/templ"
	"golang.org/x/net/html"

	"github.com/conneroisu/pagecraft/internal/element"
	"github.com/conneroisu/pagecraft/internal/logging"
	"github.com/conneroisu/pagecraft/internal/store"
)

// Fragment is the rendered result of one change. HTML is empty when the
// element was removed; a reset renders the whole page with an empty ID.
type Fragment struct {
	Seq     uint64
	Kind    store.ChangeKind
	ID      string
	HTML    string
	Removed []string
}

// Config wires a Renderer.
type Config struct {
	Store  *store.Store
	Logger logging.Logger
	// OnUpdate, when set, is called after every change is rendered. It runs
	// on the Run goroutine.
	OnUpdate func(Fragment)
	// Buffer is the store subscription size.
	Buffer int
}

// Renderer owns the rendered node tree of one page.
type Renderer struct {
	store    *store.Store
	logger   logging.Logger
	onUpdate func(Fragment)
	changes  <-chan store.Change

	mu    sync.RWMutex
	page  *html.Node
	nodes map[string]*html.Node
	seq   uint64
}

// New renders the current document and subscribes to its changes. Call
// Run to follow them and Close to unsubscribe.
func New(cfg Config) *Renderer {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	r := &Renderer{
		store:    cfg.Store,
		logger:   cfg.Logger.WithComponent("render"),
		onUpdate: cfg.OnUpdate,
		changes:  cfg.Store.Subscribe(cfg.Buffer),
	}
	r.rebuild()
	return r
}

// Close stops the subscription; Run returns once it notices.
func (r *Renderer) Close() {
	r.store.Unsubscribe(r.changes)
}

// Run applies store changes until ctx ends or the subscription closes.
func (r *Renderer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change, ok := <-r.changes:
			if !ok {
				return nil
			}
			frag := r.Apply(change)
			if r.onUpdate != nil {
				r.onUpdate(frag)
			}
		}
	}
}

// Apply renders one change. A change that skips sequence numbers means
// the subscription dropped notifications, so the page is rebuilt.
func (r *Renderer) Apply(change store.Change) Fragment {
	r.mu.Lock()
	defer r.mu.Unlock()

	if change.Kind == store.ChangeReset || change.Seq > r.seq+1 {
		r.rebuildLocked()
		return Fragment{Seq: r.seq, Kind: store.ChangeReset, HTML: renderString(r.page)}
	}
	if change.Seq > r.seq {
		r.seq = change.Seq
	}

	frag := Fragment{Seq: change.Seq, Kind: change.Kind, ID: change.ID}
	switch change.Kind {
	case store.ChangeInserted, store.ChangeMoved, store.ChangeUpdated:
		if change.Element == nil {
			break
		}
		n := r.replace(change.Element)
		r.place(n, change.Element.ID, change.Element.ParentID)
		frag.HTML = renderString(n)

	case store.ChangeDeleted:
		frag.Removed = change.Removed
		r.remove(change.ID, change.Removed)
	}

	r.logger.Debug(context.Background(), "rendered change", "kind", change.Kind, "id", change.ID, "seq", change.Seq)
	return frag
}

// Render writes the page as HTML.
func (r *Renderer) Render(w io.Writer) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return html.Render(w, r.page)
}

// RenderElement writes the subtree of one element.
func (r *Renderer) RenderElement(w io.Writer, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	if !ok {
		return false, nil
	}
	return true, html.Render(w, n)
}

// Seq is the store sequence the rendered page reflects.
func (r *Renderer) Seq() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seq
}

// Component exposes the live page to templ layouts.
func (r *Renderer) Component() templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		return r.Render(w)
	})
}

// Page renders a snapshot once, without following changes.
func Page(snap *store.Snapshot) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		root := PageNode(snap.PageID, snap.Styles)
		for _, el := range snap.Elements {
			root.AppendChild(Node(el))
		}
		return html.Render(w, root)
	})
}

func (r *Renderer) rebuild() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rebuildLocked()
}

func (r *Renderer) rebuildLocked() {
	snap := r.store.Snapshot()
	r.page = PageNode(snap.PageID, snap.Styles)
	r.nodes = make(map[string]*html.Node)
	for _, el := range snap.Elements {
		n := Node(el)
		r.page.AppendChild(n)
		r.index(n)
	}
	r.seq = snap.Seq
}

// replace renders el, swapping out any node already shown for it. The new
// node is left detached.
func (r *Renderer) replace(el *element.Element) *html.Node {
	if old, ok := r.nodes[el.ID]; ok {
		r.forget(old)
		if old.Parent != nil {
			old.Parent.RemoveChild(old)
		}
	}
	n := Node(el)
	r.index(n)
	return n
}

// place attaches n under the node of parentID, before the first following
// sibling the store orders after it.
func (r *Renderer) place(n *html.Node, id, parentID string) {
	parent := r.page
	if parentID != "" {
		p, ok := r.nodes[parentID]
		if !ok {
			// The parent is gone already; its delete drops this node too.
			return
		}
		parent = p
	}

	siblings, err := r.store.ChildrenOf(parentID)
	if err != nil {
		parent.AppendChild(n)
		return
	}
	after := false
	for _, sib := range siblings {
		if sib.ID == id {
			after = true
			continue
		}
		if !after {
			continue
		}
		if next, ok := r.nodes[sib.ID]; ok && next.Parent == parent {
			parent.InsertBefore(n, next)
			return
		}
	}
	parent.AppendChild(n)
}

func (r *Renderer) remove(id string, removed []string) {
	if n, ok := r.nodes[id]; ok {
		r.forget(n)
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}
	for _, gone := range removed {
		delete(r.nodes, gone)
	}
}

// index records every element node of the subtree n.
func (r *Renderer) index(n *html.Node) {
	if id, ok := getAttr(n, attrID); ok {
		r.nodes[id] = n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			r.index(c)
		}
	}
}

func (r *Renderer) forget(n *html.Node) {
	if id, ok := getAttr(n, attrID); ok && r.nodes[id] == n {
		delete(r.nodes, id)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			r.forget(c)
		}
	}
}

func renderString(n *html.Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return ""
	}
	return buf.String()
}
