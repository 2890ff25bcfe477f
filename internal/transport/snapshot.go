// internal/transport/snapshot.go
package transport

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/scalpel-replay/api/schemas"
	"github.com/xkilldash9x/scalpel-replay/internal/selector"
)

// Failure messages reported in ProbeResponse.Error. Callers match on "not
// visible" to classify hidden elements.
const (
	msgNoMatch   = "no element matches"
	msgStaleRef  = "stale or unknown ref"
	msgHidden    = "element not visible"
	msgDisabled  = "element is disabled"
	msgNotField  = "element does not accept input"
	msgMismatch  = "fingerprint mismatch"
	msgNoShadow  = "shadow host not found"
	msgAmbiguous = "ambiguous: %d elements match"
)

// Event is one interaction performed against a snapshot document.
type Event struct {
	TabID   int                 `json:"tabId"`
	FrameID int                 `json:"frameId"`
	Action  schemas.ProbeAction `json:"action"`
	Ref     string              `json:"ref"`
	Value   string              `json:"value,omitempty"`
}

type snapshotFrame struct {
	info schemas.FrameInfo
	doc  *html.Node
	// refs live as long as the document; Navigate drops them.
	refs   map[string]*html.Node
	byNode map[*html.Node]string
}

type snapshotTab struct {
	frames    map[int]*snapshotFrame
	nextFrame int
}

// SnapshotTransport serves probe requests from parsed HTML documents held in
// memory. Each tab has a top frame 0 plus any frames added to it.
type SnapshotTransport struct {
	logger *zap.Logger

	mu     sync.Mutex
	tabs   map[int]*snapshotTab
	events []Event
}

// NewSnapshotTransport creates an empty transport.
func NewSnapshotTransport(logger *zap.Logger) *SnapshotTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotTransport{
		logger: logger.Named("snapshot_transport"),
		tabs:   make(map[int]*snapshotTab),
	}
}

// AddTab registers a tab whose top frame shows doc.
func (s *SnapshotTransport) AddTab(tabID int, pageURL string, doc io.Reader) error {
	root, err := htmlquery.Parse(doc)
	if err != nil {
		return fmt.Errorf("parsing document for tab %d: %w", tabID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tabs[tabID]; exists {
		return fmt.Errorf("tab %d already exists", tabID)
	}
	s.tabs[tabID] = &snapshotTab{
		frames:    map[int]*snapshotFrame{0: newSnapshotFrame(schemas.FrameInfo{FrameID: 0, ParentFrameID: -1, URL: pageURL}, root)},
		nextFrame: 1,
	}
	s.logger.Debug("Added snapshot tab.", zap.Int("tab_id", tabID), zap.String("url", pageURL))
	return nil
}

// AddFrame attaches a child frame showing doc and returns its frame id.
func (s *SnapshotTransport) AddFrame(tabID, parentFrameID int, frameURL string, doc io.Reader) (int, error) {
	root, err := htmlquery.Parse(doc)
	if err != nil {
		return 0, fmt.Errorf("parsing frame document: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tab, err := s.tab(tabID)
	if err != nil {
		return 0, err
	}
	if _, ok := tab.frames[parentFrameID]; !ok {
		return 0, fmt.Errorf("parent frame %d: %w", parentFrameID, schemas.ErrFrameNotFound)
	}
	id := tab.nextFrame
	tab.nextFrame++
	tab.frames[id] = newSnapshotFrame(schemas.FrameInfo{FrameID: id, ParentFrameID: parentFrameID, URL: frameURL}, root)
	return id, nil
}

// Navigate replaces a frame's document. Refs minted for the old document are
// discarded.
func (s *SnapshotTransport) Navigate(tabID, frameID int, frameURL string, doc io.Reader) error {
	root, err := htmlquery.Parse(doc)
	if err != nil {
		return fmt.Errorf("parsing document: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.frame(tabID, frameID)
	if err != nil {
		return err
	}
	info := f.info
	info.URL = frameURL
	*f = *newSnapshotFrame(info, root)
	return nil
}

// Events returns the interactions performed so far.
func (s *SnapshotTransport) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Node returns the element behind a ref, for inspection.
func (s *SnapshotTransport) Node(tabID, frameID int, ref string) (*html.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.frame(tabID, frameID)
	if err != nil {
		return nil, err
	}
	n, ok := f.refs[ref]
	if !ok {
		return nil, fmt.Errorf("ref %q: %s", ref, msgStaleRef)
	}
	return n, nil
}

// GetAllFrames lists a tab's frames ordered by id.
func (s *SnapshotTransport) GetAllFrames(ctx context.Context, tabID int) ([]schemas.FrameInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tab, err := s.tab(tabID)
	if err != nil {
		return nil, err
	}
	out := make([]schemas.FrameInfo, 0, len(tab.frames))
	for _, f := range tab.frames {
		out = append(out, f.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FrameID < out[j].FrameID })
	return out, nil
}

// SendMessage answers one probe request against the addressed frame.
func (s *SnapshotTransport) SendMessage(ctx context.Context, tabID int, msg schemas.ProbeRequest, opts schemas.SendOptions) (*schemas.ProbeResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	frameID := 0
	if opts.FrameID != nil {
		frameID = *opts.FrameID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.frame(tabID, frameID)
	if err != nil {
		return nil, err
	}

	switch msg.Action {
	case schemas.ProbeEnsureRef:
		return f.ensureRef(msg), nil
	case schemas.ProbeResolveRef:
		if _, ok := f.refs[msg.Ref]; !ok {
			return fail(msgStaleRef), nil
		}
		return &schemas.ProbeResponse{Success: true, Ref: msg.Ref}, nil
	case schemas.ProbeVerifyFingerprint:
		n, ok := f.refs[msg.Ref]
		if !ok {
			return fail(msgStaleRef), nil
		}
		if !selector.MatchFingerprint(msg.Fingerprint, selector.ComputeFingerprint(n)) {
			return fail(msgMismatch), nil
		}
		return &schemas.ProbeResponse{Success: true, Ref: msg.Ref}, nil
	case schemas.ProbeClick, schemas.ProbeFill:
		resp := f.interact(msg)
		if resp.Success {
			s.events = append(s.events, Event{TabID: tabID, FrameID: frameID, Action: msg.Action, Ref: msg.Ref, Value: msg.Value})
		}
		return resp, nil
	default:
		return nil, fmt.Errorf("unsupported probe action %q", msg.Action)
	}
}

func (s *SnapshotTransport) tab(tabID int) (*snapshotTab, error) {
	tab, ok := s.tabs[tabID]
	if !ok {
		return nil, fmt.Errorf("tab %d: %w", tabID, schemas.ErrTabNotFound)
	}
	return tab, nil
}

func (s *SnapshotTransport) frame(tabID, frameID int) (*snapshotFrame, error) {
	tab, err := s.tab(tabID)
	if err != nil {
		return nil, err
	}
	f, ok := tab.frames[frameID]
	if !ok {
		return nil, fmt.Errorf("tab %d frame %d: %w", tabID, frameID, schemas.ErrFrameNotFound)
	}
	return f, nil
}

// -- Frame --

func newSnapshotFrame(info schemas.FrameInfo, doc *html.Node) *snapshotFrame {
	return &snapshotFrame{
		info:   info,
		doc:    doc,
		refs:   make(map[string]*html.Node),
		byNode: make(map[*html.Node]string),
	}
}

func fail(msg string) *schemas.ProbeResponse {
	return &schemas.ProbeResponse{Success: false, Error: msg}
}

func (f *snapshotFrame) refFor(n *html.Node) string {
	if ref, ok := f.byNode[n]; ok {
		return ref
	}
	ref := "ref_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	f.refs[ref] = n
	f.byNode[n] = ref
	return ref
}

// scope descends through the shadow host chain, returning the root the final
// query runs against.
func (f *snapshotFrame) scope(chain []string) (*html.Node, bool) {
	root := f.doc
	for _, hostSel := range chain {
		m, err := cascadia.ParseGroup(hostSel)
		if err != nil {
			return nil, false
		}
		hosts := selector.QueryScoped(root, m)
		if len(hosts) == 0 {
			return nil, false
		}
		shadow := selector.ShadowRootOf(hosts[0])
		if shadow == nil {
			return nil, false
		}
		root = shadow
	}
	return root, true
}

func (f *snapshotFrame) ensureRef(msg schemas.ProbeRequest) *schemas.ProbeResponse {
	root, ok := f.scope(msg.ShadowHostChain)
	if !ok {
		return fail(msgNoShadow)
	}

	var matches []*html.Node
	switch {
	case msg.Text != "":
		matches = selector.FindByText(root, msg.Text, msg.TextMatch, msg.TagName)
	case msg.IsXPath:
		nodes, err := selector.QueryXPath(root, msg.Selector)
		if err != nil {
			return fail(err.Error())
		}
		for _, n := range nodes {
			if n.Type == html.ElementNode {
				matches = append(matches, n)
			}
		}
	default:
		m, err := selector.CompileCSS(msg.Selector)
		if err != nil {
			return fail(err.Error())
		}
		matches = selector.QueryScoped(root, m)
	}

	switch {
	case len(matches) == 0:
		return fail(msgNoMatch)
	case len(matches) > 1 && !msg.AllowMultiple:
		return fail(fmt.Sprintf(msgAmbiguous, len(matches)))
	}

	el := matches[0]
	resp := &schemas.ProbeResponse{Success: true, Ref: f.refFor(el)}
	if path := selector.DOMPath(el); len(path) > 0 {
		resp.Center = &schemas.Point{X: float64(path[len(path)-1]), Y: float64(len(path))}
	}
	if strings.EqualFold(el.Data, "iframe") || strings.EqualFold(el.Data, "frame") {
		resp.Href = resolveURL(f.info.URL, selector.Attr(el, "src"))
	}
	return resp
}

func (f *snapshotFrame) interact(msg schemas.ProbeRequest) *schemas.ProbeResponse {
	n, ok := f.refs[msg.Ref]
	if !ok {
		return fail(msgStaleRef)
	}
	if isHidden(n) {
		return fail(msgHidden)
	}
	if selector.HasAttr(n, "disabled") {
		return fail(msgDisabled)
	}
	if msg.Action == schemas.ProbeClick {
		return &schemas.ProbeResponse{Success: true, Ref: msg.Ref}
	}

	switch strings.ToLower(n.Data) {
	case "input", "select":
		setAttr(n, "value", msg.Value)
	case "textarea":
		setText(n, msg.Value)
	default:
		if !strings.EqualFold(selector.Attr(n, "contenteditable"), "true") {
			return fail(msgNotField)
		}
		setText(n, msg.Value)
	}
	return &schemas.ProbeResponse{Success: true, Ref: msg.Ref}
}

// isHidden applies the static visibility rules a snapshot can answer: the
// hidden attribute, inline display:none or visibility:hidden, and hidden inputs,
// on the element or any ancestor.
func isHidden(n *html.Node) bool {
	if strings.EqualFold(n.Data, "input") && strings.EqualFold(selector.Attr(n, "type"), "hidden") {
		return true
	}
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		if selector.IsShadowRoot(cur) {
			continue
		}
		if selector.HasAttr(cur, "hidden") {
			return true
		}
		style := strings.ReplaceAll(strings.ToLower(selector.Attr(cur, "style")), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, key, value string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: value})
}

func setText(n *html.Node, value string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: value})
}

func resolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil || base == "" {
		return u.String()
	}
	return b.ResolveReference(u).String()
}
