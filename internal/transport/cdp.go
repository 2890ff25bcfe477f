// internal/transport/cdp.go
package transport

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-replay/api/schemas"
	"github.com/xkilldash9x/scalpel-replay/internal/selector"
)

//go:embed probe.js
var probeScript string

const isolatedWorldName = "scalpel_replay_probe"

// probeDescribe asks the page for an element's fingerprint. It never leaves
// this package; fingerprint matching itself runs in Go.
const probeDescribe schemas.ProbeAction = "describe"

// probeReply is the page's answer, a superset of ProbeResponse.
type probeReply struct {
	schemas.ProbeResponse
	Fingerprint string `json:"fingerprint,omitempty"`
}

// CDPOptions configures the browser connection.
type CDPOptions struct {
	// RemoteURL attaches to a running browser's DevTools websocket. Empty
	// launches a local browser.
	RemoteURL string
	Headless  bool
}

type cdpTab struct {
	ctx    context.Context
	cancel context.CancelFunc

	frameNums map[cdp.FrameID]int
	frameIDs  map[int]cdp.FrameID
	nextFrame int
	worlds    map[int]runtime.ExecutionContextID
}

// CDPTransport runs the DOM probe inside a per-frame isolated world of a real
// browser through chromedp.
type CDPTransport struct {
	logger        *zap.Logger
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu      sync.Mutex
	tabs    map[int]*cdpTab
	nextTab int
}

// NewCDPTransport starts or attaches to a browser.
func NewCDPTransport(ctx context.Context, opts CDPOptions, logger *zap.Logger) (*CDPTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, opts.RemoteURL)
	} else {
		allocOpts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", opts.Headless))
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, allocOpts...)
	}
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	return &CDPTransport{
		logger:        logger.Named("cdp_transport"),
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		tabs:          make(map[int]*cdpTab),
		nextTab:       1,
	}, nil
}

// OpenTab opens a new tab on pageURL and returns its id.
func (t *CDPTransport) OpenTab(ctx context.Context, pageURL string) (int, error) {
	tabCtx, cancel := chromedp.NewContext(t.browserCtx)
	if err := t.run(ctx, tabCtx, chromedp.Navigate(pageURL)); err != nil {
		cancel()
		return 0, fmt.Errorf("navigating to %s: %w", pageURL, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextTab
	t.nextTab++
	t.tabs[id] = &cdpTab{
		ctx:       tabCtx,
		cancel:    cancel,
		frameNums: make(map[cdp.FrameID]int),
		frameIDs:  make(map[int]cdp.FrameID),
		nextFrame: 1,
		worlds:    make(map[int]runtime.ExecutionContextID),
	}
	t.logger.Info("Opened tab.", zap.Int("tab_id", id), zap.String("url", pageURL))
	return id, nil
}

// Close shuts every tab and the browser connection.
func (t *CDPTransport) Close() error {
	t.mu.Lock()
	for id, tab := range t.tabs {
		tab.cancel()
		delete(t.tabs, id)
	}
	t.mu.Unlock()
	t.browserCancel()
	t.allocCancel()
	return nil
}

// run executes actions on a chromedp context while honoring the caller's ctx.
func (t *CDPTransport) run(ctx, cdpCtx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(cdpCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (t *CDPTransport) tab(tabID int) (*cdpTab, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tab, ok := t.tabs[tabID]
	if !ok {
		return nil, fmt.Errorf("tab %d: %w", tabID, ErrTabNotFound)
	}
	return tab, nil
}

// GetAllFrames walks the tab's frame tree. The main frame is 0; child frames get
// stable numbers the first time they are seen.
func (t *CDPTransport) GetAllFrames(ctx context.Context, tabID int) ([]schemas.FrameInfo, error) {
	tab, err := t.tab(tabID)
	if err != nil {
		return nil, err
	}
	var tree *page.FrameTree
	err = t.run(ctx, tab.ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		tree, err = page.GetFrameTree().Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("getting frame tree for tab %d: %w", tabID, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	var out []schemas.FrameInfo
	var walk func(node *page.FrameTree, parent int)
	walk = func(node *page.FrameTree, parent int) {
		if node == nil || node.Frame == nil {
			return
		}
		num := t.frameNumber(tab, node.Frame.ID, parent < 0)
		out = append(out, schemas.FrameInfo{FrameID: num, ParentFrameID: parent, URL: node.Frame.URL + node.Frame.URLFragment})
		for _, child := range node.ChildFrames {
			walk(child, num)
		}
	}
	walk(tree, -1)
	return out, nil
}

func (t *CDPTransport) frameNumber(tab *cdpTab, id cdp.FrameID, top bool) int {
	if top {
		if prev, ok := tab.frameIDs[0]; ok && prev != id {
			delete(tab.frameNums, prev)
			delete(tab.worlds, 0)
		}
		tab.frameNums[id] = 0
		tab.frameIDs[0] = id
		return 0
	}
	if n, ok := tab.frameNums[id]; ok {
		return n
	}
	n := tab.nextFrame
	tab.nextFrame++
	tab.frameNums[id] = n
	tab.frameIDs[n] = id
	return n
}

// frameID maps a frame number to its CDP id, refreshing the tree once when the
// number is unknown.
func (t *CDPTransport) frameID(ctx context.Context, tabID int, tab *cdpTab, num int) (cdp.FrameID, error) {
	t.mu.Lock()
	id, ok := tab.frameIDs[num]
	t.mu.Unlock()
	if ok {
		return id, nil
	}
	if _, err := t.GetAllFrames(ctx, tabID); err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok = tab.frameIDs[num]; !ok {
		return "", fmt.Errorf("tab %d frame %d: %w", tabID, num, ErrFrameNotFound)
	}
	return id, nil
}

func (t *CDPTransport) world(ctx context.Context, tab *cdpTab, num int, id cdp.FrameID) (runtime.ExecutionContextID, error) {
	t.mu.Lock()
	execID, ok := tab.worlds[num]
	t.mu.Unlock()
	if ok {
		return execID, nil
	}
	err := t.run(ctx, tab.ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		execID, err = page.CreateIsolatedWorld(id).WithWorldName(isolatedWorldName).Do(c)
		return err
	}))
	if err != nil {
		return 0, fmt.Errorf("creating isolated world: %w", err)
	}
	t.mu.Lock()
	tab.worlds[num] = execID
	t.mu.Unlock()
	return execID, nil
}

// SendMessage evaluates one probe request in the frame's isolated world.
func (t *CDPTransport) SendMessage(ctx context.Context, tabID int, msg schemas.ProbeRequest, opts schemas.SendOptions) (*schemas.ProbeResponse, error) {
	if msg.Action == schemas.ProbeVerifyFingerprint {
		return t.verifyFingerprint(ctx, tabID, msg, opts)
	}
	reply, err := t.evaluate(ctx, tabID, msg, opts)
	if err != nil {
		return nil, err
	}
	return &reply.ProbeResponse, nil
}

func (t *CDPTransport) verifyFingerprint(ctx context.Context, tabID int, msg schemas.ProbeRequest, opts schemas.SendOptions) (*schemas.ProbeResponse, error) {
	reply, err := t.evaluate(ctx, tabID, schemas.ProbeRequest{Action: probeDescribe, Ref: msg.Ref}, opts)
	if err != nil {
		return nil, err
	}
	if !reply.Success {
		return &reply.ProbeResponse, nil
	}
	if !selector.MatchFingerprint(msg.Fingerprint, reply.Fingerprint) {
		return &schemas.ProbeResponse{Success: false, Ref: msg.Ref, Error: msgMismatch}, nil
	}
	return &schemas.ProbeResponse{Success: true, Ref: msg.Ref}, nil
}

func (t *CDPTransport) evaluate(ctx context.Context, tabID int, msg schemas.ProbeRequest, opts schemas.SendOptions) (*probeReply, error) {
	tab, err := t.tab(tabID)
	if err != nil {
		return nil, err
	}
	num := 0
	if opts.FrameID != nil {
		num = *opts.FrameID
	}
	fid, err := t.frameID(ctx, tabID, tab, num)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding probe request: %w", err)
	}
	expression := strings.TrimSpace(probeScript) + "(" + string(payload) + ")"

	// A navigation destroys the isolated world; recreate it once.
	for attempt := 0; attempt < 2; attempt++ {
		execID, err := t.world(ctx, tab, num, fid)
		if err != nil {
			return nil, err
		}
		var (
			obj *runtime.RemoteObject
			exc *runtime.ExceptionDetails
		)
		err = t.run(ctx, tab.ctx, chromedp.ActionFunc(func(c context.Context) error {
			var err error
			obj, exc, err = runtime.Evaluate(expression).
				WithContextID(execID).
				WithReturnByValue(true).
				WithAwaitPromise(true).
				Do(c)
			return err
		}))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			t.logger.Debug("Probe evaluation failed, dropping isolated world.",
				zap.Int("tab_id", tabID), zap.Int("frame_id", num), zap.Error(err))
			t.mu.Lock()
			delete(tab.worlds, num)
			t.mu.Unlock()
			continue
		}
		if exc != nil {
			return nil, fmt.Errorf("probe %s raised: %s", msg.Action, exc.Text)
		}
		var reply probeReply
		if obj == nil || len(obj.Value) == 0 {
			return nil, fmt.Errorf("probe %s returned no value", msg.Action)
		}
		if err := json.Unmarshal(obj.Value, &reply); err != nil {
			return nil, fmt.Errorf("decoding probe reply: %w", err)
		}
		return &reply, nil
	}
	return &probeReply{ProbeResponse: schemas.ProbeResponse{Success: false, Cancelled: true, Error: "frame context went away"}}, nil
}
