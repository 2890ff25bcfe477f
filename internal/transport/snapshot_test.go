package transport_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-replay/api/schemas"
	"github.com/xkilldash9x/scalpel-replay/internal/actions"
	"github.com/xkilldash9x/scalpel-replay/internal/selector"
	"github.com/xkilldash9x/scalpel-replay/internal/transport"
)

const pageHTML = `
<html>
<body>
	<form id="login">
		<input id="email" name="email">
		<input id="token" type="hidden" value="x">
		<textarea id="notes">old</textarea>
		<button id="submit" class="btn">Sign in</button>
		<button class="btn" disabled>Cancel</button>
	</form>
	<div style="display: none"><a id="secret" href="/s">Secret</a></div>
	<div id="shell">
		<template shadowrootmode="open">
			<button class="inner">Go</button>
		</template>
	</div>
	<iframe id="pay" src="/pay/widget"></iframe>
</body>
</html>`

const frameHTML = `<html><body><button id="pay-now">Pay now</button></body></html>`

func newTransport(t *testing.T) *transport.SnapshotTransport {
	t.Helper()
	tr := transport.NewSnapshotTransport(zaptest.NewLogger(t))
	require.NoError(t, tr.AddTab(1, "https://shop.test/checkout", strings.NewReader(pageHTML)))
	id, err := tr.AddFrame(1, 0, "https://shop.test/pay/widget", strings.NewReader(frameHTML))
	require.NoError(t, err)
	require.Equal(t, 1, id)
	return tr
}

func ensure(t *testing.T, tr schemas.Transport, req schemas.ProbeRequest, frame *int) *schemas.ProbeResponse {
	t.Helper()
	req.Action = schemas.ProbeEnsureRef
	resp, err := tr.SendMessage(context.Background(), 1, req, schemas.SendOptions{FrameID: frame})
	require.NoError(t, err)
	return resp
}

func TestSnapshot_EnsureRef(t *testing.T) {
	tr := newTransport(t)

	tests := []struct {
		name    string
		req     schemas.ProbeRequest
		success bool
		errMsg  string
	}{
		{"css", schemas.ProbeRequest{Selector: "#submit"}, true, ""},
		{"xpath", schemas.ProbeRequest{Selector: `//button[@id="submit"]`, IsXPath: true}, true, ""},
		{"exact text", schemas.ProbeRequest{Text: "Sign in", TextMatch: schemas.TextMatchExact}, true, ""},
		{"contains text with tag", schemas.ProbeRequest{Text: "Sign", TextMatch: schemas.TextMatchContains, TagName: "button"}, true, ""},
		{"no match", schemas.ProbeRequest{Selector: "#missing"}, false, "no element matches"},
		{"ambiguous", schemas.ProbeRequest{Selector: "form .btn"}, false, "ambiguous: 2 elements match"},
		{"ambiguous allowed", schemas.ProbeRequest{Selector: "form .btn", AllowMultiple: true}, true, ""},
		{"invalid css", schemas.ProbeRequest{Selector: "button[[["}, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ensure(t, tr, tt.req, nil)
			assert.Equal(t, tt.success, resp.Success, resp.Error)
			if tt.success {
				assert.True(t, strings.HasPrefix(resp.Ref, "ref_"))
				assert.NotNil(t, resp.Center)
			}
			if tt.errMsg != "" {
				assert.Equal(t, tt.errMsg, resp.Error)
			}
		})
	}
}

func TestSnapshot_RefIsStablePerElement(t *testing.T) {
	tr := newTransport(t)
	a := ensure(t, tr, schemas.ProbeRequest{Selector: "#submit"}, nil)
	b := ensure(t, tr, schemas.ProbeRequest{Selector: "button#submit"}, nil)
	assert.Equal(t, a.Ref, b.Ref)

	n, err := tr.Node(1, 0, a.Ref)
	require.NoError(t, err)
	assert.Equal(t, "submit", htmlquery.SelectAttr(n, "id"))
}

func TestSnapshot_ShadowChain(t *testing.T) {
	tr := newTransport(t)

	outside := ensure(t, tr, schemas.ProbeRequest{Selector: ".inner"}, nil)
	assert.False(t, outside.Success, "shadow content is not reachable from the document")

	inside := ensure(t, tr, schemas.ProbeRequest{Selector: ".inner", ShadowHostChain: []string{"#shell"}}, nil)
	assert.True(t, inside.Success, inside.Error)

	missing := ensure(t, tr, schemas.ProbeRequest{Selector: ".inner", ShadowHostChain: []string{"#nope"}}, nil)
	assert.Equal(t, "shadow host not found", missing.Error)
}

func TestSnapshot_IframeHrefAndFrames(t *testing.T) {
	tr := newTransport(t)
	resp := ensure(t, tr, schemas.ProbeRequest{Selector: "#pay"}, nil)
	require.True(t, resp.Success)
	assert.Equal(t, "https://shop.test/pay/widget", resp.Href)

	frames, err := tr.GetAllFrames(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []schemas.FrameInfo{
		{FrameID: 0, ParentFrameID: -1, URL: "https://shop.test/checkout"},
		{FrameID: 1, ParentFrameID: 0, URL: "https://shop.test/pay/widget"},
	}, frames)

	inFrame := ensure(t, tr, schemas.ProbeRequest{Selector: "#pay-now"}, schemas.FrameRef(1))
	assert.True(t, inFrame.Success)
	notTop := ensure(t, tr, schemas.ProbeRequest{Selector: "#pay-now"}, nil)
	assert.False(t, notTop.Success)
}

func TestSnapshot_Interactions(t *testing.T) {
	tr := newTransport(t)
	ctx := context.Background()
	send := func(action schemas.ProbeAction, sel, value string) *schemas.ProbeResponse {
		t.Helper()
		ref := ensure(t, tr, schemas.ProbeRequest{Selector: sel, AllowMultiple: true}, nil)
		require.True(t, ref.Success, "%s: %s", sel, ref.Error)
		resp, err := tr.SendMessage(ctx, 1, schemas.ProbeRequest{Action: action, Ref: ref.Ref, Value: value}, schemas.SendOptions{})
		require.NoError(t, err)
		return resp
	}

	assert.True(t, send(schemas.ProbeClick, "#submit", "").Success)
	assert.Equal(t, "element not visible", send(schemas.ProbeClick, "#secret", "").Error)
	assert.Equal(t, "element not visible", send(schemas.ProbeFill, "#token", "y").Error)
	assert.Equal(t, "element is disabled", send(schemas.ProbeClick, "button[disabled]", "").Error)
	assert.Equal(t, "element does not accept input", send(schemas.ProbeFill, "#submit", "z").Error)

	require.True(t, send(schemas.ProbeFill, "#email", "ada@example.com").Success)
	require.True(t, send(schemas.ProbeFill, "#notes", "new notes").Success)

	email := ensure(t, tr, schemas.ProbeRequest{Selector: "#email"}, nil)
	n, err := tr.Node(1, 0, email.Ref)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", htmlquery.SelectAttr(n, "value"))

	notes := ensure(t, tr, schemas.ProbeRequest{Selector: "#notes"}, nil)
	n, err = tr.Node(1, 0, notes.Ref)
	require.NoError(t, err)
	assert.Equal(t, "new notes", htmlquery.InnerText(n))

	events := tr.Events()
	require.Len(t, events, 3)
	assert.Equal(t, schemas.ProbeClick, events[0].Action)
	assert.Equal(t, "ada@example.com", events[1].Value)
}

func TestSnapshot_VerifyFingerprint(t *testing.T) {
	tr := newTransport(t)
	ref := ensure(t, tr, schemas.ProbeRequest{Selector: "#submit"}, nil)
	n, err := tr.Node(1, 0, ref.Ref)
	require.NoError(t, err)
	fp := selector.ComputeFingerprint(n)

	ok, err := tr.SendMessage(context.Background(), 1, schemas.ProbeRequest{Action: schemas.ProbeVerifyFingerprint, Ref: ref.Ref, Fingerprint: fp}, schemas.SendOptions{})
	require.NoError(t, err)
	assert.True(t, ok.Success)

	email := ensure(t, tr, schemas.ProbeRequest{Selector: "#email"}, nil)
	bad, err := tr.SendMessage(context.Background(), 1, schemas.ProbeRequest{Action: schemas.ProbeVerifyFingerprint, Ref: email.Ref, Fingerprint: fp}, schemas.SendOptions{})
	require.NoError(t, err)
	assert.False(t, bad.Success)
	assert.Equal(t, "fingerprint mismatch", bad.Error)
}

func TestSnapshot_NavigateDropsRefs(t *testing.T) {
	tr := newTransport(t)
	ref := ensure(t, tr, schemas.ProbeRequest{Selector: "#submit"}, nil)

	require.NoError(t, tr.Navigate(1, 0, "https://shop.test/done", strings.NewReader(`<button id="submit">Again</button>`)))

	resp, err := tr.SendMessage(context.Background(), 1, schemas.ProbeRequest{Action: schemas.ProbeResolveRef, Ref: ref.Ref}, schemas.SendOptions{})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "stale or unknown ref", resp.Error)

	frames, err := tr.GetAllFrames(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "https://shop.test/done", frames[0].URL)
}

func TestSnapshot_Errors(t *testing.T) {
	tr := newTransport(t)
	ctx := context.Background()

	_, err := tr.SendMessage(ctx, 9, schemas.ProbeRequest{Action: schemas.ProbeEnsureRef, Selector: "a"}, schemas.SendOptions{})
	assert.ErrorIs(t, err, transport.ErrTabNotFound)

	_, err = tr.SendMessage(ctx, 1, schemas.ProbeRequest{Action: schemas.ProbeEnsureRef, Selector: "a"}, schemas.SendOptions{FrameID: schemas.FrameRef(5)})
	assert.ErrorIs(t, err, transport.ErrFrameNotFound)

	_, err = tr.GetAllFrames(ctx, 2)
	assert.ErrorIs(t, err, schemas.ErrTabNotFound)

	_, err = tr.SendMessage(ctx, 1, schemas.ProbeRequest{Action: "hover"}, schemas.SendOptions{})
	assert.Error(t, err)

	_, err = tr.AddFrame(1, 7, "https://x.test", strings.NewReader("<p>x</p>"))
	assert.ErrorIs(t, err, transport.ErrFrameNotFound)

	assert.Error(t, tr.AddTab(1, "https://dup.test", strings.NewReader("<p>dup</p>")))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = tr.SendMessage(cancelled, 1, schemas.ProbeRequest{Action: schemas.ProbeEnsureRef, Selector: "a"}, schemas.SendOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

// Records a target from the document, then replays a click on it through the
// locator and the action registry, including a composite selector into the
// payment iframe.
func TestSnapshot_GenerateThenReplay(t *testing.T) {
	tr := newTransport(t)
	logger := zaptest.NewLogger(t)

	doc, err := htmlquery.Parse(strings.NewReader(frameHTML))
	require.NoError(t, err)
	btn := htmlquery.FindOne(doc, `//button[@id="pay-now"]`)
	require.NotNil(t, btn)

	opts := selector.DefaultGenerateOptions()
	opts.FrameSelector = "#pay"
	target := selector.NewGenerator(logger).GenerateExtended(btn, opts)
	require.NotEmpty(t, target.Fingerprint)
	require.True(t, selector.IsComposite(target.Selector), target.Selector)

	reg := actions.NewDefaultRegistry(logger, actions.Dependencies{
		Transport: tr,
		Locate:    selector.LocateOptions{VerifyFingerprint: true},
	})
	params, err := json.Marshal(map[string]interface{}{"target": target})
	require.NoError(t, err)

	tabID := 1
	ectx := actions.NewExecutionContext(logger, &tabID, nil)
	res := reg.Execute(context.Background(), ectx, schemas.Action{Type: schemas.ActionClick, Params: params})
	require.Equal(t, schemas.StatusSuccess, res.Status, "%+v", res.Error)

	events := tr.Events()
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].FrameID)
	assert.Equal(t, schemas.ProbeClick, events[0].Action)
}
