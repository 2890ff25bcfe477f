package transport

import (
	"strings"
	"testing"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/assert"
)

func TestProbeScriptIsCallable(t *testing.T) {
	src := strings.TrimSpace(probeScript)
	assert.True(t, strings.HasPrefix(src, "(function (req)"))
	assert.True(t, strings.HasSuffix(src, "})"))
	for _, action := range []string{"ensureRefForSelector", "resolveRef", "describe", "click", "fill"} {
		assert.Contains(t, src, "'"+action+"'")
	}
	for _, msg := range []string{msgNoMatch, msgStaleRef, msgHidden, msgDisabled, msgNotField, msgNoShadow} {
		assert.Contains(t, src, msg, "page-side failures must use the shared wording")
	}
}

func TestFrameNumbering(t *testing.T) {
	tr := &CDPTransport{}
	tab := &cdpTab{
		frameNums: make(map[cdp.FrameID]int),
		frameIDs:  make(map[int]cdp.FrameID),
		nextFrame: 1,
		worlds:    make(map[int]runtime.ExecutionContextID),
	}

	assert.Equal(t, 0, tr.frameNumber(tab, "MAIN", true))
	assert.Equal(t, 1, tr.frameNumber(tab, "A", false))
	assert.Equal(t, 2, tr.frameNumber(tab, "B", false))
	assert.Equal(t, 1, tr.frameNumber(tab, "A", false), "numbers are stable per frame")

	tab.worlds[0] = 42
	assert.Equal(t, 0, tr.frameNumber(tab, "MAIN2", true))
	assert.NotContains(t, tab.worlds, 0, "a new main frame invalidates its isolated world")
	assert.NotContains(t, tab.frameNums, cdp.FrameID("MAIN"))
}
