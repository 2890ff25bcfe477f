package actions_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-replay/api/schemas"
	"github.com/xkilldash9x/scalpel-replay/internal/actions"
	"github.com/xkilldash9x/scalpel-replay/internal/mocks"
)

func defaultRegistry(t *testing.T, tr schemas.Transport) *actions.Registry {
	t.Helper()
	return actions.NewDefaultRegistry(zaptest.NewLogger(t), actions.Dependencies{
		Transport:                 tr,
		MaxWhileIterations:        actions.DefaultMaxIterations,
		DefaultForeachConcurrency: 1,
	})
}

func TestIf_BinaryLabels(t *testing.T) {
	r := defaultRegistry(t, nil)
	ectx := newCtx(t)
	ectx.Vars.Set("loggedIn", true)

	res := r.Execute(context.Background(), ectx, act(schemas.ActionIf,
		`{"condition":{"kind":"truthy","value":{"var":"loggedIn"}},"trueLabel":"dashboard"}`))
	require.Equal(t, schemas.StatusSuccess, res.Status)
	assert.Equal(t, "dashboard", res.NextLabel)
	assert.Nil(t, res.Control)

	ectx.Vars.Set("loggedIn", false)
	res = r.Execute(context.Background(), ectx, act(schemas.ActionIf,
		`{"condition":{"kind":"truthy","value":{"var":"loggedIn"}},"trueLabel":"dashboard"}`))
	assert.Equal(t, "false", res.NextLabel)
}

func TestIf_Branches(t *testing.T) {
	r := defaultRegistry(t, nil)
	params := `{"branches":[
		{"label":"small","condition":{"kind":"compare","op":"lt","left":{"var":"n"},"right":{"value":10}}},
		{"label":"medium","condition":{"kind":"compare","op":"lt","left":{"var":"n"},"right":{"value":100}}}
	],"elseLabel":"large"}`

	for n, want := range map[float64]string{3: "small", 42: "medium", 500: "large"} {
		ectx := newCtx(t)
		ectx.Vars.Set("n", n)
		res := r.Execute(context.Background(), ectx, act(schemas.ActionIf, params))
		assert.Equal(t, want, res.NextLabel, "n=%v", n)
	}

	ectx := newCtx(t)
	ectx.Vars.Set("n", 1000.0)
	res := r.Execute(context.Background(), ectx, act(schemas.ActionIf,
		`{"branches":[{"label":"x","condition":{"kind":"falsy","value":{"var":"n"}}}]}`))
	assert.Equal(t, "default", res.NextLabel)
}

func TestIf_Validation(t *testing.T) {
	r := defaultRegistry(t, nil)
	tests := map[string]string{
		"no mode":   `{}`,
		"both":      `{"condition":{"kind":"truthy","value":{"value":1}},"branches":[{"label":"a","condition":{"kind":"truthy","value":{"value":1}}}]}`,
		"bad op":    `{"condition":{"kind":"compare","op":"like","left":{"value":1},"right":{"value":1}}}`,
		"bad regex": `{"condition":{"kind":"compare","op":"regex","left":{"value":"a"},"right":{"value":"("}}}`,
		"no label":  `{"branches":[{"condition":{"kind":"truthy","value":{"value":1}}}]}`,
	}
	for name, params := range tests {
		t.Run(name, func(t *testing.T) {
			res := r.Execute(context.Background(), newCtx(t), act(schemas.ActionIf, params))
			require.NotNil(t, res.Error)
			assert.Equal(t, schemas.ErrCodeValidation, res.Error.Code)
		})
	}
}

func TestForeach(t *testing.T) {
	r := defaultRegistry(t, nil)

	t.Run("directive", func(t *testing.T) {
		ectx := newCtx(t)
		ectx.Vars.Set("rows", []interface{}{"a", "b"})
		res := r.Execute(context.Background(), ectx, act(schemas.ActionForeach,
			`{"listVar":"rows","subflowId":"handleRow","concurrency":3}`))
		require.Equal(t, schemas.StatusSuccess, res.Status)
		require.NotNil(t, res.Control)
		assert.Equal(t, schemas.ControlDirective{
			Kind:        schemas.DirectiveForeach,
			SubflowID:   "handleRow",
			ListVar:     "rows",
			ItemVar:     "item",
			Concurrency: 3,
		}, *res.Control)
	})

	t.Run("empty list has no directive", func(t *testing.T) {
		ectx := newCtx(t)
		ectx.Vars.Set("rows", []interface{}{})
		res := r.Execute(context.Background(), ectx, act(schemas.ActionForeach,
			`{"listVar":"rows","subflowId":"handleRow"}`))
		assert.Equal(t, schemas.StatusSuccess, res.Status)
		assert.Nil(t, res.Control)
	})

	t.Run("default concurrency", func(t *testing.T) {
		ectx := newCtx(t)
		ectx.Vars.Set("rows", []string{"x"})
		res := r.Execute(context.Background(), ectx, act(schemas.ActionForeach,
			`{"listVar":"rows","itemVar":"row","subflowId":"s"}`))
		require.NotNil(t, res.Control)
		assert.Equal(t, 1, res.Control.Concurrency)
		assert.Equal(t, "row", res.Control.ItemVar)
	})

	t.Run("not an array", func(t *testing.T) {
		ectx := newCtx(t)
		ectx.Vars.Set("rows", "abc")
		res := r.Execute(context.Background(), ectx, act(schemas.ActionForeach,
			`{"listVar":"rows","subflowId":"s"}`))
		assert.Equal(t, schemas.ErrCodeValidation, res.Error.Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		res := r.Execute(context.Background(), newCtx(t), act(schemas.ActionForeach, `{"itemVar":"1bad"}`))
		require.NotNil(t, res.Error)
		assert.Equal(t, schemas.ErrCodeValidation, res.Error.Code)
		assert.Contains(t, res.Error.Message, "listVar is required")
		assert.Contains(t, res.Error.Message, "subflowId is required")
	})
}

func TestWhile(t *testing.T) {
	r := defaultRegistry(t, nil)
	cond := `{"kind":"compare","op":"lt","left":{"var":"page"},"right":{"value":5}}`

	ectx := newCtx(t)
	ectx.Vars.Set("page", 7)
	res := r.Execute(context.Background(), ectx, act(schemas.ActionWhile,
		fmt.Sprintf(`{"condition":%s,"subflowId":"nextPage"}`, cond)))
	assert.Equal(t, schemas.StatusSuccess, res.Status)
	assert.Nil(t, res.Control)

	ectx.Vars.Set("page", 1)
	res = r.Execute(context.Background(), ectx, act(schemas.ActionWhile,
		fmt.Sprintf(`{"condition":%s,"subflowId":"nextPage"}`, cond)))
	require.NotNil(t, res.Control)
	assert.Equal(t, schemas.DirectiveWhile, res.Control.Kind)
	assert.Equal(t, "nextPage", res.Control.SubflowID)
	assert.Equal(t, 1000, res.Control.MaxIterations)
	require.NotNil(t, res.Control.Condition)
	assert.Equal(t, schemas.OpLt, res.Control.Condition.Op)

	res = r.Execute(context.Background(), ectx, act(schemas.ActionWhile,
		fmt.Sprintf(`{"condition":%s,"subflowId":"nextPage","maxIterations":3}`, cond)))
	assert.Equal(t, 3, res.Control.MaxIterations)

	res = r.Execute(context.Background(), ectx, act(schemas.ActionWhile, `{"subflowId":"nextPage"}`))
	assert.Equal(t, schemas.ErrCodeValidation, res.Error.Code)
}

// -- switchFrame --

var frames = []schemas.FrameInfo{
	{FrameID: 0, ParentFrameID: -1, URL: "https://shop.example.com/"},
	{FrameID: 5, ParentFrameID: 0, URL: "https://ads.example.com/banner"},
	{FrameID: 9, ParentFrameID: 0, URL: "https://pay.example.com/card"},
}

func TestSwitchFrame(t *testing.T) {
	tests := []struct {
		name   string
		params string
		want   int
		code   schemas.ErrorCode
	}{
		{name: "top by default", params: `{}`, want: 0},
		{name: "explicit top", params: `{"top":true}`, want: 0},
		{name: "index zero is first child", params: `{"index":0}`, want: 5},
		{name: "index one", params: `{"index":1}`, want: 9},
		{name: "index out of range", params: `{"index":2}`, code: schemas.ErrCodeFrameNotFound},
		{name: "url contains", params: `{"urlContains":"pay.example"}`, want: 9},
		{name: "url not present", params: `{"urlContains":"nowhere"}`, code: schemas.ErrCodeFrameNotFound},
		{name: "negative index", params: `{"index":-1}`, code: schemas.ErrCodeValidation},
		{name: "blank url", params: `{"urlContains":"  "}`, code: schemas.ErrCodeValidation},
		{name: "two targets", params: `{"index":0,"urlContains":"pay"}`, code: schemas.ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := mocks.NewMockTransport()
			tr.On("GetAllFrames", mock.Anything, 1).Return(frames, nil).Maybe()
			r := defaultRegistry(t, tr)

			ectx := newCtx(t)
			res := r.Execute(context.Background(), ectx, act(schemas.ActionSwitchFrame, tt.params))
			if tt.code != "" {
				require.NotNil(t, res.Error)
				assert.Equal(t, tt.code, res.Error.Code)
				assert.Nil(t, ectx.FrameID)
				return
			}
			require.Equal(t, schemas.StatusSuccess, res.Status, "%+v", res.Error)
			require.NotNil(t, ectx.FrameID)
			assert.Equal(t, tt.want, *ectx.FrameID)
		})
	}
}

func TestSwitchFrame_URLTemplate(t *testing.T) {
	tr := mocks.NewMockTransport()
	tr.On("GetAllFrames", mock.Anything, 1).Return(frames, nil)
	r := defaultRegistry(t, tr)

	ectx := newCtx(t)
	ectx.Vars.Set("provider", "pay")
	res := r.Execute(context.Background(), ectx, act(schemas.ActionSwitchFrame, `{"urlContains":"{{ provider }}.example"}`))
	require.Equal(t, schemas.StatusSuccess, res.Status)
	assert.Equal(t, 9, *ectx.FrameID)
}

func TestSwitchFrame_TabErrors(t *testing.T) {
	t.Run("no tab", func(t *testing.T) {
		r := defaultRegistry(t, mocks.NewMockTransport())
		ectx := actions.NewExecutionContext(zaptest.NewLogger(t), nil, nil)
		res := r.Execute(context.Background(), ectx, act(schemas.ActionSwitchFrame, `{}`))
		assert.Equal(t, schemas.ErrCodeTabNotFound, res.Error.Code)
	})

	t.Run("tab gone", func(t *testing.T) {
		tr := mocks.NewMockTransport()
		tr.On("GetAllFrames", mock.Anything, 1).Return(nil, fmt.Errorf("tab 1: %w", schemas.ErrTabNotFound))
		r := defaultRegistry(t, tr)
		res := r.Execute(context.Background(), newCtx(t), act(schemas.ActionSwitchFrame, `{"index":0}`))
		assert.Equal(t, schemas.ErrCodeTabNotFound, res.Error.Code)
	})
}
