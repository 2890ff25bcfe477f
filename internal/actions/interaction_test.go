package actions_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scalpel-replay/api/schemas"
	"github.com/xkilldash9x/scalpel-replay/internal/mocks"
)

const submitTarget = `{"target":{"selector":"#submit","candidates":[{"type":"css","value":"#submit"}]}}`

func refResponse(ref string) *schemas.ProbeResponse {
	return &schemas.ProbeResponse{Success: true, Ref: ref}
}

func TestClick(t *testing.T) {
	tr := mocks.NewMockTransport()
	tr.On("SendMessage", mock.Anything, 1, mocks.ProbeFor(schemas.ProbeEnsureRef, "#submit"), mocks.InFrame(-1)).
		Return(refResponse("ref_3"), nil).Once()
	tr.On("SendMessage", mock.Anything, 1, mock.MatchedBy(func(req schemas.ProbeRequest) bool {
		return req.Action == schemas.ProbeClick && req.Ref == "ref_3"
	}), mocks.InFrame(-1)).Return(&schemas.ProbeResponse{Success: true}, nil).Once()

	res := defaultRegistry(t, tr).Execute(context.Background(), newCtx(t), act(schemas.ActionClick, submitTarget))
	require.Equal(t, schemas.StatusSuccess, res.Status, "%+v", res.Error)
	tr.AssertExpectations(t)
}

func TestClick_UsesCurrentFrame(t *testing.T) {
	tr := mocks.NewMockTransport()
	tr.On("SendMessage", mock.Anything, 1, mocks.ProbeFor(schemas.ProbeEnsureRef, "#submit"), mocks.InFrame(4)).
		Return(refResponse("ref_9"), nil).Once()
	tr.On("SendMessage", mock.Anything, 1, mocks.ProbeAction(schemas.ProbeClick), mocks.InFrame(4)).
		Return(&schemas.ProbeResponse{Success: true}, nil).Once()

	ectx := newCtx(t)
	frame := 4
	ectx.FrameID = &frame
	res := defaultRegistry(t, tr).Execute(context.Background(), ectx, act(schemas.ActionClick, submitTarget))
	require.Equal(t, schemas.StatusSuccess, res.Status, "%+v", res.Error)
	tr.AssertExpectations(t)
}

func TestClick_NotFound(t *testing.T) {
	tr := mocks.NewMockTransport()
	tr.On("SendMessage", mock.Anything, 1, mock.Anything, mock.Anything).
		Return(&schemas.ProbeResponse{Success: false, Error: "no match"}, nil)

	a := act(schemas.ActionClick, submitTarget)
	a.Policy = &schemas.ActionPolicy{Retry: &schemas.RetryPolicy{Retries: 1}}
	res := defaultRegistry(t, tr).Execute(context.Background(), newCtx(t), a)

	require.NotNil(t, res.Error)
	assert.Equal(t, schemas.ErrCodeTargetNotFound, res.Error.Code)
	// Primary selector and one candidate per attempt, never a click.
	tr.AssertNumberOfCalls(t, "SendMessage", 4)
}

func TestClick_HiddenElement(t *testing.T) {
	tr := mocks.NewMockTransport()
	tr.On("SendMessage", mock.Anything, 1, mocks.ProbeAction(schemas.ProbeEnsureRef), mock.Anything).
		Return(refResponse("ref_1"), nil)
	tr.On("SendMessage", mock.Anything, 1, mocks.ProbeAction(schemas.ProbeClick), mock.Anything).
		Return(&schemas.ProbeResponse{Success: false, Error: "element not visible"}, nil)

	res := defaultRegistry(t, tr).Execute(context.Background(), newCtx(t), act(schemas.ActionClick, submitTarget))
	assert.Equal(t, schemas.ErrCodeElementHidden, res.Error.Code)
}

func TestClick_Validation(t *testing.T) {
	r := defaultRegistry(t, mocks.NewMockTransport())
	for _, params := range []string{``, `{}`, `{"target":{"candidates":[]}}`, `{"target":{"candidates":[{"type":"css","value":" "}]}}`} {
		res := r.Execute(context.Background(), newCtx(t), act(schemas.ActionClick, params))
		require.NotNil(t, res.Error, params)
		assert.Equal(t, schemas.ErrCodeValidation, res.Error.Code, params)
	}
}

func TestFill_ResolvesTemplate(t *testing.T) {
	tr := mocks.NewMockTransport()
	tr.On("SendMessage", mock.Anything, 1, mocks.ProbeAction(schemas.ProbeEnsureRef), mock.Anything).
		Return(refResponse("ref_email"), nil)
	tr.On("SendMessage", mock.Anything, 1, mock.MatchedBy(func(req schemas.ProbeRequest) bool {
		return req.Action == schemas.ProbeFill && req.Ref == "ref_email" && req.Value == "ada@example.com"
	}), mock.Anything).Return(&schemas.ProbeResponse{Success: true}, nil).Once()

	ectx := newCtx(t)
	ectx.Vars.Set("user", map[string]interface{}{"email": "ada@example.com"})
	res := defaultRegistry(t, tr).Execute(context.Background(), ectx, act(schemas.ActionFill,
		`{"target":{"candidates":[{"type":"attr","value":"[name=\"email\"]"}]},"value":"{{ user.email }}"}`))
	require.Equal(t, schemas.StatusSuccess, res.Status, "%+v", res.Error)
	tr.AssertExpectations(t)
}

func TestFill_RequiresValue(t *testing.T) {
	res := defaultRegistry(t, mocks.NewMockTransport()).Execute(context.Background(), newCtx(t), act(schemas.ActionFill, submitTarget))
	assert.Equal(t, schemas.ErrCodeValidation, res.Error.Code)
	assert.Contains(t, res.Error.Message, "value is required")
}

func TestDelay(t *testing.T) {
	r := defaultRegistry(t, nil)

	start := time.Now()
	res := r.Execute(context.Background(), newCtx(t), act(schemas.ActionDelay, `{"ms":20}`))
	assert.Equal(t, schemas.StatusSuccess, res.Status)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ectx := newCtx(t)
	ectx.Vars.Set("wait", 5)
	res = r.Execute(context.Background(), ectx, act(schemas.ActionDelay, `{"ms":"{{ wait }}"}`))
	assert.Equal(t, schemas.StatusSuccess, res.Status)

	a := act(schemas.ActionDelay, `{"ms":5000}`)
	a.Policy = &schemas.ActionPolicy{Timeout: &schemas.TimeoutPolicy{Ms: 30}}
	res = r.Execute(context.Background(), newCtx(t), a)
	assert.Equal(t, schemas.ErrCodeTimeout, res.Error.Code)

	for _, params := range []string{`{}`, `{"ms":-1}`, `{"ms":"soon"}`, `{"ms":true}`} {
		res = r.Execute(context.Background(), newCtx(t), act(schemas.ActionDelay, params))
		assert.Equal(t, schemas.ErrCodeValidation, res.Error.Code, params)
	}
}

func TestSetVarAndAssert(t *testing.T) {
	r := defaultRegistry(t, nil)
	ectx := newCtx(t)
	ectx.Vars.Set("base", map[string]interface{}{"total": 12.5})

	res := r.Execute(context.Background(), ectx, act(schemas.ActionSetVar, `{"name":"total","value":"{{ base.total }}"}`))
	require.Equal(t, schemas.StatusSuccess, res.Status)
	assert.Equal(t, 12.5, ectx.Vars["total"])

	res = r.Execute(context.Background(), ectx, act(schemas.ActionAssert,
		`{"condition":{"kind":"compare","op":"gt","left":{"var":"total"},"right":{"value":10}}}`))
	assert.Equal(t, schemas.StatusSuccess, res.Status)

	res = r.Execute(context.Background(), ectx, act(schemas.ActionAssert,
		`{"condition":{"kind":"compare","op":"gt","left":{"var":"total"},"right":{"value":100}},"message":"total {{ total }} too low"}`))
	require.NotNil(t, res.Error)
	assert.Equal(t, schemas.ErrCodeAssertionFailed, res.Error.Code)
	assert.Equal(t, "total 12.5 too low", res.Error.Message)

	res = r.Execute(context.Background(), ectx, act(schemas.ActionSetVar, `{"name":"has space","value":1}`))
	assert.Equal(t, schemas.ErrCodeValidation, res.Error.Code)
}
