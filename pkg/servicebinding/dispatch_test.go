package servicebinding

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgesim/miniflare/pkg/config"
	"github.com/edgesim/miniflare/pkg/reqctx"
)

func newTestContext(t *testing.T, limits config.Limits) (context.Context, func()) {
	t.Helper()
	ctx, _, cancel := reqctx.New(context.Background(), limits, reqctx.UsageBundled, time.Unix(1000, 0))
	return ctx, cancel
}

func TestDispatchFetchInvokesBoundHandler(t *testing.T) {
	d := New(config.Default())
	d.Bind("origin", func(ctx context.Context, req Request) (Response, error) {
		return Response{Status: 200, Body: []byte("ok")}, nil
	})

	ctx, cancel := newTestContext(t, config.Default())
	defer cancel()

	resp, err := d.DispatchFetch(ctx, "origin", Request{Method: "GET"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
}

func TestDispatchFetchRejectsUnboundName(t *testing.T) {
	d := New(config.Default())
	ctx, cancel := newTestContext(t, config.Default())
	defer cancel()

	_, err := d.DispatchFetch(ctx, "missing", Request{})
	require.Error(t, err)
}

func TestFetchBindingIncrementsPipelineAndInternalSubrequests(t *testing.T) {
	d := New(config.Default())
	depthDuringCall := -1
	d.Bind("downstream", func(ctx context.Context, req Request) (Response, error) {
		if rc, ok := reqctx.FromContext(ctx); ok {
			depthDuringCall = rc.Snapshot().PipelineDepth
		}
		return Response{Status: 200}, nil
	})

	limits := config.Default()
	ctx, cancel := newTestContext(t, limits)
	defer cancel()

	rc, ok := reqctx.FromContext(ctx)
	require.True(t, ok)

	_, err := d.FetchBinding(ctx, "downstream", Request{})
	require.NoError(t, err)

	assert.Equal(t, 1, depthDuringCall, "pipelineDepth must be incremented for the duration of the hop")
	snap := rc.Snapshot()
	assert.Equal(t, 0, snap.PipelineDepth)
	assert.Equal(t, 1, snap.InternalSubrequests)
}

func TestFetchBindingFailsOncePipelineDepthExceeded(t *testing.T) {
	limits := config.Default()
	limits.MaxPipelineDepth = 1
	d := New(limits)

	var callDepth func(ctx context.Context, req Request) (Response, error)
	callDepth = func(ctx context.Context, req Request) (Response, error) {
		return d.FetchBinding(ctx, "self", req)
	}
	d.Bind("self", callDepth)

	ctx, cancel := newTestContext(t, limits)
	defer cancel()

	_, err := d.FetchBinding(ctx, "self", Request{})
	require.Error(t, err)
}

func TestDispatchFetchFailsOnceRequestDepthExceeded(t *testing.T) {
	limits := config.Default()
	limits.MaxRequestDepth = 1
	d := New(limits)

	var recurse Handler
	recurse = func(ctx context.Context, req Request) (Response, error) {
		return d.DispatchFetch(ctx, "self", req)
	}
	d.Bind("self", recurse)

	ctx, cancel := newTestContext(t, limits)
	defer cancel()

	_, err := d.DispatchFetch(ctx, "self", Request{})
	require.Error(t, err)
}
