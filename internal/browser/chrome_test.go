package browser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChromeSessionRunChecksCallerFirst(t *testing.T) {
	sessionCtx, stop := context.WithCancel(context.Background())
	defer stop()
	s := &ChromeSession{ctx: sessionCtx, opts: DefaultOptions()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.run(ctx, false)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.NoError(t, sessionCtx.Err(), "a cancelled caller leaves the browser running")

	s.closed = true
	assert.ErrorIs(t, s.run(context.Background(), false), ErrSessionClosed)

	s.closed, s.dialog = false, &Dialog{Type: "confirm", Message: "Leave page?"}
	var de *DialogError
	assert.ErrorAs(t, s.run(context.Background(), false), &de)
}
