package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsShutdownErr(t *testing.T) {
	assert.True(t, isShutdownErr(context.Canceled))
	assert.True(t, isShutdownErr(fmt.Errorf("server loop: %w", context.Canceled)),
		"wrapped cancellations count as shutdown")
	assert.False(t, isShutdownErr(errors.New("listen failed")))
	assert.False(t, isShutdownErr(context.DeadlineExceeded))
}
