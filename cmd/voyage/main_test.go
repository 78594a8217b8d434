package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/voyagehq/voyage/internal/app"
	_ "github.com/voyagehq/voyage/internal/testing/guard"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	app.RefreshTestMode()
	assert.True(t, app.InTestMode())

	done := make(chan struct{})
	go func() {
		main()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("main did not return in test mode")
	}
}
