package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestPoolErrorUnwrapping(t *testing.T) {
	launchErr := NewLaunchError("spawn failed", errors.New("exec: chrome not found"))
	if !errors.Is(launchErr, ErrBrowserLaunchFailed) {
		t.Error("Launch error does not unwrap to ErrBrowserLaunchFailed")
	}

	openErr := NewContextOpenError(3, errors.New("target crashed"))
	if !errors.Is(openErr, ErrContextOpenFailed) {
		t.Error("Open error does not unwrap to ErrContextOpenFailed")
	}
	if openErr.BrowserID != 3 {
		t.Errorf("BrowserID = %d, want 3", openErr.BrowserID)
	}

	var pe *PoolError
	if !errors.As(openErr, &pe) {
		t.Error("errors.As failed to extract *PoolError")
	}
}

func TestSentinelsWrapThroughFmt(t *testing.T) {
	wrapped := fmt.Errorf("acquire: %w", ErrPoolExhausted)
	if !errors.Is(wrapped, ErrPoolExhausted) {
		t.Error("Wrapped sentinel not recognized by errors.Is")
	}
}
