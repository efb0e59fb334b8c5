package browser

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/snapdeck/snapdeck-go/internal/fingerprint"
)

// fakeDriver is an in-memory Driver for exercising the pool state machine
// without real browser processes.
type fakeDriver struct {
	mu          sync.Mutex
	launched    []*fakeBrowser
	launchErr   error
	launchDelay time.Duration
}

func (d *fakeDriver) Launch(ctx context.Context, _ LaunchOptions) (Browser, error) {
	d.mu.Lock()
	err := d.launchErr
	delay := d.launchDelay
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	b := &fakeBrowser{disconnected: make(chan struct{})}
	d.mu.Lock()
	d.launched = append(d.launched, b)
	d.mu.Unlock()
	return b, nil
}

func (d *fakeDriver) setLaunchErr(err error) {
	d.mu.Lock()
	d.launchErr = err
	d.mu.Unlock()
}

func (d *fakeDriver) launchedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.launched)
}

func (d *fakeDriver) browser(i int) *fakeBrowser {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.launched[i]
}

type fakeBrowser struct {
	mu           sync.Mutex
	openFailures int // fail the next N NewContext calls
	pageErr      error
	opened       int
	openContexts int
	closed       bool
	disconnected chan struct{}
	crashOnce    sync.Once
}

func (b *fakeBrowser) NewContext(_ context.Context, _ *fingerprint.Profile) (BrowserContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("browser closed")
	}
	if b.openFailures > 0 {
		b.openFailures--
		return nil, errors.New("synthetic open failure")
	}
	b.opened++
	b.openContexts++
	return &fakeContext{b: b}, nil
}

func (b *fakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBrowser) Disconnected() <-chan struct{} {
	return b.disconnected
}

// crash simulates the underlying browser process dying.
func (b *fakeBrowser) crash() {
	b.crashOnce.Do(func() { close(b.disconnected) })
}

func (b *fakeBrowser) failNextOpens(n int) {
	b.mu.Lock()
	b.openFailures = n
	b.mu.Unlock()
}

func (b *fakeBrowser) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

type fakeContext struct {
	b      *fakeBrowser
	mu     sync.Mutex
	closed bool
}

func (c *fakeContext) NewPage(_ context.Context) (Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("context closed")
	}
	c.b.mu.Lock()
	err := c.b.pageErr
	c.b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &fakePage{}, nil
}

func (c *fakeContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("context already closed")
	}
	c.closed = true
	c.b.mu.Lock()
	c.b.openContexts--
	c.b.mu.Unlock()
	return nil
}

type fakePage struct {
	mu     sync.Mutex
	closed bool
}

func (p *fakePage) Navigate(string) error {
	return nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
