package browser

import (
	"sync"
	"time"

	"github.com/nexuslearn/nexuslink/internal/popup"
)

// SystemClock schedules callbacks on the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

func (SystemClock) AfterFunc(d time.Duration, fn func()) popup.Timer {
	return time.AfterFunc(d, fn)
}

func (SystemClock) Every(d time.Duration, fn func()) popup.Timer {
	t := &ticker{stopCh: make(chan struct{})}
	tk := time.NewTicker(d)
	go func() {
		defer tk.Stop()
		for {
			select {
			case <-t.stopCh:
				return
			case <-tk.C:
				fn()
			}
		}
	}()
	return t
}

type ticker struct {
	stopCh chan struct{}
	once   sync.Once
}

func (t *ticker) Stop() bool {
	stopped := false
	t.once.Do(func() {
		close(t.stopCh)
		stopped = true
	})
	return stopped
}
