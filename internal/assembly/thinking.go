package assembly

import (
	"fmt"
	"time"

	"github.com/lunahq/realtime/internal/message"
)

func thinkingText(elapsed time.Duration) string {
	secs := int(elapsed.Seconds())
	if secs <= 0 {
		return "Thinking..."
	}
	return fmt.Sprintf("Thinking... (%ds)", secs)
}

// ThinkingActive reports whether the elapsed-time ticker is running. It runs
// exactly while some message has IsThinking set.
func (a *Assembler) ThinkingActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tickStop != nil
}

func (a *Assembler) thinkingMessageLocked() *message.Message {
	for i := len(a.messages) - 1; i >= 0; i-- {
		if a.messages[i].IsThinking {
			return a.messages[i]
		}
	}
	return nil
}

// reconcileThinkingLocked tears the ticker down the moment no thinking
// message remains.
func (a *Assembler) reconcileThinkingLocked() {
	if a.thinkingMessageLocked() == nil {
		a.stopTickerLocked()
	}
}

func (a *Assembler) clearThinkingLocked() {
	for _, m := range a.messages {
		m.IsThinking = false
	}
	a.stopTickerLocked()
}

func (a *Assembler) startTickerLocked() {
	if a.tickStop != nil {
		return
	}
	stop := make(chan struct{})
	a.tickStop = stop
	go a.tickLoop(stop)
}

func (a *Assembler) stopTickerLocked() {
	if a.tickStop != nil {
		close(a.tickStop)
		a.tickStop = nil
	}
}

func (a *Assembler) stopTicker() {
	a.mu.Lock()
	a.stopTickerLocked()
	a.mu.Unlock()
}

// tickLoop rewrites the thinking message's elapsed time once per interval.
func (a *Assembler) tickLoop(stop chan struct{}) {
	ticker := time.NewTicker(a.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.mu.Lock()
			m := a.thinkingMessageLocked()
			if m == nil {
				if a.tickStop == stop {
					close(a.tickStop)
					a.tickStop = nil
				}
				a.mu.Unlock()
				return
			}
			m.Content = thinkingText(a.now().Sub(a.thinkingStart))
			a.mu.Unlock()
			a.notify()
		}
	}
}
