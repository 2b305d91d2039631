package chat

import (
	"context"
	"time"
)

type step struct {
	at    time.Duration
	apply func()
	// after runs outside the lock once apply has been persisted.
	after func(ctx context.Context)
}

// scheduleLocked replaces any pending chain with steps. Each step runs under
// f.mu only while the chain generation is still current, so a cancelled
// chain can never append to the conversation.
func (f *Flow) scheduleLocked(steps []step) {
	f.cancelLocked()
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	gen := f.gen
	start := time.Now()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer cancel()
		for _, s := range steps {
			if wait := time.Until(start.Add(s.at)); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			if !f.runStep(ctx, gen, s) {
				return
			}
		}
	}()
}

func (f *Flow) runStep(ctx context.Context, gen uint64, s step) bool {
	f.mu.Lock()
	if f.gen != gen {
		f.mu.Unlock()
		return false
	}
	s.apply()
	if err := f.persistLocked(context.WithoutCancel(ctx)); err != nil {
		f.logger.Error("persist chat step failed", "err", err)
	}
	f.mu.Unlock()
	if s.after != nil {
		s.after(context.WithoutCancel(ctx))
	}
	return true
}

// cancelLocked invalidates the pending chain and returns the analysis that
// was still in flight, if any.
func (f *Flow) cancelLocked() string {
	f.gen++
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	if f.state.Step == StepProcessing {
		return f.state.AnalysisID
	}
	return ""
}
