package gateway

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAwaitTimeout is returned when no matching reaction arrives before the
// acknowledgement window closes.
var ErrAwaitTimeout = errors.New("gateway: reaction wait timed out")

type pendingWait struct {
	userID string
	emojis map[string]struct{}
	ch     chan string
}

// ReactionWaiter resolves deadline-bounded waits for a specific reaction from
// a specific user on a specific message. Reaction events are fed in through
// Dispatch; each registered wait fires at most once.
type ReactionWaiter struct {
	mu      sync.Mutex
	pending map[string][]*pendingWait // message id → waits
}

func NewReactionWaiter() *ReactionWaiter {
	return &ReactionWaiter{pending: make(map[string][]*pendingWait)}
}

// Dispatch routes a reaction event to a matching wait, if any.
func (w *ReactionWaiter) Dispatch(r *Reaction) {
	if r == nil || r.MessageID == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	waits := w.pending[r.MessageID]
	for i, p := range waits {
		if p.userID != r.UserID {
			continue
		}
		if _, ok := p.emojis[r.Emoji]; !ok {
			continue
		}
		w.pending[r.MessageID] = append(waits[:i], waits[i+1:]...)
		if len(w.pending[r.MessageID]) == 0 {
			delete(w.pending, r.MessageID)
		}
		// buffered; never blocks the dispatch path
		p.ch <- r.Emoji
		return
	}
}

// Await blocks until userID reacts to messageID with one of emojis, the
// window elapses, or ctx is cancelled. It returns the emoji that fired.
func (w *ReactionWaiter) Await(ctx context.Context, messageID, userID string, emojis []string, window time.Duration) (string, error) {
	p := &pendingWait{
		userID: userID,
		emojis: make(map[string]struct{}, len(emojis)),
		ch:     make(chan string, 1),
	}
	for _, e := range emojis {
		p.emojis[e] = struct{}{}
	}

	w.mu.Lock()
	w.pending[messageID] = append(w.pending[messageID], p)
	w.mu.Unlock()

	t := time.NewTimer(window)
	defer t.Stop()

	select {
	case emoji := <-p.ch:
		return emoji, nil
	case <-t.C:
		w.remove(messageID, p)
		// a dispatch may have raced the timer; prefer the reaction
		select {
		case emoji := <-p.ch:
			return emoji, nil
		default:
		}
		return "", ErrAwaitTimeout
	case <-ctx.Done():
		w.remove(messageID, p)
		return "", ctx.Err()
	}
}

func (w *ReactionWaiter) remove(messageID string, target *pendingWait) {
	w.mu.Lock()
	defer w.mu.Unlock()
	waits := w.pending[messageID]
	for i, p := range waits {
		if p == target {
			w.pending[messageID] = append(waits[:i], waits[i+1:]...)
			break
		}
	}
	if len(w.pending[messageID]) == 0 {
		delete(w.pending, messageID)
	}
}
