package verify

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/codeforces"
	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/msgcat"
	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/obslog"
)

const (
	tokenLength  = 8
	tokenCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// EmojiConfirm is the reaction the user clicks after renaming their
	// profile.
	EmojiConfirm = "✅"
)

var (
	ErrHandleNotFound = errors.New("codeforces handle not found")
	ErrMismatch       = errors.New("profile first name did not match the token")
	ErrTimeout        = errors.New("verification window elapsed")
)

// Messenger is the outbound gateway slice the verifier needs. SendDirect
// failures carry the gateway's sentinel when the user blocks DMs; callers
// translate that into guidance.
type Messenger interface {
	SendDirect(ctx context.Context, userID, text string) (string, error)
	AddReaction(ctx context.Context, messageID, emoji string) error
}

// Identity looks up a Codeforces profile.
type Identity interface {
	UserInfo(ctx context.Context, handle string) (*codeforces.User, error)
}

// Acks resolves deadline-bounded reaction waits.
type Acks interface {
	Await(ctx context.Context, messageID, userID string, emojis []string, window time.Duration) (string, error)
}

type Options struct {
	// Window bounds the wait for the confirmation reaction.
	Window time.Duration
	// SettleDelay is how long to wait after confirmation before re-reading
	// the profile; Codeforces caches profile edits briefly.
	SettleDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.Window <= 0 {
		o.Window = 5 * time.Minute
	}
	return o
}

// Verifier proves that a chat member controls a Codeforces handle: the
// member temporarily sets their profile first name to a one-time token, and
// the verifier reads it back through the public API.
type Verifier struct {
	api  Identity
	out  Messenger
	acks Acks
	cat  *msgcat.Catalog
	opts Options
}

func New(api Identity, out Messenger, acks Acks, cat *msgcat.Catalog, opts Options) *Verifier {
	return &Verifier{api: api, out: out, acks: acks, cat: cat, opts: opts.withDefaults()}
}

// NewToken returns an 8-character uppercase alphanumeric one-time token.
func NewToken() (string, error) {
	buf := make([]byte, tokenLength)
	max := big.NewInt(int64(len(tokenCharset)))
	for i := range buf {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		buf[i] = tokenCharset[v.Int64()]
	}
	return string(buf), nil
}

// Verify runs the ownership proof for handle and returns the handle with the
// canonical casing reported by the API. Failures map to ErrHandleNotFound,
// ErrMismatch, ErrTimeout, or a transport error (including the gateway's
// blocked-DM sentinel from sending the instructions).
func (v *Verifier) Verify(ctx context.Context, userID, handle string) (string, error) {
	u, err := v.api.UserInfo(ctx, handle)
	if err != nil {
		if codeforces.IsDomainError(err) {
			return "", fmt.Errorf("%w: %s", ErrHandleNotFound, handle)
		}
		return "", err
	}

	token, err := NewToken()
	if err != nil {
		return "", err
	}

	attemptID := uuid.NewString()
	obslog.L().Info("verify_start",
		zap.String("attempt_id", attemptID),
		zap.String("user", userID),
		zap.String("handle", u.Handle),
	)

	msgID, err := v.out.SendDirect(ctx, userID, v.cat.MustRender("register.instructions", map[string]any{
		"Handle":  u.Handle,
		"Token":   token,
		"Emoji":   EmojiConfirm,
		"Minutes": int(v.opts.Window / time.Minute),
	}))
	if err != nil {
		return "", fmt.Errorf("send instructions: %w", err)
	}
	if err := v.out.AddReaction(ctx, msgID, EmojiConfirm); err != nil {
		obslog.L().Warn("verify_reaction_seed_failed", zap.String("user", userID), zap.Error(err))
	}

	if _, err := v.acks.Await(ctx, msgID, userID, []string{EmojiConfirm}, v.opts.Window); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		obslog.L().Info("verify_timeout", zap.String("attempt_id", attemptID), zap.String("user", userID))
		return "", ErrTimeout
	}

	if err := sleepWithContext(ctx, v.opts.SettleDelay); err != nil {
		return "", err
	}

	fresh, err := v.api.UserInfo(ctx, u.Handle)
	if err != nil {
		return "", err
	}
	if fresh.FirstName != token {
		obslog.L().Info("verify_mismatch", zap.String("attempt_id", attemptID), zap.String("user", userID))
		return "", ErrMismatch
	}

	obslog.L().Info("verify_ok", zap.String("attempt_id", attemptID), zap.String("user", userID), zap.String("handle", u.Handle))
	return u.Handle, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
