package bot

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/duel"
	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/gateway"
	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/msgcat"
	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/obslog"
	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/registry"
	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/verify"
)

// Messenger is the outbound gateway slice the router needs for replies.
type Messenger interface {
	SendMessage(ctx context.Context, room, text string) (string, error)
	SendDirect(ctx context.Context, userID, text string) (string, error)
}

// Router parses prefixed commands from chat messages and drives the
// registration, profile, and duel flows. One Handle call per message; the
// caller runs each in its own goroutine so slow flows (verification waits,
// acceptance windows) never block the event loop.
type Router struct {
	out      Messenger
	users    *registry.Registry
	duels    *duel.Manager
	verifier *verify.Verifier
	cat      *msgcat.Catalog
	prefix   string
	lbSize   int
}

func NewRouter(out Messenger, users *registry.Registry, duels *duel.Manager, verifier *verify.Verifier, cat *msgcat.Catalog, prefix string, leaderboardSize int) *Router {
	if leaderboardSize <= 0 {
		leaderboardSize = 10
	}
	return &Router{
		out:      out,
		users:    users,
		duels:    duels,
		verifier: verifier,
		cat:      cat,
		prefix:   prefix,
		lbSize:   leaderboardSize,
	}
}

// Matches reports whether text is addressed to the bot.
func (r *Router) Matches(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), r.prefix)
}

func (r *Router) Handle(ctx context.Context, msg *gateway.Message) {
	if msg == nil || msg.UserID == "" {
		return
	}
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(msg.Text), r.prefix))
	if raw == "" {
		r.reply(ctx, msg.Room, "help.text", map[string]any{"Prefix": r.prefix})
		return
	}
	parts := strings.Fields(raw)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	obslog.L().Debug("command",
		zap.String("room", msg.Room),
		zap.String("user", msg.UserID),
		zap.String("cmd", cmd),
	)

	switch cmd {
	case "register":
		r.handleRegister(ctx, msg, args)
	case "updatehandle":
		r.handleUpdateHandle(ctx, msg, args)
	case "profile":
		r.handleProfile(ctx, msg, args)
	case "leaderboard":
		r.handleLeaderboard(ctx, msg)
	case "challenge":
		r.handleChallenge(ctx, msg, args)
	case "solved":
		r.handleSolved(ctx, msg)
	case "help":
		r.reply(ctx, msg.Room, "help.text", map[string]any{"Prefix": r.prefix})
	default:
		r.reply(ctx, msg.Room, "common.unknown", map[string]any{"Prefix": r.prefix})
	}
}

func (r *Router) handleRegister(ctx context.Context, msg *gateway.Message, args []string) {
	if len(args) < 1 {
		r.reply(ctx, msg.Room, "help.text", map[string]any{"Prefix": r.prefix})
		return
	}
	handle := cleanHandle(args[0])
	if handle == "" {
		r.reply(ctx, msg.Room, "register.handle_not_found", map[string]any{"Handle": args[0]})
		return
	}

	if _, err := r.users.Get(ctx, msg.Room, msg.UserID); err == nil {
		r.reply(ctx, msg.Room, "register.already", nil)
		return
	} else if !errors.Is(err, registry.ErrNotRegistered) {
		r.storeError(ctx, msg.Room, err)
		return
	}
	if owner, err := r.users.FindByHandle(ctx, msg.Room, handle); err == nil && owner != "" && owner != msg.UserID {
		r.reply(ctx, msg.Room, "update.conflict", map[string]any{"Handle": handle})
		return
	}

	r.reply(ctx, msg.Room, "register.dm_sent", map[string]any{"Name": msg.Sender})

	verified, err := r.verifier.Verify(ctx, msg.UserID, handle)
	if err != nil {
		r.verifyError(ctx, msg, handle, err)
		return
	}
	if err := r.users.Register(ctx, msg.Room, msg.UserID, verified); err != nil {
		switch {
		case errors.Is(err, registry.ErrAlreadyRegistered):
			r.reply(ctx, msg.Room, "register.already", nil)
		case errors.Is(err, registry.ErrHandleConflict):
			r.reply(ctx, msg.Room, "update.conflict", map[string]any{"Handle": verified})
		default:
			r.storeError(ctx, msg.Room, err)
		}
		return
	}
	r.replyDirect(ctx, msg, "register.success", map[string]any{
		"Emoji":  verify.EmojiConfirm,
		"Handle": verified,
	})
}

func (r *Router) handleUpdateHandle(ctx context.Context, msg *gateway.Message, args []string) {
	if len(args) < 1 {
		r.reply(ctx, msg.Room, "help.text", map[string]any{"Prefix": r.prefix})
		return
	}
	handle := cleanHandle(args[0])

	current, err := r.users.Get(ctx, msg.Room, msg.UserID)
	if err != nil {
		if errors.Is(err, registry.ErrNotRegistered) {
			r.reply(ctx, msg.Room, "update.not_registered", nil)
		} else {
			r.storeError(ctx, msg.Room, err)
		}
		return
	}
	if r.duels.Active(msg.Room) {
		r.reply(ctx, msg.Room, "update.duel_active", nil)
		return
	}
	if strings.EqualFold(current.Handle, handle) {
		r.reply(ctx, msg.Room, "update.unchanged", nil)
		return
	}
	if owner, err := r.users.FindByHandle(ctx, msg.Room, handle); err == nil && owner != "" && owner != msg.UserID {
		r.reply(ctx, msg.Room, "update.conflict", map[string]any{"Handle": handle})
		return
	}

	r.reply(ctx, msg.Room, "register.dm_sent", map[string]any{"Name": msg.Sender})

	verified, err := r.verifier.Verify(ctx, msg.UserID, handle)
	if err != nil {
		r.verifyError(ctx, msg, handle, err)
		return
	}
	if err := r.users.UpdateHandle(ctx, msg.Room, msg.UserID, verified); err != nil {
		switch {
		case errors.Is(err, registry.ErrHandleUnchanged):
			r.reply(ctx, msg.Room, "update.unchanged", nil)
		case errors.Is(err, registry.ErrHandleConflict):
			r.reply(ctx, msg.Room, "update.conflict", map[string]any{"Handle": verified})
		case errors.Is(err, registry.ErrNotRegistered):
			r.reply(ctx, msg.Room, "update.not_registered", nil)
		default:
			r.storeError(ctx, msg.Room, err)
		}
		return
	}
	r.replyDirect(ctx, msg, "update.success", map[string]any{
		"Emoji":  verify.EmojiConfirm,
		"Handle": verified,
	})
}

func (r *Router) handleProfile(ctx context.Context, msg *gateway.Message, args []string) {
	targetID, targetName := msg.UserID, msg.Sender
	if m, ok := resolveTarget(msg, args); ok {
		targetID, targetName = m.ID, m.Name
	}

	rec, err := r.users.Get(ctx, msg.Room, targetID)
	if err != nil {
		if errors.Is(err, registry.ErrNotRegistered) {
			r.reply(ctx, msg.Room, "profile.not_registered", map[string]any{"Name": targetName})
		} else {
			r.storeError(ctx, msg.Room, err)
		}
		return
	}
	r.reply(ctx, msg.Room, "profile.card", map[string]any{
		"Name":   targetName,
		"Handle": rec.Handle,
		"URL":    "https://codeforces.com/profile/" + rec.Handle,
		"Points": rec.Points,
	})
}

func (r *Router) handleLeaderboard(ctx context.Context, msg *gateway.Message) {
	entries, err := r.users.Leaderboard(ctx, msg.Room, r.lbSize)
	if err != nil {
		r.storeError(ctx, msg.Room, err)
		return
	}
	if len(entries) == 0 {
		r.reply(ctx, msg.Room, "leaderboard.empty", nil)
		return
	}
	lines := []string{r.cat.MustRender("leaderboard.header", nil)}
	for i, e := range entries {
		lines = append(lines, r.cat.MustRender("leaderboard.row", map[string]any{
			"Rank":   i + 1,
			"Name":   e.MemberID,
			"Handle": e.Handle,
			"Points": e.Points,
		}))
	}
	if _, err := r.out.SendMessage(ctx, msg.Room, strings.Join(lines, "\n")); err != nil {
		obslog.L().Warn("reply_failed", zap.String("room", msg.Room), zap.Error(err))
	}
}

func (r *Router) handleChallenge(ctx context.Context, msg *gateway.Message, args []string) {
	target, ok := resolveTarget(msg, args)
	rating, rerr := parseRating(args)
	if !ok || rerr != nil {
		if rerr != nil {
			r.reply(ctx, msg.Room, "duel.rating", nil)
		} else {
			r.reply(ctx, msg.Room, "help.text", map[string]any{"Prefix": r.prefix})
		}
		return
	}

	err := r.duels.Challenge(ctx, msg.Room, msg.UserID, target.ID, target.IsBot, rating)
	switch {
	case err == nil:
	case errors.Is(err, duel.ErrInvalidRating):
		r.reply(ctx, msg.Room, "duel.rating", nil)
	case errors.Is(err, duel.ErrSelfChallenge):
		r.reply(ctx, msg.Room, "duel.self", nil)
	case errors.Is(err, duel.ErrOpponentIneligible):
		r.reply(ctx, msg.Room, "duel.bot", nil)
	case errors.Is(err, duel.ErrSessionActive):
		r.reply(ctx, msg.Room, "duel.active", nil)
	case errors.Is(err, registry.ErrNotRegistered):
		r.reply(ctx, msg.Room, "duel.need_register", nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	default:
		obslog.L().Error("challenge_failed", zap.String("room", msg.Room), zap.Error(err))
		r.reply(ctx, msg.Room, "duel.cancelled_provider", nil)
	}
}

func (r *Router) handleSolved(ctx context.Context, msg *gateway.Message) {
	err := r.duels.Solved(ctx, msg.Room, msg.UserID)
	switch {
	case err == nil:
	case errors.Is(err, duel.ErrNoSession):
		r.reply(ctx, msg.Room, "duel.none", nil)
	case errors.Is(err, duel.ErrNotParticipant):
		r.reply(ctx, msg.Room, "duel.not_participant", nil)
	case errors.Is(err, duel.ErrNoAccepted):
		r.reply(ctx, msg.Room, "duel.no_accepted", nil)
	default:
		obslog.L().Error("solved_check_failed", zap.String("room", msg.Room), zap.Error(err))
		r.reply(ctx, msg.Room, "duel.provider_error", nil)
	}
}

func (r *Router) verifyError(ctx context.Context, msg *gateway.Message, handle string, err error) {
	switch {
	case errors.Is(err, gateway.ErrDeliveryForbidden):
		r.reply(ctx, msg.Room, "register.dm_forbidden", map[string]any{"Name": msg.Sender})
	case errors.Is(err, verify.ErrHandleNotFound):
		r.reply(ctx, msg.Room, "register.handle_not_found", map[string]any{"Handle": handle})
	case errors.Is(err, verify.ErrTimeout):
		r.replyDirect(ctx, msg, "register.timeout", nil)
	case errors.Is(err, verify.ErrMismatch):
		r.replyDirect(ctx, msg, "register.mismatch", nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	default:
		obslog.L().Error("verification_failed", zap.String("user", msg.UserID), zap.Error(err))
		r.reply(ctx, msg.Room, "register.provider_error", nil)
	}
}

func (r *Router) storeError(ctx context.Context, room string, err error) {
	obslog.L().Error("registry_error", zap.String("room", room), zap.Error(err))
	r.reply(ctx, room, "register.provider_error", nil)
}

func (r *Router) reply(ctx context.Context, room, key string, data map[string]any) {
	if _, err := r.out.SendMessage(ctx, room, r.cat.MustRender(key, data)); err != nil {
		obslog.L().Warn("reply_failed", zap.String("room", room), zap.String("key", key), zap.Error(err))
	}
}

// replyDirect prefers the user's DMs and falls back to the room.
func (r *Router) replyDirect(ctx context.Context, msg *gateway.Message, key string, data map[string]any) {
	text := r.cat.MustRender(key, data)
	if _, err := r.out.SendDirect(ctx, msg.UserID, text); err != nil {
		if _, err := r.out.SendMessage(ctx, msg.Room, text); err != nil {
			obslog.L().Warn("reply_failed", zap.String("room", msg.Room), zap.String("key", key), zap.Error(err))
		}
	}
}
