package bot

import (
	"errors"
	"strconv"
	"strings"

	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/gateway"
)

var errNoRating = errors.New("no rating argument")

// cleanHandle normalizes a user-typed handle: chat clients escape
// underscores in markdown and users paste handles with @ or backticks.
func cleanHandle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "@")
	s = strings.Trim(s, "`")
	s = strings.ReplaceAll(s, `\_`, "_")
	return s
}

// resolveTarget picks the member a command is aimed at. Mention metadata is
// authoritative; an @name argument only narrows the choice when several
// members are mentioned.
func resolveTarget(msg *gateway.Message, args []string) (gateway.Member, bool) {
	if len(msg.Mentions) == 0 {
		return gateway.Member{}, false
	}
	for _, a := range args {
		if !strings.HasPrefix(a, "@") {
			continue
		}
		name := cleanHandle(a)
		for _, m := range msg.Mentions {
			if strings.EqualFold(m.Name, name) {
				return m, true
			}
		}
	}
	return msg.Mentions[0], true
}

// parseRating finds the numeric argument of a challenge command.
func parseRating(args []string) (int, error) {
	for _, a := range args {
		if strings.HasPrefix(a, "@") {
			continue
		}
		if n, err := strconv.Atoi(a); err == nil {
			return n, nil
		}
	}
	return 0, errNoRating
}
