package moderation

import (
	"fmt"
	"strings"
	"time"

	"live-interview-chat/backend/pkg/errors"
)

// CommandResult is what a moderation command produces. Reply goes back to
// the issuing connection only; Announcement, when set, is broadcast to the
// room as a system message.
type CommandResult struct {
	Reply        string
	Announcement string
}

// ExecuteCommand interprets a slash command issued inside a room. The text
// arrives without its command prefix.
func (e *Engine) ExecuteCommand(actor Actor, roomID, text string) (*CommandResult, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil, errors.NewValidationError("EMPTY_COMMAND", "Command is empty")
	}

	verb := strings.ToLower(fields[0])
	args := fields[1:]

	switch verb {
	case "warn":
		if len(args) < 1 {
			return nil, errors.NewValidationError("BAD_COMMAND", "Usage: warn <user> [reason]")
		}
		target := strings.TrimPrefix(args[0], "@")
		reason := joinOr(args[1:], "warned by moderator")
		if _, err := e.Warn(actor, target, roomID, reason, 1); err != nil {
			return nil, err
		}
		return &CommandResult{Reply: fmt.Sprintf("%s has been warned", target)}, nil

	case "mute":
		if len(args) < 1 {
			return nil, errors.NewValidationError("BAD_COMMAND", "Usage: mute <user> [duration] [reason]")
		}
		target := strings.TrimPrefix(args[0], "@")
		duration, rest := leadingDuration(args[1:])
		reason := joinOr(rest, "muted by moderator")
		action, err := e.Mute(actor, target, roomID, duration, reason)
		if err != nil {
			return nil, err
		}
		reply := fmt.Sprintf("%s has been muted", target)
		if action.ExpiresAt != nil {
			reply = fmt.Sprintf("%s has been muted until %s", target, action.ExpiresAt.Format(time.RFC3339))
		}
		return &CommandResult{
			Reply:        reply,
			Announcement: fmt.Sprintf("%s was muted by a moderator", target),
		}, nil

	case "unmute":
		if len(args) < 1 {
			return nil, errors.NewValidationError("BAD_COMMAND", "Usage: unmute <user>")
		}
		target := strings.TrimPrefix(args[0], "@")
		if _, err := e.Unmute(actor, target, roomID, "unmuted by moderator"); err != nil {
			return nil, err
		}
		return &CommandResult{
			Reply:        fmt.Sprintf("%s has been unmuted", target),
			Announcement: fmt.Sprintf("%s was unmuted", target),
		}, nil

	case "ban":
		if len(args) < 1 {
			return nil, errors.NewValidationError("BAD_COMMAND", "Usage: ban <user> [duration] [reason]")
		}
		target := strings.TrimPrefix(args[0], "@")
		duration, rest := leadingDuration(args[1:])
		reason := joinOr(rest, "banned by moderator")
		if _, err := e.Ban(actor, target, roomID, duration, reason); err != nil {
			return nil, err
		}
		return &CommandResult{
			Reply:        fmt.Sprintf("%s has been banned", target),
			Announcement: fmt.Sprintf("%s was banned from the room", target),
		}, nil

	case "unban":
		if len(args) < 1 {
			return nil, errors.NewValidationError("BAD_COMMAND", "Usage: unban <user>")
		}
		target := strings.TrimPrefix(args[0], "@")
		if _, err := e.Unban(actor, target, roomID, "unbanned by moderator"); err != nil {
			return nil, err
		}
		return &CommandResult{Reply: fmt.Sprintf("%s has been unbanned", target)}, nil

	case "clearmutes":
		cleared, err := e.ClearRoomMutes(actor, roomID)
		if err != nil {
			return nil, err
		}
		return &CommandResult{
			Reply:        fmt.Sprintf("cleared %d mute(s)", cleared),
			Announcement: "All mutes in this room were cleared",
		}, nil

	case "purge":
		purged, err := e.PurgeExpired(actor)
		if err != nil {
			return nil, err
		}
		return &CommandResult{Reply: fmt.Sprintf("purged %d expired violation(s)", purged)}, nil

	case "status":
		if len(args) < 1 {
			return nil, errors.NewValidationError("BAD_COMMAND", "Usage: status <user>")
		}
		if !actor.Role.CanModerate() {
			return nil, errors.NewPermissionError("MODERATOR_REQUIRED", "Only moderators may query status")
		}
		target := strings.TrimPrefix(args[0], "@")
		return &CommandResult{Reply: fmt.Sprintf("%s is %s", target, e.StatusOf(target, roomID))}, nil

	default:
		return nil, errors.NewValidationError("UNKNOWN_COMMAND", fmt.Sprintf("Unknown command %q", verb))
	}
}

// leadingDuration consumes a duration from the front of args when present.
func leadingDuration(args []string) (time.Duration, []string) {
	if len(args) == 0 {
		return 0, args
	}
	if d, err := time.ParseDuration(args[0]); err == nil && d > 0 {
		return d, args[1:]
	}
	return 0, args
}

func joinOr(args []string, fallback string) string {
	if len(args) == 0 {
		return fallback
	}
	return strings.Join(args, " ")
}
