package wsproto

import (
	"regexp"
)

// CommandKind tags a parsed command token.
type CommandKind uint8

const (
	CmdUnknown CommandKind = iota
	CmdPush
	CmdPull
	CmdSync
	CmdSubscribe
)

func (k CommandKind) String() string {
	switch k {
	case CmdPush:
		return "push"
	case CmdPull:
		return "pull"
	case CmdSync:
		return "sync"
	case CmdSubscribe:
		return "subscribe"
	default:
		return "unknown"
	}
}

// Command is the first message of every exchange: a bare word, or push/pull
// followed by a single space and a branch token of letters, digits and underscores.
type Command struct {
	Kind   CommandKind
	Branch string
	Raw    string
}

var commandRe = regexp.MustCompile(`^(push|pull|sync|subscribe)(?: ([\p{L}\p{N}_]+))?$`)

// ParseCommand never fails; anything that is not a known form parses as CmdUnknown.
func ParseCommand(raw string) Command {
	m := commandRe.FindStringSubmatch(raw)
	if m == nil {
		return Command{Kind: CmdUnknown, Raw: raw}
	}

	cmd := Command{Raw: raw, Branch: m[2]}
	switch m[1] {
	case "push":
		cmd.Kind = CmdPush
	case "pull":
		cmd.Kind = CmdPull
	case "sync":
		cmd.Kind = CmdSync
	case "subscribe":
		cmd.Kind = CmdSubscribe
	}

	// only push and pull carry a branch
	if cmd.Branch != "" && cmd.Kind != CmdPush && cmd.Kind != CmdPull {
		return Command{Kind: CmdUnknown, Raw: raw}
	}
	return cmd
}

func Push(branch string) Command {
	return Command{Kind: CmdPush, Branch: branch}
}

func Pull(branch string) Command {
	return Command{Kind: CmdPull, Branch: branch}
}

func Sync() Command {
	return Command{Kind: CmdSync}
}

func Subscribe() Command {
	return Command{Kind: CmdSubscribe}
}

// String renders the wire form of the command.
func (c Command) String() string {
	if c.Kind == CmdUnknown {
		return c.Raw
	}
	if c.Branch != "" {
		return c.Kind.String() + " " + c.Branch
	}
	return c.Kind.String()
}

// Rendezvous reports whether c is a command that ends a deploy wait: push or pull
// naming a branch.
func (c Command) Rendezvous() bool {
	return (c.Kind == CmdPush || c.Kind == CmdPull) && c.Branch != ""
}
