package relay

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// shellAliases are tool names treated as a request to run a shell command.
var shellAliases = map[string]bool{
	"shell": true,
	"exec":  true,
	"bash":  true,
	"sh":    true,
	"run":   true,
}

// IsShellName reports whether a tool call name means "execute a command".
func IsShellName(name string) bool {
	return shellAliases[strings.ToLower(strings.TrimSpace(name))]
}

// ShellInvocation is a shell call with its arguments normalized to a single
// command string plus the optional execution knobs upstreams attach.
type ShellInvocation struct {
	Command   string
	TimeoutMS int64
	MaxOutput int64
	Shell     string
	Login     bool
	HasLogin  bool
}

// NormalizeShellArgs folds the accepted argument shapes into a
// ShellInvocation: a pre-joined command string, a list joined with spaces,
// the "cmd" alias for either, or a bare list as the whole argument value.
func NormalizeShellArgs(args string) ShellInvocation {
	var inv ShellInvocation
	parsed := gjson.Parse(args)

	switch {
	case parsed.IsArray():
		inv.Command = joinCommand(parsed)
	case parsed.IsObject():
		command := parsed.Get("command")
		if !command.Exists() {
			command = parsed.Get("cmd")
		}
		if command.IsArray() {
			inv.Command = joinCommand(command)
		} else {
			inv.Command = command.String()
		}
		if v := parsed.Get("timeout_ms"); v.Exists() {
			inv.TimeoutMS = v.Int()
		} else if v = parsed.Get("timeout"); v.Exists() {
			inv.TimeoutMS = v.Int()
		}
		if v := parsed.Get("max_output_tokens"); v.Exists() {
			inv.MaxOutput = v.Int()
		} else if v = parsed.Get("max_output"); v.Exists() {
			inv.MaxOutput = v.Int()
		}
		inv.Shell = parsed.Get("shell").String()
		if v := parsed.Get("login"); v.Exists() {
			inv.Login = v.Bool()
			inv.HasLogin = true
		}
	default:
		inv.Command = strings.TrimSpace(args)
	}
	return inv
}

// ArgumentsJSON re-serializes the invocation as the arguments string for a
// generic function-call event. Knobs appear only when they were present.
func (inv ShellInvocation) ArgumentsJSON() string {
	out := `{"command":""}`
	out, _ = sjson.Set(out, "command", inv.Command)
	if inv.TimeoutMS > 0 {
		out, _ = sjson.Set(out, "timeout_ms", inv.TimeoutMS)
	}
	if inv.MaxOutput > 0 {
		out, _ = sjson.Set(out, "max_output_tokens", inv.MaxOutput)
	}
	if inv.Shell != "" {
		out, _ = sjson.Set(out, "shell", inv.Shell)
	}
	if inv.HasLogin {
		out, _ = sjson.Set(out, "login", inv.Login)
	}
	return out
}

func joinCommand(list gjson.Result) string {
	var parts []string
	list.ForEach(func(_, item gjson.Result) bool {
		parts = append(parts, item.String())
		return true
	})
	return strings.Join(parts, " ")
}
