package router

import (
	"strings"
	"unicode/utf8"

	kit "serverpal/internal/transport"
)

// Telegram limits for setMyCommands.
const (
	maxMenuCommands = 100
	maxCommandLen   = 32
	maxDescLen      = 256
)

// commandName folds s into the [a-z0-9_] alphabet Telegram accepts for bot
// commands. Separators collapse to a single underscore and anything else is
// dropped.
func commandName(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(s) {
		isWord := r >= 'a' && r <= 'z' || r >= '0' && r <= '9'
		if !isWord {
			if strings.ContainsRune("_- /", r) {
				pending = b.Len() > 0
			}
			continue
		}
		if pending {
			b.WriteByte('_')
			pending = false
		}
		b.WriteRune(r)
	}
	name := b.String()
	if len(name) > maxCommandLen {
		name = strings.TrimRight(name[:maxCommandLen], "_")
	}
	return name
}

// buildMenu renders the owner command list. Only primary names are shown.
func buildMenu(cmds []Command) []kit.BotCommand {
	var menu []kit.BotCommand
	taken := make(map[string]struct{}, len(cmds))
	for _, c := range cmds {
		if len(menu) == maxMenuCommands {
			break
		}
		name := commandName(c.Name)
		if _, dup := taken[name]; dup || name == "" {
			continue
		}
		taken[name] = struct{}{}

		desc := strings.Join(strings.Fields(c.Description), " ")
		if desc == "" {
			desc = name
		}
		desc = "🔒 " + desc
		for utf8.RuneCountInString(desc) > maxDescLen {
			_, size := utf8.DecodeLastRuneInString(desc)
			desc = desc[:len(desc)-size]
		}
		menu = append(menu, kit.BotCommand{Command: name, Description: desc})
	}
	return menu
}
