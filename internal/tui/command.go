package tui

import "strings"

// Command is a parsed ":" command line.
type Command struct {
	Name string
	Args string
}

// ParseCommand splits input (without the leading ':') into a lower-cased
// name and the rest. Short aliases map to their full names.
func ParseCommand(input string) Command {
	name, args, _ := strings.Cut(strings.TrimSpace(input), " ")
	cmd := Command{Name: strings.ToLower(name), Args: strings.TrimSpace(args)}
	if full, ok := aliases[cmd.Name]; ok {
		cmd.Name = full
	}
	return cmd
}

var aliases = map[string]string{
	"q": "quit",
	"h": "help",
	"c": "chat",
}
