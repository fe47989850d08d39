package tui

import "strings"

// Command is a parsed prompt command.
type Command struct {
	Name string
	Args string
}

// ParseCommand splits a prompt line into a lowercase command name and
// its raw argument string. A leading ':' is tolerated so pasted lines
// like ":open direct:ana" work.
func ParseCommand(input string) Command {
	input = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(input), ":"))
	name, args, _ := strings.Cut(input, " ")
	return Command{
		Name: strings.ToLower(name),
		Args: strings.TrimSpace(args),
	}
}
