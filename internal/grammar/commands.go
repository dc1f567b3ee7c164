package grammar

import (
	"strings"
)

// CommandType names a slash command.
type CommandType string

const (
	CmdMeasure CommandType = "measure"
	CmdNote    CommandType = "note"
	CmdUpdate  CommandType = "update"
	CmdDone    CommandType = "done"
	CmdProbe   CommandType = "probe"
)

// Command is a parsed slash command with its key=value arguments.
type Command struct {
	Type CommandType
	Args map[string]string
}

// ParseCommand recognizes the slash command surface. Non-command text
// returns nil and goes through Classify instead.
func ParseCommand(text string) *Command {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "/") {
		return nil
	}
	switch {
	case strings.HasPrefix(t, "/update"):
		return &Command{Type: CmdUpdate, Args: map[string]string{}}
	case strings.HasPrefix(t, "/done"):
		return &Command{Type: CmdDone, Args: map[string]string{}}
	case strings.HasPrefix(t, "/note"):
		rest := strings.TrimSpace(t[len("/note"):])
		args := parseKVArgs(rest)
		if len(args) == 0 && rest != "" {
			args = map[string]string{"text": rest}
		}
		return &Command{Type: CmdNote, Args: args}
	case strings.HasPrefix(t, "/measure"):
		return &Command{Type: CmdMeasure, Args: parseKVArgs(t[len("/measure"):])}
	case strings.HasPrefix(t, "/probe"):
		args := map[string]string{}
		if rest := strings.TrimSpace(t[len("/probe"):]); rest != "" {
			args["net"] = strings.Fields(rest)[0]
		}
		return &Command{Type: CmdProbe, Args: args}
	}
	return nil
}

// parseKVArgs splits "rail=PPBUS_AON value=12.3 unit=V" style arguments.
// Values may be quoted to carry spaces.
func parseKVArgs(s string) map[string]string {
	args := map[string]string{}
	for _, part := range splitQuoted(s) {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.Trim(strings.TrimSpace(v), `"'`)
		if k != "" {
			args[k] = v
		}
	}
	return args
}

// splitQuoted splits on whitespace while keeping quoted substrings whole.
func splitQuoted(s string) []string {
	var out []string
	var cur strings.Builder
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				cur.WriteByte(c)
			}
		case c == '"' || c == '\'':
			quote = c
		case c == ' ' || c == '\t':
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}
