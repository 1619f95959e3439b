package repl

import (
	"errors"

	"vjudge/internal/cli/command"

	"github.com/chzyer/readline"
)

// terminal adapts a readline instance, mapping Ctrl-C to ErrInterrupt.
type terminal struct {
	*readline.Instance
}

func (t terminal) Readline() (string, error) {
	line, err := t.Instance.Readline()
	if errors.Is(err, readline.ErrInterrupt) {
		return line, ErrInterrupt
	}
	return line, err
}

// NewTerminal opens an interactive line reader with history and completion
// for every registered command.
func NewTerminal(historyPath string, commands map[string]command.Command) (LineReader, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          defaultPrompt,
		HistoryFile:     historyPath,
		AutoComplete:    completer(commands),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, err
	}
	return terminal{Instance: rl}, nil
}

func completer(commands map[string]command.Command) *readline.PrefixCompleter {
	actions := map[string][]readline.PrefixCompleterInterface{}
	var services []string
	for _, key := range command.Keys(commands) {
		cmd := commands[key]
		if _, ok := actions[cmd.Service]; !ok {
			services = append(services, cmd.Service)
		}
		actions[cmd.Service] = append(actions[cmd.Service], readline.PcItem(cmd.Action))
	}
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("exit"),
		readline.PcItem("set", readline.PcItem("base"), readline.PcItem("timeout"), readline.PcItem("token")),
		readline.PcItem("show", readline.PcItem("token"), readline.PcItem("config")),
	}
	for _, service := range services {
		items = append(items, readline.PcItem(service, actions[service]...))
	}
	return readline.NewPrefixCompleter(items...)
}
