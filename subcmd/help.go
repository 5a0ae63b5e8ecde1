package subcmd

import (
	"flag"
	"fmt"
	"os"

	"github.com/mengelbart/encstage/cmdmain"
)

func init() {
	cmdmain.RegisterSubCmd("help", func() cmdmain.SubCmd { return new(help) })
}

type help struct{}

// Exec implements cmdmain.SubCmd. Without arguments it prints the global
// usage, otherwise the summary of each named command.
func (h *help) Exec(cmd string, args []string) error {
	if len(args) == 0 {
		flag.Usage()
		return nil
	}
	for _, name := range args {
		sub, ok := cmdmain.Lookup(name)
		if !ok {
			return fmt.Errorf("unknown subcommand: %q", name)
		}
		fmt.Fprintf(os.Stdout, "%s: %s\nRun `%s %s -h` for its flags.\n", name, sub.Help(), cmd, name)
	}
	return nil
}

// Help implements cmdmain.SubCmd.
func (h *help) Help() string {
	return "Print help, or the summary of the named commands"
}
