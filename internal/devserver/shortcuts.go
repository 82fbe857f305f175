package devserver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

const shortcutHelp = `  shortcuts
    r + enter  restart the server entry
    q + enter  quit
    h + enter  show this help`

// readShortcuts reads line commands from in until it ends, ctx is done or
// the user quits.
func (s *Server) readShortcuts(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "r":
			fmt.Fprintln(s.out, "  restarting...")
			func() {
				defer s.guard("restart shortcut")
				_ = s.Restart(ctx)
			}()
		case "q":
			s.Quit()
			return
		case "h", "help":
			fmt.Fprintln(s.out, shortcutHelp)
		}
	}
}
