package console

import (
	"bufio"
	"io"
	"strings"

	"github.com/juanpablocruz/uap/pkg/client"
)

// QuitToken ends a session when typed alone on a line.
const QuitToken = "q"

// ReadCommands turns lines of r into client commands. The quit token yields a
// Quit command; EOF closes the channel. The reader goroutine exits after
// either.
func ReadCommands(r io.Reader) <-chan client.Command {
	out := make(chan client.Command)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 64*1024)
		for sc.Scan() {
			line := sc.Text()
			if strings.TrimSpace(line) == QuitToken {
				out <- client.Command{Quit: true}
				return
			}
			out <- client.Command{Data: []byte(line)}
		}
	}()
	return out
}

// WaitQuit blocks until the quit token or EOF is read from r, then calls
// stop. Other lines are ignored.
func WaitQuit(r io.Reader, stop func()) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == QuitToken {
			break
		}
	}
	stop()
}
