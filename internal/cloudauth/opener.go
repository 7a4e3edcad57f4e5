package cloudauth

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
)

// Opener shows the consent page to the user.
type Opener interface {
	Open(url string) error
}

type OpenerFunc func(url string) error

func (f OpenerFunc) Open(url string) error { return f(url) }

// ErrNoBrowser is returned when no browser launcher exists for the platform.
var ErrNoBrowser = errors.New("no browser available")

// BrowserOpener launches the platform's default browser.
func BrowserOpener() Opener {
	return OpenerFunc(func(url string) error {
		var cmd *exec.Cmd
		switch runtime.GOOS {
		case "linux", "freebsd", "openbsd":
			cmd = exec.Command("xdg-open", url)
		case "windows":
			cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
		case "darwin":
			cmd = exec.Command("open", url)
		default:
			return ErrNoBrowser
		}
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("%w: %v", ErrNoBrowser, err)
		}
		go cmd.Wait()
		return nil
	})
}

// PrintOpener writes the URL for the user to open by hand. Used on headless
// machines.
func PrintOpener(w io.Writer) Opener {
	return OpenerFunc(func(url string) error {
		_, err := fmt.Fprintf(w, "Open this URL to authorize:\n%s\n", url)
		return err
	})
}
