package control

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
)

// Opener hands a URL to something that can display it.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, url string) error

func (f OpenerFunc) Open(ctx context.Context, url string) error { return f(ctx, url) }

// SystemOpener launches the platform default handler. GOOS overrides
// runtime.GOOS when set.
type SystemOpener struct {
	GOOS string
}

func (o SystemOpener) Open(ctx context.Context, url string) error {
	goos := o.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	name, args, err := openCommand(goos, url)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	// #nosec G204 -- the command is chosen from a fixed table
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	// the handler may outlive this call; reap it in the background
	go func() {
		if err := cmd.Wait(); err != nil {
			slog.Debug("url handler exited", "cmd", name, "error", err)
		}
	}()
	return nil
}

func openCommand(goos, url string) (string, []string, error) {
	switch goos {
	case "darwin":
		return "open", []string{url}, nil
	case "linux", "freebsd", "openbsd", "netbsd":
		return "xdg-open", []string{url}, nil
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}, nil
	default:
		return "", nil, fmt.Errorf("unsupported platform %q", goos)
	}
}
