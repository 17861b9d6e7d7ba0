package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/loykin/trayvisor"
	"github.com/loykin/trayvisor/pkg/client"
)

// command runs the client-side subcommands against a running supervisor.
type command struct {
	global *GlobalFlags
}

// apiClient resolves the control API URL: the flag wins, then control.listen
// from the config, then the built-in default.
func (c command) apiClient(f APIFlags) *client.Client {
	base := f.APIUrl
	if base == "" {
		base = client.DefaultBaseURL
		path := ""
		if c.global != nil {
			path = c.global.ConfigPath
		}
		if cfg, err := trayvisor.LoadConfig(path); err == nil && cfg.Control.Listen != "" {
			base = "http://" + cfg.Control.Listen + "/api"
		}
	}
	return client.New(client.Config{BaseURL: base, Timeout: f.APITimeout})
}

func (c command) Status(ctx context.Context, w io.Writer, f StatusFlags) error {
	api := c.apiClient(f.APIFlags)
	for {
		st, err := api.Status(ctx)
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		if f.JSON {
			printJSON(w, st)
		} else {
			printStatus(w, st)
		}
		if !f.Watch {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.Interval):
		}
	}
}

func (c command) Start(ctx context.Context, w io.Writer, f WaitFlags) error {
	api := c.apiClient(f.APIFlags)
	if err := api.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	return c.settle(ctx, w, api, "running", f.Wait)
}

func (c command) Stop(ctx context.Context, w io.Writer, f WaitFlags) error {
	api := c.apiClient(f.APIFlags)
	if err := api.Stop(ctx); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	return c.settle(ctx, w, api, "stopped", f.Wait)
}

func (c command) settle(ctx context.Context, w io.Writer, api *client.Client, state string, wait time.Duration) error {
	if wait <= 0 {
		_, _ = fmt.Fprintln(w, "requested")
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	st, err := api.WaitForState(wctx, state, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("waiting for %s (last state %q): %w", state, st.State, err)
	}
	printStatus(w, st)
	return nil
}

func (c command) Open(ctx context.Context, w io.Writer, f APIFlags) error {
	url, err := c.apiClient(f).Open(ctx)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	_, _ = fmt.Fprintf(w, "opened %s\n", url)
	return nil
}

func (c command) History(ctx context.Context, w io.Writer, f HistoryFlags) error {
	evs, err := c.apiClient(f.APIFlags).History(ctx, f.Limit)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	if f.JSON {
		printJSON(w, evs)
		return nil
	}
	printHistory(w, evs)
	return nil
}
