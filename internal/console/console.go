package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"camstream/internal/camera"
	"camstream/internal/session"
)

// Controller is the subset of the session controller driven by the console.
type Controller interface {
	State() session.Snapshot
	ToggleStream(ctx context.Context) error
	StartStream(ctx context.Context) error
	StopStream(ctx context.Context) error
	SwitchVariant(ctx context.Context) error
	SaveSettings(ctx context.Context, s camera.Settings) error
	ToggleFullscreen() bool
	Play(ctx context.Context) error
}

const helpText = `commands:
  toggle            start or stop the stream
  start | stop      start or stop explicitly
  switch            switch between main and sub stream
  fullscreen        toggle fullscreen
  play              start playback when autoplay was blocked
  status            show the session state
  set k=v ...       edit the settings draft (ip, port, username, password,
                    channel, main_stream_path, sub_stream_path)
  save              submit the settings draft
  help              show this text
  quit              exit`

// Console reads operator commands and dispatches them to a Controller.
type Console struct {
	ctrl Controller
	view *View
	log  *slog.Logger

	mu    sync.Mutex
	draft camera.Settings
	wg    sync.WaitGroup
}

// New returns a Console whose settings draft starts from the controller's
// current settings.
func New(ctrl Controller, view *View, log *slog.Logger) *Console {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Console{
		ctrl:  ctrl,
		view:  view,
		log:   log,
		draft: ctrl.State().Settings,
	}
}

// Run reads commands from in until quit, EOF or ctx cancellation. Each
// operation runs on its own goroutine so a slow backend never blocks input.
// Run waits for running operations before returning.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	defer c.wg.Wait()

	readCtx, stop := context.WithCancel(ctx)
	defer stop()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-readCtx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if quit := c.Exec(ctx, line); quit {
				return nil
			}
		}
	}
}

// Exec handles one command line. It reports true on quit.
func (c *Console) Exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "quit", "exit":
		return true
	case "help", "?":
		c.view.Printf("%s", helpText)
	case "status":
		c.printStatus()
	case "toggle":
		c.async(ctx, cmd, c.ctrl.ToggleStream)
	case "start":
		c.async(ctx, cmd, c.ctrl.StartStream)
	case "stop":
		c.async(ctx, cmd, c.ctrl.StopStream)
	case "switch":
		c.async(ctx, cmd, c.ctrl.SwitchVariant)
	case "play":
		c.async(ctx, cmd, c.ctrl.Play)
	case "fullscreen":
		if !c.ctrl.ToggleFullscreen() {
			c.view.Printf("no player yet")
		}
	case "set":
		c.set(args)
	case "save":
		c.mu.Lock()
		draft := c.draft
		c.mu.Unlock()
		c.async(ctx, cmd, func(ctx context.Context) error {
			return c.ctrl.SaveSettings(ctx, draft)
		})
	default:
		c.view.Printf("unknown command %q, type 'help'", cmd)
	}
	return false
}

// Wait blocks until every dispatched operation has returned.
func (c *Console) Wait() {
	c.wg.Wait()
}

func (c *Console) async(ctx context.Context, name string, op func(context.Context) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := op(ctx); err != nil {
			c.report(name, err)
		}
	}()
}

// report prints errors the controller does not already surface as alerts.
func (c *Console) report(name string, err error) {
	c.log.Debug("command failed", slog.String("command", name), slog.String("error", err.Error()))
	switch {
	case errors.Is(err, session.ErrNotConfigured):
		c.view.Printf("camera is not configured: use 'set ip=<address>' then 'save'")
	case errors.Is(err, session.ErrStartInFlight):
		c.view.Printf("a stream start is in progress, try again shortly")
	case errors.Is(err, session.ErrNotLive):
		c.view.Printf("nothing to play yet")
	case errors.Is(err, session.ErrSuperseded), errors.Is(err, context.Canceled):
	case errors.Is(err, session.ErrClosed):
		c.view.Printf("viewer is shutting down")
	}
}

func (c *Console) set(args []string) {
	if len(args) == 0 {
		c.view.Printf("usage: set key=value ...")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.draft
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok {
			c.view.Printf("expected key=value, got %q", arg)
			return
		}
		if err := next.Set(strings.ToLower(k), v); err != nil {
			c.view.Printf("%v", err)
			return
		}
	}
	c.draft = next
	c.view.Printf("draft: %s", describe(next))
}

func (c *Console) printStatus() {
	st := c.ctrl.State()
	c.view.Printf("phase=%s streaming=%t variant=%s configured=%t session=%s",
		st.Phase, st.Streaming, st.Variant, st.Configured, orDash(st.SessionID))
	if st.Source != "" {
		c.view.Printf("source: %s", st.Source)
	}
	if st.Configured {
		c.view.Printf("camera: %s", describe(st.Settings))
	}
}

func describe(s camera.Settings) string {
	pw := ""
	if s.Password != "" {
		pw = " password=***"
	}
	return fmt.Sprintf("ip=%s port=%s username=%s%s channel=%s main=%s sub=%s",
		orDash(s.IP), orDash(s.Port), orDash(s.Username), pw, orDash(s.Channel), s.MainStreamPath, s.SubStreamPath)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
