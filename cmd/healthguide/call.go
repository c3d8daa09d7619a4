package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"

	"github.com/MrWong99/healthguide/internal/session"
)

const callHelp = `Speak naturally; Health Guide answers out loud.
  <voice>  switch voice (Kore, Puck, Fenrir, Zephyr, Charon)
  Enter    call again after the call ended
  voices   list voices
  q        hang up and quit
`

const volumeWidth = 20

func (c *cli) runCall(ctx context.Context) error {
	transport, err := c.reg.CreateLive(c.cfg.Providers.Live)
	if err != nil {
		return fmt.Errorf("create live transport: %w", err)
	}
	devices, err := c.reg.CreateAudio(c.cfg.Providers.Audio)
	if err != nil {
		return fmt.Errorf("create audio devices: %w", err)
	}
	voice, err := session.ParseVoice(c.cfg.Call.Voice)
	if err != nil {
		return err
	}

	ctrl := session.NewController(transport, devices,
		session.WithInstructions(c.cfg.Call.Instructions),
		session.WithModel(c.cfg.Providers.Live.Model),
		session.WithFrameSize(c.cfg.Call.FrameSize),
		session.WithLogger(c.logger),
		session.WithMetrics(c.metrics),
	)
	c.ctrl.Store(ctrl)
	defer func() {
		if err := ctrl.Close(); err != nil {
			c.logger.Warn("hang up", "err", err)
		}
		fmt.Fprintln(c.out)
	}()

	voices := make(chan session.Voice, 1)
	defer c.watchConfig(voices)()

	fmt.Fprint(c.out, callHelp)
	ui := &callUI{out: c.out}
	dial := func(v session.Voice) *session.Session {
		voice = v
		ui.setVoice(v)
		return ctrl.Start(ctx, v, ui.callbacks())
	}
	s := dial(voice)

	lines := readLines(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		case v := <-voices:
			ui.notice("voice changed in config: " + string(v))
			s = dial(v)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch cmd := strings.TrimSpace(line); strings.ToLower(cmd) {
			case "q", "quit", "exit":
				return nil
			case "":
				if ended(s.Phase()) {
					s = dial(voice)
				}
			case "voices":
				ui.list(printVoices)
			default:
				v, err := session.ParseVoice(cmd)
				if err != nil {
					ui.notice(fmt.Sprintf("unknown command %q", cmd))
					continue
				}
				s = dial(v)
			}
		}
	}
}

func ended(p session.Phase) bool {
	switch p {
	case session.PhaseDisconnected, session.PhaseError, session.PhaseClosed:
		return true
	}
	return false
}

// callUI renders a single status line: status, voice and a microphone
// volume bar.
type callUI struct {
	mu     sync.Mutex
	out    io.Writer
	status session.Status
	voice  session.Voice
	level  float64
}

func (u *callUI) callbacks() session.Callbacks {
	return session.Callbacks{OnStatus: u.setStatus, OnVolume: u.setLevel}
}

func (u *callUI) setVoice(v session.Voice) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.voice = v
	u.level = 0
}

func (u *callUI) setStatus(st session.Status) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status = st
	u.render()

	switch st {
	case session.StatusConnectionFailed:
		fmt.Fprintf(u.out, "\n%s\nPress Enter to try again or q to quit.\n", session.FailureMessage)
	case session.StatusDisconnected, session.StatusError:
		u.level = 0
		fmt.Fprint(u.out, "\nThe call ended. Press Enter to call again or q to quit.\n")
	}
}

func (u *callUI) setLevel(level float64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.level = level
	u.render()
}

func (u *callUI) notice(msg string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	fmt.Fprintf(u.out, "\n%s\n", msg)
	u.render()
}

func (u *callUI) list(fn func(io.Writer)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	fmt.Fprintln(u.out)
	fn(u.out)
	u.render()
}

// render must be called with mu held.
func (u *callUI) render() {
	if u.status == "" {
		return
	}
	fmt.Fprintf(u.out, "\r\033[K%-18s %-7s %s", u.status, u.voice, volumeBar(u.level, volumeWidth))
}

// volumeBar draws level in [0, 1] as a bar of width cells.
func volumeBar(level float64, width int) string {
	if math.IsNaN(level) {
		level = 0
	}
	n := int(math.Round(math.Max(0, math.Min(1, level)) * float64(width)))
	return "[" + strings.Repeat("█", n) + strings.Repeat("·", width-n) + "]"
}

// readLines delivers r line by line and closes the channel at EOF. The
// reading goroutine stays blocked in r until it returns.
func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}
