package pages

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/buckleypaul/serialmon/internal/app"
	"github.com/buckleypaul/serialmon/internal/device"
	"github.com/buckleypaul/serialmon/internal/monitor"
)

// loopback is a transport that records writes and serves queued input.
type loopback struct {
	mu      sync.Mutex
	rx      bytes.Buffer
	written bytes.Buffer
}

func (l *loopback) Available() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rx.Len(), nil
}

func (l *loopback) Read(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n, _ := l.rx.Read(p)
	return n, nil
}

func (l *loopback) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.written.Write(p)
}

func (l *loopback) Close() error { return nil }

// chatty is a transport that always has another line ready, like a board
// logging in a tight loop.
type chatty struct{}

func (chatty) Available() (int, error) { return len("tick\r\n"), nil }
func (chatty) Read(p []byte) (int, error) {
	return copy(p, "tick\r\n"), nil
}
func (chatty) Write(p []byte) (int, error) { return len(p), nil }
func (chatty) Close() error                { return nil }

func loopbackFactory(link *loopback, openErr error) SessionFactory {
	return func(dev string, baud int, disp monitor.Display) (*monitor.Session, error) {
		mgr := device.NewManager(device.Config{
			Address:  dev,
			BaudRate: baud,
			Reporter: disp,
			Opener: device.OpenerFunc(func(ctx context.Context, address string, baudRate int) (device.Transport, error) {
				if openErr != nil {
					return nil, openErr
				}
				return link, nil
			}),
		})
		return monitor.New(mgr, disp, nil, monitor.Options{}), nil
	}
}

// openCmd pulls the open command out of connect's batch. The other entry
// waits for display events.
func openCmd(t *testing.T, cmd tea.Cmd) tea.Cmd {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected connect command")
	}
	batch, ok := cmd().(tea.BatchMsg)
	if !ok || len(batch) != 2 {
		t.Fatalf("expected open and wait commands, got %#v", batch)
	}
	return batch[0]
}

func TestMonitorPageAppliesConnectedStateFromMessage(t *testing.T) {
	p := NewMonitorPage(nil, "/dev/tty.usbmodem123", 115200, false)

	page, cmd := p.Update(monitorConnectedMsg{session: &monitor.Session{}})
	updated := page.(*MonitorPage)

	if updated.state != monitorStateConnected {
		t.Fatalf("expected connected state, got %v", updated.state)
	}
	if !updated.input.Focused() {
		t.Fatal("expected input to be focused")
	}
	if !strings.Contains(updated.message, "Connected to /dev/tty.usbmodem123 @ 115200") {
		t.Fatalf("unexpected status message: %q", updated.message)
	}
	if cmd == nil {
		t.Fatal("expected follow-up command to be scheduled")
	}
}

func TestMonitorPageConnectErrorUpdatesMessage(t *testing.T) {
	p := NewMonitorPage(nil, "/dev/ttyUSB0", 115200, false)
	p.state = monitorStateConnecting

	page, _ := p.Update(monitorConnectedMsg{err: errors.New("permission denied")})
	updated := page.(*MonitorPage)

	if updated.state != monitorStateIdle {
		t.Fatalf("expected to return to idle state, got %v", updated.state)
	}
	if !strings.Contains(updated.message, "Failed to connect: permission denied") {
		t.Fatalf("unexpected status message: %q", updated.message)
	}
}

func TestMonitorPageConnectWithoutDevice(t *testing.T) {
	p := NewMonitorPage(loopbackFactory(&loopback{}, nil), "", 115200, false)

	_, cmd := p.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})

	if cmd != nil {
		t.Fatal("expected no command without a device")
	}
	if !strings.Contains(p.message, "No device selected") {
		t.Fatalf("unexpected message: %q", p.message)
	}
}

func TestMonitorPageConnectSendAndExit(t *testing.T) {
	link := &loopback{}
	p := NewMonitorPage(loopbackFactory(link, nil), "/dev/ttyUSB0", 115200, false)

	_, cmd := p.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	if p.state != monitorStateConnecting {
		t.Fatalf("expected connecting state, got %v", p.state)
	}

	connected, ok := openCmd(t, cmd)().(monitorConnectedMsg)
	if !ok || connected.err != nil {
		t.Fatalf("expected successful connect, got %#v", connected)
	}
	p.Update(connected)
	if p.state != monitorStateConnected || p.session == nil {
		t.Fatalf("expected connected session, got state %v", p.state)
	}

	p.input.SetValue("#001P1500T1000!")
	_, cmd = p.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("expected send command")
	}
	if msg := cmd(); msg != nil {
		t.Fatalf("expected no message from a plain send, got %#v", msg)
	}
	if got := link.written.String(); got != "#001P1500T1000!\r\n" {
		t.Fatalf("unexpected bytes written: %q", got)
	}

	p.input.SetValue("exit")
	_, cmd = p.Update(tea.KeyMsg{Type: tea.KeyEnter})
	msg := cmd()
	if _, ok := msg.(monitorStoppedMsg); !ok {
		t.Fatalf("expected monitorStoppedMsg, got %#v", msg)
	}
	p.Update(msg)
	if p.state != monitorStateIdle || p.session != nil {
		t.Fatal("expected page to return to idle")
	}
}

func TestMonitorPageEventsAreRendered(t *testing.T) {
	p := NewMonitorPage(nil, "/dev/ttyUSB0", 115200, false)
	p.SetSize(80, 20)

	p.Update(monitorEventMsg{kind: eventStatus, text: "Connected to /dev/ttyUSB0"})
	p.Update(monitorEventMsg{kind: eventError, text: "Error reading data: EOF"})
	p.Update(monitorEventMsg{kind: eventData, text: "hello"})
	p.Update(monitorEventMsg{kind: eventBlock, text: "\nConnection Statistics:\n  Bytes Sent: 0\n"})

	if len(p.lines) != 5 {
		t.Fatalf("expected 5 lines, got %d: %q", len(p.lines), p.lines)
	}
	joined := strings.Join(p.lines, "\n")
	for _, want := range []string{"[MONITOR] Connected", "[ERROR] Error reading data", "hello", "Bytes Sent: 0"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected %q in scrollback", want)
		}
	}
}

func TestMonitorPageScrollbackIsBounded(t *testing.T) {
	p := NewMonitorPage(nil, "/dev/ttyUSB0", 115200, false)
	for i := 0; i < maxScrollback+10; i++ {
		p.Update(monitorEventMsg{kind: eventData, text: "x"})
	}
	if len(p.lines) != maxScrollback {
		t.Fatalf("expected %d lines, got %d", maxScrollback, len(p.lines))
	}
}

func TestMonitorPageFollowsPortSelection(t *testing.T) {
	p := NewMonitorPage(nil, "", 115200, false)

	p.Update(app.PortSelectedMsg{Port: "/dev/ttyACM0"})
	p.Update(app.BaudChangedMsg{BaudRate: 9600})

	if p.device != "/dev/ttyACM0" || p.baudRate != 9600 {
		t.Fatalf("unexpected device/baud: %s@%d", p.device, p.baudRate)
	}
}

func TestMonitorPageShutdownWithUndrainedEvents(t *testing.T) {
	factory := func(dev string, baud int, disp monitor.Display) (*monitor.Session, error) {
		mgr := device.NewManager(device.Config{
			Address:  dev,
			BaudRate: baud,
			Reporter: disp,
			Opener: device.OpenerFunc(func(ctx context.Context, address string, baudRate int) (device.Transport, error) {
				return chatty{}, nil
			}),
		})
		return monitor.New(mgr, disp, nil, monitor.Options{}), nil
	}
	p := NewMonitorPage(factory, "/dev/ttyUSB0", 115200, false)

	_, cmd := p.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	connected, ok := openCmd(t, cmd)().(monitorConnectedMsg)
	if !ok || connected.err != nil {
		t.Fatalf("expected successful connect, got %#v", connected)
	}
	p.Update(connected)

	// Nobody reads events any more, as after the program exits.
	deadline := time.Now().Add(2 * time.Second)
	for len(p.disp.events) < cap(p.disp.events) {
		if time.Now().After(deadline) {
			t.Fatal("event queue never filled")
		}
		time.Sleep(time.Millisecond)
	}

	done := make(chan struct{})
	go func() {
		p.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Shutdown did not return")
	}
	if p.session.Running() {
		t.Fatal("expected session to be stopped")
	}
}
