package handset

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/eiannone/keyboard"
	"github.com/rs/zerolog/log"
)

// lineReader yields console lines one at a time.
type lineReader interface {
	ReadLine() (string, error)
	Close() error
}

func openKeyboard(Options) (Input, error) {
	lines, err := openKeyboardLines()
	if err != nil {
		return nil, err
	}
	return newKeyboardInput(lines), nil
}

// keyboardInput simulates the hook switch from typed commands:
// "p" or "pickup", "h" or "hangup", and "quit" to stop simulating.
type keyboardInput struct {
	lines  lineReader
	events chan Event
	stop   chan struct{}
	once   sync.Once
}

func newKeyboardInput(lines lineReader) *keyboardInput {
	k := &keyboardInput{
		lines:  lines,
		events: make(chan Event, 16),
		stop:   make(chan struct{}),
	}
	go k.run()
	return k
}

func (k *keyboardInput) run() {
	filter := newLevelFilter(0, false)
	fmt.Print("\nHandset simulation: type p (pickup), h (hangup) or quit, then Enter.\n")

	for {
		line, err := k.lines.ReadLine()
		if err != nil {
			select {
			case <-k.stop:
			default:
				log.Error().Err(err).Msg("keyboard simulation stopped")
			}
			return
		}

		var offHook bool
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "p", "pickup":
			offHook = true
		case "h", "hangup":
			offHook = false
		case "quit", "q", "exit":
			log.Info().Msg("keyboard simulation ended")
			k.lines.Close()
			return
		case "":
			continue
		default:
			log.Warn().Str("line", line).Msg("unknown command, use p, h or quit")
			continue
		}

		ev, ok := filter.observe(offHook, time.Now())
		if !ok {
			log.Debug().Bool("off_hook", offHook).Msg("handset already in that position")
			continue
		}
		select {
		case k.events <- ev:
		case <-k.stop:
			return
		}
	}
}

func (k *keyboardInput) Events() <-chan Event { return k.events }

// Close stops delivering events. The reader goroutine may still be blocked
// on the console; it exits on its next line.
func (k *keyboardInput) Close() error {
	var err error
	k.once.Do(func() {
		close(k.stop)
		err = k.lines.Close()
	})
	return err
}

// keyboardLines assembles raw key presses into lines.
type keyboardLines struct {
	once sync.Once
}

func openKeyboardLines() (*keyboardLines, error) {
	if err := keyboard.Open(); err != nil {
		return nil, fmt.Errorf("keyboard open: %w", err)
	}
	return &keyboardLines{}, nil
}

var errInterrupted = errors.New("interrupted")

func (kl *keyboardLines) ReadLine() (string, error) {
	var b strings.Builder
	for {
		char, key, err := keyboard.GetKey()
		if err != nil {
			return "", err
		}
		switch key {
		case keyboard.KeyEnter:
			fmt.Print("\r\n")
			return b.String(), nil
		case keyboard.KeyEsc:
			return "quit", nil
		case keyboard.KeyCtrlC:
			// Raw mode swallows SIGINT; pass it on so the process can shut down.
			if p, err := os.FindProcess(os.Getpid()); err == nil {
				p.Signal(os.Interrupt)
			}
			return "", errInterrupted
		case keyboard.KeyBackspace, keyboard.KeyBackspace2:
			if s := b.String(); len(s) > 0 {
				b.Reset()
				b.WriteString(s[:len(s)-1])
				fmt.Print("\b \b")
			}
		case keyboard.KeySpace:
			b.WriteRune(' ')
			fmt.Print(" ")
		default:
			if char != 0 {
				b.WriteRune(char)
				fmt.Print(string(char))
			}
		}
	}
}

func (kl *keyboardLines) Close() error {
	var err error
	kl.once.Do(func() {
		err = keyboard.Close()
	})
	return err
}
