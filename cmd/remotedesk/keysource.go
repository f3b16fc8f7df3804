package main

import (
	"bufio"
	"log/slog"
	"os"
	"strings"
	"sync"

	"remotedesk/internal/control"
)

// stdinKeySource feeds the keyboard adapter from standard input. Each
// line is a key code ("KeyA", "Enter", ...) and produces a press and a
// release; a "+" or "-" prefix sends only the press or the release, for
// holding modifiers across lines.
type stdinKeySource struct {
	logger *slog.Logger

	mu      sync.Mutex
	handler func(control.KeyInput)
	started bool
}

func newStdinKeySource(logger *slog.Logger) *stdinKeySource {
	return &stdinKeySource{logger: logger}
}

func (s *stdinKeySource) Attach(handler func(control.KeyInput)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
	if !s.started {
		s.started = true
		go s.readLoop()
	}
	return nil
}

func (s *stdinKeySource) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = nil
}

func (s *stdinKeySource) readLoop() {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		s.mu.Lock()
		handler := s.handler
		s.mu.Unlock()
		if handler == nil {
			continue
		}

		switch {
		case strings.HasPrefix(line, "+"):
			handler(control.KeyInput{Down: true, Code: line[1:]})
		case strings.HasPrefix(line, "-"):
			handler(control.KeyInput{Down: false, Code: line[1:]})
		default:
			handler(control.KeyInput{Down: true, Code: line})
			handler(control.KeyInput{Down: false, Code: line})
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("stdin closed", "error", err)
	}
}
