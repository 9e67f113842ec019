package device

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"
)

// ExecSpeaker speaks through an external text-to-speech command such as
// espeak. The text is passed as the final argument. Stop kills a command
// still running.
type ExecSpeaker struct {
	command []string

	mu  sync.Mutex
	cmd *exec.Cmd
}

func NewExecSpeaker(command []string) (*ExecSpeaker, error) {
	if len(command) == 0 {
		return nil, errors.New("speech command is empty")
	}
	if _, err := exec.LookPath(command[0]); err != nil {
		return nil, fmt.Errorf("speech command: %w", err)
	}
	return &ExecSpeaker{command: append([]string(nil), command...)}, nil
}

func (s *ExecSpeaker) Speak(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killLocked()
	args := append(append([]string(nil), s.command[1:]...), text)
	cmd := exec.Command(s.command[0], args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start speech: %w", err)
	}
	s.cmd = cmd
	go func() {
		_ = cmd.Wait()
		s.mu.Lock()
		if s.cmd == cmd {
			s.cmd = nil
		}
		s.mu.Unlock()
	}()
	return nil
}

func (s *ExecSpeaker) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killLocked()
	return nil
}

func (s *ExecSpeaker) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd != nil
}

func (s *ExecSpeaker) killLocked() {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	_ = s.cmd.Process.Kill()
	s.cmd = nil
}
