// Package audio plays sound files and speaks text by running external
// programs.
package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fitzbot/fitzbot/internal/actions"
	"github.com/fitzbot/fitzbot/internal/logging"
	"github.com/rs/zerolog"
)

// Audio errors.
var (
	ErrNoCommand    = errors.New("no command configured")
	ErrOutsideRoot  = errors.New("sound path escapes the sound directory")
	ErrSoundMissing = errors.New("sound file not found")
)

// Player starts a player program for each sound. Playback is not awaited;
// sounds may overlap later actions.
type Player struct {
	dir     string
	command []string
	logger  zerolog.Logger
}

var _ actions.SoundPlayer = (*Player)(nil)

// NewPlayer creates a player resolving sounds under dir. The sound path is
// appended to command.
func NewPlayer(dir string, command []string) *Player {
	if dir == "" {
		dir = "."
	}
	return &Player{
		dir:     dir,
		command: command,
		logger:  logging.Component("audio"),
	}
}

// Resolve maps a configured sound path to a file under the sound directory.
func (p *Player) Resolve(sound string) (string, error) {
	root, err := filepath.Abs(p.dir)
	if err != nil {
		return "", fmt.Errorf("resolve sound dir: %w", err)
	}
	path := filepath.Join(root, filepath.FromSlash(sound))
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, sound)
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrSoundMissing, sound)
	}
	return path, nil
}

// PlaySound starts playback and returns once the player has started.
func (p *Player) PlaySound(ctx context.Context, sound string) error {
	if len(p.command) == 0 {
		return ErrNoCommand
	}
	path, err := p.Resolve(sound)
	if err != nil {
		return err
	}

	args := append(append([]string(nil), p.command[1:]...), path)
	cmd := exec.Command(p.command[0], args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start player: %w", err)
	}
	p.logger.Debug().Str("sound", sound).Int("pid", cmd.Process.Pid).Msg("playing sound")

	go func() {
		if err := cmd.Wait(); err != nil {
			p.logger.Warn().Err(err).Str("sound", sound).Msg("player exited with error")
		}
	}()
	return nil
}

// Speaker runs a text-to-speech program and waits for it to finish so speech
// does not overlap the next action.
type Speaker struct {
	command []string
	logger  zerolog.Logger
}

var _ actions.Speaker = (*Speaker)(nil)

// NewSpeaker creates a speaker. The text is appended to command as one
// argument.
func NewSpeaker(command []string) *Speaker {
	return &Speaker{command: command, logger: logging.Component("audio")}
}

// Speak synthesizes text.
func (s *Speaker) Speak(ctx context.Context, text string) error {
	if len(s.command) == 0 {
		return ErrNoCommand
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	args := append(append([]string(nil), s.command[1:]...), text)
	cmd := exec.CommandContext(ctx, s.command[0], args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("speak: %w: %s", err, strings.TrimSpace(string(out)))
	}
	s.logger.Debug().Str("text", text).Msg("spoke")
	return nil
}
