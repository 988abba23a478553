// Copyright 2018-2026 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

// Package notify is the notification delivery module the core's Status &
// Events stream feeds (spec §1 "the core emits notification events and a
// delivery module consumes them"). It is a supplemented feature grounded
// on original_source/training_manager/notification.py's three delivery
// channels (email, desktop, sound), rebuilt as one EventSink per channel
// so the Scheduler stays ignorant of delivery mechanics, and on the
// teacher's slack.go for the plain net/http/net/smtp client shape.
package notify

import (
	"fmt"
	"net/smtp"
	"os/exec"
	"runtime"

	"github.com/leaf-ai/training-supervisor/internal/log"
	"github.com/leaf-ai/training-supervisor/internal/runner"
	"github.com/leaf-ai/training-supervisor/internal/runner/config"
)

// Multi fans one event out to several sinks, so the wiring code can
// combine email/desktop/log delivery behind a single runner.EventSink.
type Multi struct {
	sinks []runner.EventSink
}

// NewMulti builds a fan-out sink from the delivery channels enabled by
// cfg, always including a log sink so every event is at least recorded.
func NewMulti(cfg *config.Config) *Multi {
	m := &Multi{sinks: []runner.EventSink{NewLogSink()}}
	if cfg.Email.Enabled {
		m.sinks = append(m.sinks, NewEmailSink(cfg.Email))
	}
	if cfg.Notification.DesktopEnabled {
		m.sinks = append(m.sinks, NewDesktopSink())
	}
	if cfg.Notification.SoundEnabled {
		m.sinks = append(m.sinks, NewSoundSink())
	}
	return m
}

func (m *Multi) Emit(e runner.Event) {
	for _, s := range m.sinks {
		s.Emit(e)
	}
}

// LogSink records every event through the structured logger, the
// always-on fallback delivery channel.
type LogSink struct {
	logger *log.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{logger: log.NewLogger("notify")}
}

func (s *LogSink) Emit(e runner.Event) {
	s.logger.Info("event", "kind", string(e.Kind), "row", e.RowID, "message", e.Message)
}

// EmailSink delivers events over SMTP with STARTTLS, grounded on
// notification.py's _send_email.
type EmailSink struct {
	cfg    config.EmailConfig
	logger *log.Logger
}

func NewEmailSink(cfg config.EmailConfig) *EmailSink {
	return &EmailSink{cfg: cfg, logger: log.NewLogger("notify-email")}
}

func (s *EmailSink) Emit(e runner.Event) {
	if !s.cfg.Enabled || len(s.cfg.To) == 0 {
		return
	}
	subject := fmt.Sprintf("training supervisor: %s (%s)", e.Kind, e.RowID)
	body := fmt.Sprintf("Subject: %s\r\n\r\n%s\r\n", subject, e.Message)

	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)
	if errGo := smtp.SendMail(addr, nil, s.cfg.From, s.cfg.To, []byte(body)); errGo != nil {
		s.logger.Warn("failed to deliver email notification", "err", errGo.Error())
	}
}

// DesktopSink shells out to the host's native notification command,
// grounded on notification.py's _send_desktop_notification platform
// switch (notify-send on Linux, osascript on macOS, powershell on
// Windows).
type DesktopSink struct {
	logger *log.Logger
}

func NewDesktopSink() *DesktopSink {
	return &DesktopSink{logger: log.NewLogger("notify-desktop")}
}

func (s *DesktopSink) Emit(e runner.Event) {
	title := fmt.Sprintf("training supervisor: %s", e.Kind)
	cmd := desktopCommand(title, e.Message)
	if cmd == nil {
		return
	}
	if errGo := cmd.Run(); errGo != nil {
		s.logger.Warn("failed to deliver desktop notification", "err", errGo.Error())
	}
}

// SoundSink plays a platform-native alert sound on every event, grounded
// on notification.py's _play_sound (winsound.MessageBeep on Windows,
// afplay on macOS, paplay on Linux).
type SoundSink struct {
	logger *log.Logger
}

func NewSoundSink() *SoundSink {
	return &SoundSink{logger: log.NewLogger("notify-sound")}
}

func (s *SoundSink) Emit(e runner.Event) {
	cmd := soundCommand()
	if cmd == nil {
		return
	}
	if errGo := cmd.Run(); errGo != nil {
		s.logger.Warn("failed to play notification sound", "err", errGo.Error())
	}
}

func soundCommand() *exec.Cmd {
	switch runtime.GOOS {
	case "linux":
		return exec.Command("paplay", "/usr/share/sounds/freedesktop/stereo/complete.oga")
	case "darwin":
		return exec.Command("afplay", "/System/Library/Sounds/Glass.aiff")
	case "windows":
		return exec.Command("powershell", "-command",
			"[System.Media.SystemSounds]::Asterisk.Play()")
	default:
		return nil
	}
}

func desktopCommand(title, message string) *exec.Cmd {
	switch runtime.GOOS {
	case "linux":
		return exec.Command("notify-send", title, message)
	case "darwin":
		script := fmt.Sprintf("display notification %q with title %q", message, title)
		return exec.Command("osascript", "-e", script)
	case "windows":
		return exec.Command("powershell", "-command",
			fmt.Sprintf("[System.Reflection.Assembly]::LoadWithPartialName('System.Windows.Forms'); "+
				"(New-Object System.Windows.Forms.NotifyIcon).ShowBalloonTip(0, %q, %q, 'None')", title, message))
	default:
		return nil
	}
}
