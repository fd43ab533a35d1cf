package continuation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Backend registers a one-shot task with the native OS scheduler.
type Backend interface {
	// Name identifies the backend in logs and the history store.
	Name() string

	// GOOS is the platform the rendered scripts and command lines target.
	GOOS() string

	// ScriptExt is the file extension of continuation scripts.
	ScriptExt() string

	// RenderScript returns the body of a script that runs commandLine, then
	// removes the task registration and finally deletes itself.
	RenderScript(task *Task, commandLine string) string

	// Register creates the task. It returns the registration output and the
	// error of the registration command.
	Register(ctx context.Context, task *Task) ([]byte, error)
}

// Backend names.
const (
	BackendSchtasks = "schtasks"
	BackendSystemd  = "systemd"
	BackendLaunchd  = "launchd"
)

// BackendOptions tune backend construction.
type BackendOptions struct {
	// LegacyScheduler omits "/rl highest" for schtasks versions that reject it.
	LegacyScheduler bool

	// UnitDir overrides /etc/systemd/system.
	UnitDir string

	// DaemonDir overrides /Library/LaunchDaemons.
	DaemonDir string
}

// NewBackend returns the backend for goos.
func NewBackend(goos string, runner CommandRunner, opts BackendOptions) (Backend, error) {
	if runner == nil {
		runner = ExecRunner{}
	}
	switch goos {
	case "windows":
		return &SchtasksBackend{runner: runner, legacy: opts.LegacyScheduler}, nil
	case "linux":
		dir := opts.UnitDir
		if dir == "" {
			dir = "/etc/systemd/system"
		}
		return &SystemdBackend{runner: runner, unitDir: dir}, nil
	case "darwin":
		dir := opts.DaemonDir
		if dir == "" {
			dir = "/Library/LaunchDaemons"
		}
		return &LaunchdBackend{runner: runner, daemonDir: dir}, nil
	default:
		return nil, fmt.Errorf("no continuation backend for %s", goos)
	}
}

// SchtasksBackend registers an ONSTART task running as System.
type SchtasksBackend struct {
	runner CommandRunner
	legacy bool
}

func (b *SchtasksBackend) Name() string      { return BackendSchtasks }
func (b *SchtasksBackend) GOOS() string      { return "windows" }
func (b *SchtasksBackend) ScriptExt() string { return ".bat" }

func (b *SchtasksBackend) RenderScript(task *Task, commandLine string) string {
	lines := []string{
		"@echo off",
		commandLine,
		fmt.Sprintf("schtasks /delete /tn %s /f", task.Name),
		`(goto) 2>nul & del "%~f0"`,
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}

func (b *SchtasksBackend) Register(ctx context.Context, task *Task) ([]byte, error) {
	return b.runner.Run(ctx, "schtasks", b.CreateArgs(task)...)
}

// CreateArgs returns the schtasks arguments used by Register.
func (b *SchtasksBackend) CreateArgs(task *Task) []string {
	tr := task.ScriptPath
	if strings.ContainsAny(tr, " \t") {
		tr = `"` + tr + `"`
	}
	args := []string{"/Create", "/ru", "System", "/tn", task.Name, "/sc", "ONSTART", "/tr", tr}
	if !b.legacy {
		args = append(args, "/rl", "highest")
	}
	return args
}

// SystemdBackend installs a oneshot unit wanted by multi-user.target.
type SystemdBackend struct {
	runner  CommandRunner
	unitDir string
}

func (b *SystemdBackend) Name() string      { return BackendSystemd }
func (b *SystemdBackend) GOOS() string      { return "linux" }
func (b *SystemdBackend) ScriptExt() string { return ".sh" }

// UnitPath returns the unit file path of task.
func (b *SystemdBackend) UnitPath(task *Task) string {
	return filepath.Join(b.unitDir, task.Name+".service")
}

func (b *SystemdBackend) RenderScript(task *Task, commandLine string) string {
	unit := task.Name + ".service"
	lines := []string{
		"#!/bin/sh",
		commandLine,
		"systemctl disable " + unit,
		"rm -f " + quoteArg("linux", b.UnitPath(task)),
		"systemctl daemon-reload",
		`rm -f "$0"`,
	}
	return strings.Join(lines, "\n") + "\n"
}

func (b *SystemdBackend) renderUnit(task *Task) string {
	return fmt.Sprintf(`[Unit]
Description=froyo-installer continuation %s
After=network-online.target
Wants=network-online.target

[Service]
Type=oneshot
ExecStart=/bin/sh %s

[Install]
WantedBy=multi-user.target
`, task.Name, quoteUnitArg(task.ScriptPath))
}

// quoteUnitArg quotes a path for an ExecStart line when it contains
// whitespace or quotes.
func quoteUnitArg(s string) string {
	if !strings.ContainsAny(s, " \t\"\\") {
		return s
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

func (b *SystemdBackend) Register(ctx context.Context, task *Task) ([]byte, error) {
	if err := os.MkdirAll(b.unitDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create unit directory: %w", err)
	}
	if err := os.WriteFile(b.UnitPath(task), []byte(b.renderUnit(task)), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write unit: %w", err)
	}
	out, err := b.runner.Run(ctx, "systemctl", "enable", task.Name+".service")
	if err != nil {
		_ = os.Remove(b.UnitPath(task))
	}
	return out, err
}

// LaunchdBackend installs a RunAtLoad launch daemon.
type LaunchdBackend struct {
	runner    CommandRunner
	daemonDir string
}

func (b *LaunchdBackend) Name() string      { return BackendLaunchd }
func (b *LaunchdBackend) GOOS() string      { return "darwin" }
func (b *LaunchdBackend) ScriptExt() string { return ".sh" }

// PlistPath returns the daemon plist path of task.
func (b *LaunchdBackend) PlistPath(task *Task) string {
	return filepath.Join(b.daemonDir, b.label(task)+".plist")
}

func (b *LaunchdBackend) label(task *Task) string {
	return "io.openfroyo.installer." + task.Name
}

func (b *LaunchdBackend) RenderScript(task *Task, commandLine string) string {
	lines := []string{
		"#!/bin/sh",
		commandLine,
		"launchctl remove " + b.label(task),
		"rm -f " + quoteArg("darwin", b.PlistPath(task)),
		`rm -f "$0"`,
	}
	return strings.Join(lines, "\n") + "\n"
}

func (b *LaunchdBackend) renderPlist(task *Task) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
  <key>Label</key>
  <string>%s</string>
  <key>ProgramArguments</key>
  <array>
    <string>/bin/sh</string>
    <string>%s</string>
  </array>
  <key>RunAtLoad</key>
  <true/>
</dict>
</plist>
`, b.label(task), task.ScriptPath)
}

func (b *LaunchdBackend) Register(ctx context.Context, task *Task) ([]byte, error) {
	if err := os.MkdirAll(b.daemonDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create daemon directory: %w", err)
	}
	if err := os.WriteFile(b.PlistPath(task), []byte(b.renderPlist(task)), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write plist: %w", err)
	}
	out, err := b.runner.Run(ctx, "launchctl", "enable", "system/"+b.label(task))
	if err != nil {
		_ = os.Remove(b.PlistPath(task))
	}
	return out, err
}

