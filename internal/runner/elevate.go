package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/user/lanscope/internal/util"
)

// Marker files written by the elevated script. The launcher cannot see
// the elevated process's exit code, so these are the only signal.
const (
	markerDone   = "done"
	markerError  = "error"
	markerOutput = "output"
)

// elevation describes the files to write and the launcher to run.
type elevation struct {
	scriptName string
	script     string
	launcher   Command
}

// RunElevated runs script with elevated privilege through the OS prompt
// and blocks until it finishes. Temporary files are always removed.
func (r *OSRunner) RunElevated(ctx context.Context, script string) error {
	_, err := r.RunElevatedOutput(ctx, script)
	return err
}

// RunElevatedOutput is RunElevated that also returns the script's
// combined stdout and stderr on success.
func (r *OSRunner) RunElevatedOutput(ctx context.Context, script string) (string, error) {
	dir, err := os.MkdirTemp(r.TempDir, "lanscope-elevate-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	plan := buildElevation(runtime.GOOS, dir, script)
	scriptPath := filepath.Join(dir, plan.scriptName)
	if err := os.WriteFile(scriptPath, []byte(plan.script), 0o700); err != nil {
		return "", fmt.Errorf("failed to write elevation script: %w", err)
	}

	launcher := plan.launcher
	if r.launch != nil {
		launcher = r.launch(scriptPath)
	}

	util.Debug("Requesting elevation via %s", launcher.Name)
	out, launchErr := exec.CommandContext(ctx, launcher.Name, launcher.Args...).CombinedOutput()
	if errors.Is(launchErr, exec.ErrNotFound) {
		return "", &CommandError{Command: launcher.String(), Message: launchErr.Error()}
	}

	if err := checkMarkers(dir, launchErr, string(out)); err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(dir, markerOutput))
	if err != nil {
		return "", nil
	}
	return strings.TrimSpace(string(data)), nil
}

// ShellLine renders cmd as one line of the elevation script for goos,
// quoting every word.
func ShellLine(goos string, cmd Command) string {
	words := append([]string{cmd.Name}, cmd.Args...)
	for i, w := range words {
		if goos == "windows" {
			words[i] = `"` + strings.ReplaceAll(w, `"`, `""`) + `"`
		} else {
			words[i] = "'" + strings.ReplaceAll(w, "'", `'\''`) + "'"
		}
	}
	return strings.Join(words, " ")
}

// checkMarkers decides the outcome from the marker files left in dir.
func checkMarkers(dir string, launchErr error, launcherOutput string) error {
	if _, err := os.Stat(filepath.Join(dir, markerDone)); err == nil {
		return nil
	}

	if data, err := os.ReadFile(filepath.Join(dir, markerError)); err == nil {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = "non-zero exit"
		}
		return fmt.Errorf("%w: %s", ErrElevationCommandFailed, msg)
	}

	// Neither marker: the script never ran, so the prompt was dismissed.
	if launchErr != nil {
		util.Debug("Elevation launcher exited: %v %s", launchErr, strings.TrimSpace(launcherOutput))
	}
	return ErrElevationCancelled
}

func buildElevation(goos, dir, script string) elevation {
	switch goos {
	case "windows":
		path := filepath.Join(dir, "task.cmd")
		return elevation{
			scriptName: "task.cmd",
			script:     windowsScript(dir, script),
			launcher: Cmd("powershell", "-NoProfile", "-NonInteractive", "-Command",
				fmt.Sprintf(`Start-Process -FilePath cmd.exe -ArgumentList '/c','"%s"' -Verb RunAs -Wait -WindowStyle Hidden`, path)),
		}
	case "darwin":
		path := filepath.Join(dir, "task.sh")
		return elevation{
			scriptName: "task.sh",
			script:     unixScript(dir, script),
			launcher: Cmd("osascript", "-e",
				fmt.Sprintf(`do shell script "/bin/sh '%s'" with administrator privileges`, path)),
		}
	default:
		path := filepath.Join(dir, "task.sh")
		return elevation{
			scriptName: "task.sh",
			script:     unixScript(dir, script),
			launcher:   Cmd("pkexec", "/bin/sh", path),
		}
	}
}

func unixScript(dir, script string) string {
	var sb strings.Builder
	sb.WriteString("#!/bin/sh\n")
	sb.WriteString(fmt.Sprintf("DIR='%s'\n", dir))
	sb.WriteString("(\n")
	sb.WriteString(script)
	sb.WriteString("\n) > \"$DIR/" + markerOutput + "\" 2>&1\n")
	sb.WriteString("if [ $? -eq 0 ]; then\n")
	sb.WriteString("  touch \"$DIR/" + markerDone + "\"\n")
	sb.WriteString("else\n")
	sb.WriteString("  cat \"$DIR/" + markerOutput + "\" > \"$DIR/" + markerError + "\"\n")
	sb.WriteString("fi\n")
	return sb.String()
}

func windowsScript(dir, script string) string {
	out := filepath.Join(dir, markerOutput)
	var sb strings.Builder
	sb.WriteString("@echo off\r\n")
	sb.WriteString("(\r\n")
	sb.WriteString(strings.ReplaceAll(script, "\n", "\r\n"))
	sb.WriteString(fmt.Sprintf("\r\n) > \"%s\" 2>&1\r\n", out))
	sb.WriteString(fmt.Sprintf("if %%errorlevel%% equ 0 (type nul > \"%s\") else (copy /y \"%s\" \"%s\" > nul)\r\n",
		filepath.Join(dir, markerDone), out, filepath.Join(dir, markerError)))
	return sb.String()
}
