package shared

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"testing"
)

func TestFlowError(t *testing.T) {
	t.Run("Error Format", func(t *testing.T) {
		cause := errors.New("boom")
		err := NewFlowError(CodeFinishFailed, "finish failed").WithReason(ReasonNoPrompt).Wrap(cause)

		want := "finish_generation_failed(no_prompt): finish failed: boom"
		if err.Error() != want {
			t.Errorf("expected %q, got %q", want, err.Error())
		}

		if !errors.Is(err, cause) {
			t.Error("expected wrapped cause to be reachable")
		}
	})

	t.Run("CodeOf", func(t *testing.T) {
		tests := []struct {
			name string
			err  error
			want Code
		}{
			{"nil", nil, ""},
			{"flow error", NewFlowError(CodeNetwork, "lost"), CodeNetwork},
			{"wrapped flow error", fmt.Errorf("ctx: %w", NewFlowError(CodeTimedOut, "")), CodeTimedOut},
			{"cancelled", context.Canceled, CodePopupClosed},
			{"plain", errors.New("x"), CodeUnknown},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if got := CodeOf(tt.err); got != tt.want {
					t.Errorf("expected %q, got %q", tt.want, got)
				}
			})
		}
	})

	t.Run("ReasonOf And MessageOf", func(t *testing.T) {
		err := NewFlowError(CodeAuthError, "Spotify connection required.").WithReason(ReasonNoClient)

		if ReasonOf(err) != ReasonNoClient {
			t.Errorf("expected reason %s, got %s", ReasonNoClient, ReasonOf(err))
		}
		if ReasonOf(errors.New("x")) != "" {
			t.Error("expected empty reason for plain error")
		}
		if MessageOf(err, "fallback") != "Spotify connection required." {
			t.Errorf("unexpected message %q", MessageOf(err, "fallback"))
		}
		if MessageOf(NewFlowError(CodeAuthError, ""), "fallback") != "fallback" {
			t.Error("expected fallback for empty message")
		}
	})
}

func TestHelpers(t *testing.T) {
	t.Run("StripControlChars", func(t *testing.T) {
		in := "Late\x00 Night\x07 Drive\n\tmix"
		want := "Late Night Drive\n\tmix"
		if got := StripControlChars(in); got != want {
			t.Errorf("expected %q, got %q", want, got)
		}

		if got := StripControlChars("Cafe\u0301"); got != "Caf\u00e9" {
			t.Errorf("expected NFC form, got %q", got)
		}
	})

	t.Run("Truncate", func(t *testing.T) {
		if got := Truncate("héllo", 2); got != "hé" {
			t.Errorf("expected hé, got %q", got)
		}
		if got := Truncate("short", 10); got != "short" {
			t.Errorf("expected unchanged string, got %q", got)
		}
	})

	t.Run("MarshalJSON", func(t *testing.T) {
		data := map[string]int{"a": 1}

		compact, err := MarshalJSON(data, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(compact) != `{"a":1}` {
			t.Errorf("unexpected compact output %s", compact)
		}

		pretty, err := MarshalJSON(data, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(string(pretty), "\n  \"a\": 1") {
			t.Errorf("expected indented output, got %s", pretty)
		}
	})

	t.Run("GenerateID", func(t *testing.T) {
		a, b := GenerateID(), GenerateID()
		if a == b || len(a) != 36 {
			t.Errorf("expected distinct uuids, got %s and %s", a, b)
		}
	})

	t.Run("NewLogger", func(t *testing.T) {
		var buf bytes.Buffer
		logger := WithLogger(NewLogger(&buf), "component", "test")
		logger.Info("hello")

		if !strings.Contains(buf.String(), "component=test") {
			t.Errorf("expected key-value pair in output, got %s", buf.String())
		}
	})
}

func TestOpenBrowser(t *testing.T) {
	origRuntime, origStart := getRuntime, startCommand
	t.Cleanup(func() { getRuntime, startCommand = origRuntime, origStart })

	var started []string
	startCommand = func(cmd *exec.Cmd) error {
		started = cmd.Args
		return nil
	}

	tests := []struct {
		goos string
		want string
	}{
		{"darwin", "open"},
		{"linux", "xdg-open"},
		{"windows", "rundll32"},
	}

	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			getRuntime = func() string { return tt.goos }
			if err := OpenBrowser("https://example.com"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if started[0] != tt.want || started[len(started)-1] != "https://example.com" {
				t.Errorf("unexpected command %v", started)
			}
		})
	}

	t.Run("unsupported", func(t *testing.T) {
		getRuntime = func() string { return "plan9" }
		if err := OpenBrowser("https://example.com"); err == nil {
			t.Error("expected error for unsupported platform")
		}
	})

	t.Run("start failure", func(t *testing.T) {
		getRuntime = func() string { return "linux" }
		startCommand = func(*exec.Cmd) error { return errors.New("no launcher") }
		if err := OpenBrowser("https://example.com"); err == nil {
			t.Error("expected start error")
		}
	})
}
