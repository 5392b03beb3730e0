package tui

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/creack/pty"
)

// --- isTTY ---

func TestIsTTY_NonFileWriter(t *testing.T) {
	var buf bytes.Buffer
	if isTTY(&buf) {
		t.Error("non-*os.File writer should not be a TTY")
	}
}

func TestIsTTY_RegularFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "test")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()

	if isTTY(f) {
		t.Error("regular file should not be a TTY")
	}
}

func TestIsTTY_PseudoTerminal(t *testing.T) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		t.Skipf("pty unavailable: %v", err)
	}
	defer func() { _ = ptmx.Close() }()
	defer func() { _ = tty.Close() }()

	if !isTTY(tty) {
		t.Error("pty slave should be a TTY")
	}
}

// --- Bridge ---

func TestBridge_SendDeliversStatusUpdate(t *testing.T) {
	b := NewBridge()

	go b.Send(StatusUpdateMsg{Kind: "gpu_clusters", Status: StatusRunning})

	got := <-b.Events()
	su, ok := got.(StatusUpdateMsg)
	if !ok {
		t.Fatalf("expected StatusUpdateMsg, got %T", got)
	}
	if su.Kind != "gpu_clusters" {
		t.Errorf("kind = %q, want %q", su.Kind, "gpu_clusters")
	}
}

func TestBridge_ProgressDeliversDetailProgress(t *testing.T) {
	b := NewBridge()

	go b.Progress("gpu_clusters", 2, 5)

	got := <-b.Events()
	dp, ok := got.(DetailProgressMsg)
	if !ok {
		t.Fatalf("expected DetailProgressMsg, got %T", got)
	}
	if dp != (DetailProgressMsg{Kind: "gpu_clusters", Done: 2, Total: 5}) {
		t.Errorf("progress = %+v", dp)
	}
}

func TestBridge_DoneSendsRefreshDoneAndCloses(t *testing.T) {
	b := NewBridge()

	go b.Done()

	got := <-b.Events()
	if _, ok := got.(RefreshDoneMsg); !ok {
		t.Fatalf("expected RefreshDoneMsg, got %T", got)
	}

	// Channel should be closed after Done.
	if _, open := <-b.Events(); open {
		t.Error("channel should be closed after Done")
	}
}

func TestBridge_ErrorSendsRefreshErrorAndCloses(t *testing.T) {
	b := NewBridge()

	go b.Error(errors.New("no compartment"))

	got := <-b.Events()
	re, ok := got.(RefreshErrorMsg)
	if !ok {
		t.Fatalf("expected RefreshErrorMsg, got %T", got)
	}
	if re.Err.Error() != "no compartment" {
		t.Errorf("error = %q, want %q", re.Err, "no compartment")
	}

	if _, open := <-b.Events(); open {
		t.Error("channel should be closed after Error")
	}
}

// --- PlainDisplay ---

func runPlain(t *testing.T, events ...DisplayEvent) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	d := &PlainDisplay{w: &buf}

	ch := make(chan DisplayEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)

	err := d.Run(context.Background(), ch)
	return buf.String(), err
}

func TestPlainDisplay_RendersRunning(t *testing.T) {
	out, err := runPlain(t,
		StatusUpdateMsg{Kind: "gpu_clusters", Status: StatusRunning, Progress: "2/9"},
		RefreshDoneMsg{},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "[2/9] gpu_clusters running") {
		t.Errorf("output should contain progress, kind and status, got:\n%s", out)
	}
}

func TestPlainDisplay_RendersFinishedKind(t *testing.T) {
	out, err := runPlain(t,
		StatusUpdateMsg{Kind: "gpu_clusters", Status: StatusRefreshed, Progress: "2/9", Records: 12, Failed: 2, Duration: 2 * time.Second},
		RefreshDoneMsg{},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "gpu_clusters refreshed, 12 records, 2 failed (2.0s)") {
		t.Errorf("output missing finished line, got:\n%s", out)
	}
}

func TestPlainDisplay_RendersErrorForStale(t *testing.T) {
	out, err := runPlain(t,
		StatusUpdateMsg{Kind: "instances", Status: StatusStale, Progress: "6/9", Records: 3, Err: "ServiceError: NotAuthenticated"},
		RefreshDoneMsg{},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "error: ServiceError: NotAuthenticated") {
		t.Errorf("output should show the upstream error, got:\n%s", out)
	}
}

func TestPlainDisplay_IgnoresDetailProgress(t *testing.T) {
	out, err := runPlain(t, DetailProgressMsg{Kind: "gpu_clusters", Done: 1, Total: 2}, RefreshDoneMsg{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "" {
		t.Errorf("detail progress should not be printed, got:\n%s", out)
	}
}

func TestPlainDisplay_HandlesContextCancellation(t *testing.T) {
	var buf bytes.Buffer
	d := &PlainDisplay{w: &buf}
	ctx, cancel := context.WithCancel(context.Background())

	ch := make(chan DisplayEvent) // Unbuffered, will block.

	done := make(chan error, 1)
	go func() {
		done <- d.Run(ctx, ch)
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestPlainDisplay_ReturnsErrorFromRefreshError(t *testing.T) {
	_, err := runPlain(t, RefreshErrorMsg{Err: errors.New("oci CLI not found")})
	if err == nil || !strings.Contains(err.Error(), "oci CLI not found") {
		t.Errorf("expected refresh error, got %v", err)
	}
}

func TestPlainDisplay_ClosedChannelReturnsNil(t *testing.T) {
	if _, err := runPlain(t); err != nil {
		t.Errorf("closed channel should return nil, got %v", err)
	}
}

// --- NewDisplay factory ---

func TestNewDisplay_ForcePlainReturnsPlainDisplay(t *testing.T) {
	d := NewDisplay(DisplayOptions{
		Writer:     os.Stdout,
		ForcePlain: true,
		Kinds:      []string{"gpu_fabrics"},
	})

	if _, ok := d.(*PlainDisplay); !ok {
		t.Errorf("ForcePlain should return *PlainDisplay, got %T", d)
	}
}

func TestNewDisplay_NonTTYReturnsPlainDisplay(t *testing.T) {
	var buf bytes.Buffer
	d := NewDisplay(DisplayOptions{
		Writer: &buf,
		Kinds:  []string{"gpu_fabrics"},
	})

	if _, ok := d.(*PlainDisplay); !ok {
		t.Errorf("non-TTY writer should return *PlainDisplay, got %T", d)
	}
}

func TestNewDisplay_TTYReturnsTUIDisplay(t *testing.T) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		t.Skipf("pty unavailable: %v", err)
	}
	defer func() { _ = ptmx.Close() }()
	defer func() { _ = tty.Close() }()

	kinds := []string{"gpu_fabrics", "instances"}
	d := NewDisplay(DisplayOptions{Writer: tty, Kinds: kinds})

	td, ok := d.(*TUIDisplay)
	if !ok {
		t.Fatalf("TTY writer should return *TUIDisplay, got %T", d)
	}
	if len(td.kinds) != len(kinds) {
		t.Errorf("TUIDisplay kinds = %v, want %v", td.kinds, kinds)
	}
}

func TestNewDisplay_DefaultsWriterToStderr(t *testing.T) {
	d := NewDisplay(DisplayOptions{ForcePlain: true})

	pd, ok := d.(*PlainDisplay)
	if !ok {
		t.Fatalf("expected *PlainDisplay, got %T", d)
	}
	if pd.w != os.Stderr {
		t.Error("default Writer should be os.Stderr")
	}
}
