package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestResumeTokenLockKey(t *testing.T) {
	tok := ResumeToken{Engine: Claude, Value: "abc-123"}
	if got, want := tok.LockKey(), "claude:abc-123"; got != want {
		t.Errorf("LockKey = %q, want %q", got, want)
	}
}

func TestResumeTokenIsZero(t *testing.T) {
	if !(ResumeToken{}).IsZero() {
		t.Error("zero token should report IsZero")
	}
	if (ResumeToken{Engine: Claude, Value: "x"}).IsZero() {
		t.Error("populated token should not report IsZero")
	}
}

func TestWarningAction(t *testing.T) {
	a := WarningAction("warn-1", "invalid character 'x'")
	if a.Kind != KindWarning {
		t.Errorf("Kind = %q, want %q", a.Kind, KindWarning)
	}
	if a.Phase != PhaseCompleted {
		t.Errorf("Phase = %q, want %q", a.Phase, PhaseCompleted)
	}
	if a.Detail != "invalid character 'x'" {
		t.Errorf("Detail = %q", a.Detail)
	}
}

func TestStreamEmitAndClose(t *testing.T) {
	s := NewStream()

	go func() {
		ctx := context.Background()
		s.Emit(ctx, Started{Resume: ResumeToken{Engine: Claude, Value: "s1"}})
		s.Emit(ctx, Completed{OK: true, Answer: "done"})
		s.Close(nil)
	}()

	var got []Event
	for ev := range s.Events() {
		got = append(got, ev)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if _, ok := got[0].(Started); !ok {
		t.Errorf("first event = %T, want Started", got[0])
	}
	done, ok := got[1].(Completed)
	if !ok {
		t.Fatalf("second event = %T, want Completed", got[1])
	}
	if !done.OK || done.Answer != "done" {
		t.Errorf("Completed = %+v", done)
	}
	if err := s.Err(); err != nil {
		t.Errorf("Err = %v, want nil", err)
	}
}

func TestStreamCloseWithError(t *testing.T) {
	s := NewStream()
	want := errors.New("boom")
	s.Close(want)
	// Second close must not overwrite or panic.
	s.Close(nil)

	if _, open := <-s.Events(); open {
		t.Error("Events should be closed")
	}
	if got := s.Err(); !errors.Is(got, want) {
		t.Errorf("Err = %v, want %v", got, want)
	}
}

func TestStreamEmitHonorsContext(t *testing.T) {
	s := NewStream()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// No consumer: Emit must give up when the context ends.
	err := s.Emit(ctx, Action{ID: "a1", Kind: KindTool, Phase: PhaseStarted})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Emit err = %v, want deadline exceeded", err)
	}
}
