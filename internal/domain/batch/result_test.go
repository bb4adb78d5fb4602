package batch

import (
	"errors"
	"testing"
)

func TestNewOK(t *testing.T) {
	r := NewOK("doc-1")
	if r.ID() != "doc-1" {
		t.Errorf("ID() = %q", r.ID())
	}
	if r.Status() != StatusOK {
		t.Errorf("Status() = %q, want %q", r.Status(), StatusOK)
	}
	if r.Err() != nil {
		t.Errorf("Err() = %v, want nil", r.Err())
	}
}

func TestNewError(t *testing.T) {
	err := errors.New("something failed")
	r := NewError("doc-2", err)
	if r.ID() != "doc-2" {
		t.Errorf("ID() = %q", r.ID())
	}
	if r.Status() != StatusError {
		t.Errorf("Status() = %q, want %q", r.Status(), StatusError)
	}
	if !errors.Is(r.Err(), err) {
		t.Errorf("Err() = %v, want %v", r.Err(), err)
	}
}

func TestSummarize(t *testing.T) {
	boom := errors.New("boom")
	s := Summarize([]Result{NewOK("a"), NewError("b", boom), NewOK("c")})

	if s.Success {
		t.Error("expected Success=false")
	}
	if s.ProcessedCount != 2 || s.FailedCount != 1 {
		t.Errorf("processed=%d failed=%d", s.ProcessedCount, s.FailedCount)
	}
	if len(s.Errors) != 1 || s.Errors[0].ID != "b" || !errors.Is(s.Errors[0].Err, boom) {
		t.Errorf("unexpected errors: %+v", s.Errors)
	}
}

func TestSummarize_AllOK(t *testing.T) {
	s := Summarize([]Result{NewOK("a")})
	if !s.Success || s.ProcessedCount != 1 || s.Errors != nil {
		t.Errorf("unexpected summary: %+v", s)
	}
	if !Summarize(nil).Success {
		t.Error("empty batch is a success")
	}
}

func TestFailAll(t *testing.T) {
	boom := errors.New("backend down")
	rs := FailAll([]string{"a", "b"}, boom)
	s := Summarize(rs)
	if s.FailedCount != 2 || s.ProcessedCount != 0 {
		t.Errorf("unexpected summary: %+v", s)
	}
}
