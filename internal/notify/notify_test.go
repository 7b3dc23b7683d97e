package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"casewatch/internal/hearing"
	logx "casewatch/pkg/logx"
)

func sampleNotice() Notice {
	return Notice{
		CaseID:    42,
		Plaintiff: "Dibra",
		Defendant: "Prokuroria e Tiranes",
		Hearing:   hearing.Appeal,
		At:        time.Date(2025, 8, 23, 10, 0, 0, 0, time.UTC),
		Raw:       "23-08-2025 10:00",
	}
}

func TestRendering(t *testing.T) {
	t.Parallel()
	n := sampleNotice()

	subj := Subject(n)
	for _, want := range []string{"Dibra", "Prokuroria e Tiranes", "23 Aug 2025 10:00"} {
		if !strings.Contains(subj, want) {
			t.Fatalf("subject %q missing %q", subj, want)
		}
	}

	body := Body(n)
	for _, want := range []string{"Case #42", "appeal hearing", "Saturday, 23 August 2025 at 10:00"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body %q missing %q", body, want)
		}
	}
}

func TestFanoutMirrorFailureDoesNotSurface(t *testing.T) {
	t.Parallel()
	var primaryCalls, mirrorCalls int
	primary := Func(func(ctx context.Context, to, from string, n Notice) error {
		primaryCalls++
		return nil
	})
	mirror := Func(func(ctx context.Context, to, from string, n Notice) error {
		mirrorCalls++
		return errors.New("chat unreachable")
	})

	f := NewFanout(primary, logx.Nop(), mirror)
	if err := f.Send(context.Background(), "a@b", "c@d", sampleNotice()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if primaryCalls != 1 || mirrorCalls != 1 {
		t.Fatalf("calls = (%d, %d), want (1, 1)", primaryCalls, mirrorCalls)
	}
}

func TestFanoutPrimaryFailureSkipsMirrors(t *testing.T) {
	t.Parallel()
	sentinel := errors.New("smtp down")
	primary := Func(func(ctx context.Context, to, from string, n Notice) error {
		return sentinel
	})
	var mirrorCalls int
	mirror := Func(func(ctx context.Context, to, from string, n Notice) error {
		mirrorCalls++
		return nil
	})

	f := NewFanout(primary, logx.Nop(), mirror)
	if err := f.Send(context.Background(), "a@b", "c@d", sampleNotice()); !errors.Is(err, sentinel) {
		t.Fatalf("Send err = %v, want %v", err, sentinel)
	}
	if mirrorCalls != 0 {
		t.Fatalf("mirror called %d times after primary failure", mirrorCalls)
	}
}

func TestNewMailerDefaults(t *testing.T) {
	t.Parallel()
	m, err := NewMailer(MailOptions{Host: "smtp.example.com"}, logx.Nop())
	if err != nil {
		t.Fatalf("NewMailer: %v", err)
	}
	if m.opts.Port != 587 || m.opts.SendTimeout != 10*time.Second || m.opts.RatePerSec != 1 {
		t.Fatalf("defaults not applied: %+v", m.opts)
	}

	if _, err := NewMailer(MailOptions{}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing host")
	}
	if _, err := NewMailer(MailOptions{Host: "h", TLSPolicy: "plaintext"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown tls policy")
	}
}
