package mailer

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestSend_BuildsMultipart(t *testing.T) {
	m := New(Config{Host: "localhost", Port: 1025, From: "noreply@club.test", FromName: "Club"}, zap.NewNop())

	var gotAddr string
	var gotTo []string
	var gotMsg []byte
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, msg
		return nil
	}

	e := BuildPromotionEmail("a@club.test", EventEmailData{ClubName: "Club", EventTitle: "Aiguille du Midi", Start: "12/06/2025"})
	if err := m.Send(e); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if gotAddr != "localhost:1025" {
		t.Errorf("addr = %q", gotAddr)
	}
	if len(gotTo) != 1 || gotTo[0] != "a@club.test" {
		t.Errorf("to = %v", gotTo)
	}
	body := string(gotMsg)
	for _, want := range []string{"multipart/alternative", "text/plain", "text/html", "Subject: Club: registration confirmed"} {
		if !strings.Contains(body, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestSend_NoRecipient(t *testing.T) {
	m := New(Config{Host: "localhost", Port: 25}, zap.NewNop())
	if err := m.Send(Email{Subject: "x", TextBody: "y"}); !errors.Is(err, ErrNoRecipient) {
		t.Errorf("expected ErrNoRecipient, got %v", err)
	}
}

type failingSender struct{ calls int }

func (f *failingSender) Send(Email) error {
	f.calls++
	return errors.New("relay down")
}

func TestSendLogged_SwallowsErrors(t *testing.T) {
	f := &failingSender{}
	SendLogged(f, Email{To: "a@club.test"}, zap.NewNop())
	if f.calls != 1 {
		t.Errorf("expected one send attempt, got %d", f.calls)
	}
	SendLogged(nil, Email{To: "a@club.test"}, zap.NewNop())
}

func TestBuildSanctionEmail(t *testing.T) {
	e := BuildSanctionEmail("a@club.test", SanctionEmailData{
		EventEmailData:    EventEmailData{ClubName: "Club", EventTitle: "Dent Blanche"},
		Warnings:          3,
		WarningsThreshold: 3,
		Suspended:         true,
		SuspensionWeeks:   4,
	})
	if !strings.Contains(e.TextBody, "suspended for 4 weeks") {
		t.Errorf("text body missing suspension: %s", e.TextBody)
	}
	if !strings.Contains(e.HTMLBody, "Dent Blanche") {
		t.Error("html body missing event title")
	}
}
