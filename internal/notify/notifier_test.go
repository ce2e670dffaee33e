package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type memSender struct {
	name string
	sent []string
	err  error
}

func (m *memSender) Send(_ context.Context, title, _ string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, title)
	return nil
}

func (m *memSender) Name() string { return m.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFansOut(t *testing.T) {
	a := &memSender{name: "a"}
	b := &memSender{name: "b"}
	n := NewNotifier([]Sender{a, b}, nil, testLogger())

	if err := n.Notify(context.Background(), "arbitrage_executed", "settled", "ok"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(a.sent) != 1 || len(b.sent) != 1 {
		t.Errorf("sent = %v / %v, want one each", a.sent, b.sent)
	}
}

func TestNotifyEventFilter(t *testing.T) {
	s := &memSender{name: "a"}
	n := NewNotifier([]Sender{s}, []string{"arbitrage_executed"}, testLogger())

	if err := n.Notify(context.Background(), "token_whitelisted", "t", "m"); err != nil {
		t.Fatalf("Notify filtered event: %v", err)
	}
	if len(s.sent) != 0 {
		t.Errorf("filtered event was delivered: %v", s.sent)
	}

	if err := n.Notify(context.Background(), "arbitrage_executed", "t", "m"); err != nil {
		t.Fatal(err)
	}
	if len(s.sent) != 1 {
		t.Errorf("allowed event not delivered")
	}
}

func TestNotifyCollectsSenderErrors(t *testing.T) {
	broken := &memSender{name: "broken", err: errors.New("boom")}
	ok := &memSender{name: "ok"}
	n := NewNotifier([]Sender{broken, ok}, nil, testLogger())

	err := n.Notify(context.Background(), "arbitrage_executed", "t", "m")
	if err == nil {
		t.Fatal("Notify = nil, want error from broken sender")
	}
	if len(ok.sent) != 1 {
		t.Errorf("healthy sender skipped after broken one")
	}
}
