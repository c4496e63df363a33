package telegram

import (
	"errors"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	"megabuddies/internal/transport"
)

func TestSplitText(t *testing.T) {
	t.Parallel()

	short := "hello"
	if got := splitText(short, 10); len(got) != 1 || got[0] != short {
		t.Fatalf("splitText(short) = %v", got)
	}

	// Long text splits on the newline near the window end.
	long := strings.Repeat("aaaa\n", 10)
	chunks := splitText(long, 12)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %v", chunks)
	}
	var joined []string
	for _, c := range chunks {
		if len([]rune(c)) > 12 {
			t.Fatalf("chunk exceeds limit: %q", c)
		}
		joined = append(joined, c)
	}
	if strings.ReplaceAll(strings.Join(joined, ""), "\n", "") != strings.ReplaceAll(long, "\n", "") {
		t.Fatal("split lost content")
	}
}

func TestMapSendError(t *testing.T) {
	t.Parallel()

	blocked := tele.NewError(403, "Forbidden: bot was blocked by the user")
	if err := mapSendError(blocked); !errors.Is(err, transport.ErrRecipientBlocked) {
		t.Fatalf("403 not mapped to ErrRecipientBlocked: %v", err)
	}

	bad := tele.NewError(400, "Bad Request: chat not found")
	if err := mapSendError(bad); errors.Is(err, transport.ErrRecipientBlocked) {
		t.Fatalf("400 wrongly mapped: %v", err)
	}

	if err := mapSendError(nil); err != nil {
		t.Fatalf("nil mapped to %v", err)
	}
}
