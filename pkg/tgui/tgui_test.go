package tgui

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestData(t *testing.T) {
	t.Parallel()
	if got := Data(" sub ", "from", "L-BTC"); got != "sub:from:L-BTC" {
		t.Fatalf("Data = %q", got)
	}
	if got := Data("mng", "remove", ""); got != "mng:remove" {
		t.Fatalf("Data without payload = %q", got)
	}
}

func TestKeyboard(t *testing.T) {
	t.Parallel()
	rm, err := Keyboard([][]Button{
		{{Text: "BTC", Data: "sub:from:BTC"}, {Text: "LN", Data: "sub:from:LN"}},
		{{Text: strings.Repeat("x", 60), Data: "sub:th:custom"}},
	})
	if err != nil {
		t.Fatalf("Keyboard error: %v", err)
	}
	if len(rm.InlineKeyboard) != 2 || len(rm.InlineKeyboard[0]) != 2 {
		t.Fatalf("unexpected layout: %+v", rm.InlineKeyboard)
	}
	if got := rm.InlineKeyboard[0][1].Data; got != "sub:from:LN" {
		t.Fatalf("data = %q", got)
	}
	if n := utf8.RuneCountInString(rm.InlineKeyboard[1][0].Text); n != MaxButtonTextLen {
		t.Fatalf("label runes = %d, want %d", n, MaxButtonTextLen)
	}
}

func TestKeyboardRejectsLongData(t *testing.T) {
	t.Parallel()
	_, err := Keyboard([][]Button{{{Text: "x", Data: strings.Repeat("d", MaxCallbackDataLen+1)}}})
	if !errors.Is(err, ErrCallbackDataTooLong) {
		t.Fatalf("err = %v, want ErrCallbackDataTooLong", err)
	}
	if err := CheckData(strings.Repeat("d", MaxCallbackDataLen)); err != nil {
		t.Fatalf("limit-sized data rejected: %v", err)
	}
}

func TestLabel(t *testing.T) {
	t.Parallel()
	if got := Label("BTC -> LN at 0.1%"); got != "BTC -> LN at 0.1%" {
		t.Fatalf("short label changed: %q", got)
	}
	long := strings.Repeat("€", MaxButtonTextLen+5)
	got := Label(long)
	if utf8.RuneCountInString(got) != MaxButtonTextLen || !strings.HasSuffix(got, "…") {
		t.Fatalf("Label = %q", got)
	}
}
