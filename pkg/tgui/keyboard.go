package tgui

import (
	"fmt"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"
)

// Button is one inline button. Data is sent back verbatim on a press.
type Button struct {
	Text string
	Data string
}

// Keyboard builds inline markup with one keyboard row per input row.
func Keyboard(rows [][]Button) (*tele.ReplyMarkup, error) {
	rm := &tele.ReplyMarkup{}
	out := make([]tele.Row, 0, len(rows))
	for i, row := range rows {
		btns := make([]tele.Btn, 0, len(row))
		for _, b := range row {
			if err := CheckData(b.Data); err != nil {
				return nil, fmt.Errorf("row %d %q: %w", i, b.Text, err)
			}
			btns = append(btns, tele.Btn{Text: Label(b.Text), Data: b.Data})
		}
		out = append(out, rm.Row(btns...))
	}
	rm.Inline(out...)
	return rm, nil
}

// Label shortens s to MaxButtonTextLen runes, marking the cut with "…".
func Label(s string) string {
	if utf8.RuneCountInString(s) <= MaxButtonTextLen {
		return s
	}
	r := []rune(s)
	return string(r[:MaxButtonTextLen-1]) + "…"
}
