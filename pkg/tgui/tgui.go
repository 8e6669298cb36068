// Package tgui provides small chat UI helpers:
//   - Inline keyboard builders over transport.Button
//   - Callback data helpers (ns:action:payload)
//   - A message builder safe for Telegram ParseMode="HTML"
package tgui

import (
	"heraldbot/internal/transport"
)

// Inline builds an inline keyboard row by row.
type Inline struct {
	rows [][]transport.Button
}

func NewInline() *Inline { return &Inline{} }

// Row appends a new row of buttons.
func (i *Inline) Row(btn ...transport.Button) *Inline {
	if len(btn) > 0 {
		i.rows = append(i.rows, btn)
	}
	return i
}

// Rows returns the accumulated keyboard.
func (i *Inline) Rows() [][]transport.Button { return i.rows }

// Btn creates a callback button with raw callback_data (not encoded here).
// Use the callback helpers to build "ns:action:payload" safely.
func Btn(text, data string) transport.Button {
	return transport.Button{Text: text, Data: data}
}

// Grid splits buttons into rows of at most cols columns.
func Grid(cols int, buttons []transport.Button) [][]transport.Button {
	if cols <= 0 {
		cols = 1
	}
	var rows [][]transport.Button
	for len(buttons) > 0 {
		n := min(cols, len(buttons))
		rows = append(rows, buttons[:n])
		buttons = buttons[n:]
	}
	return rows
}
