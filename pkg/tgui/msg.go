package tgui

import (
	"context"
	"strings"

	"heraldbot/internal/transport"
)

// Message is a rendered UI payload: text plus send options. Handlers build
// one and send or edit it without repeating ParseMode/preview boilerplate.
type Message struct {
	Text string
	Opt  *transport.SendOptions
}

// Send delivers the message via the adapter.
func (m Message) Send(ctx context.Context, ad transport.Adapter, to transport.ChatTarget) (transport.MessageRef, error) {
	if m.Opt == nil {
		m.Opt = &transport.SendOptions{}
	}
	return ad.SendText(ctx, to, m.Text, m.Opt)
}

// Edit rewrites the message referred by ref in place.
func (m Message) Edit(ctx context.Context, ad transport.Adapter, ref transport.MessageRef) error {
	if m.Opt == nil {
		m.Opt = &transport.SendOptions{}
	}
	return ad.EditText(ctx, ref, m.Text, m.Opt)
}

// Builder assembles an HTML message line by line.
// Defaults: ParseMode=HTML, DisablePreview=true.
type Builder struct {
	keyboard [][]transport.Button
	lines    []string
}

func New() *Builder { return &Builder{} }

// Inline attaches an inline keyboard.
func (b *Builder) Inline(kb *Inline) *Builder {
	if kb == nil {
		b.keyboard = nil
		return b
	}
	b.keyboard = kb.Rows()
	return b
}

// Title adds a bold title line with an optional emoji prefix.
func (b *Builder) Title(emoji, title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	line := B(t).String()
	if e := strings.TrimSpace(emoji); e != "" {
		line = Esc(e).String() + " " + line
	}
	b.lines = append(b.lines, line)
	return b
}

// Line adds a single escaped line.
func (b *Builder) Line(s string) *Builder {
	if strings.TrimSpace(s) == "" {
		b.lines = append(b.lines, "")
		return b
	}
	b.lines = append(b.lines, Esc(s).String())
	return b
}

// Blank inserts an empty line.
func (b *Builder) Blank() *Builder { return b.Line("") }

// Bullets adds bullet lines.
func (b *Builder) Bullets(items ...string) *Builder {
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		b.lines = append(b.lines, "• "+Esc(it).String())
	}
	return b
}

// KV adds a "key: value" row with a bold key.
func (b *Builder) KV(key, value string) *Builder {
	key = strings.TrimSpace(key)
	if key == "" {
		return b
	}
	b.lines = append(b.lines, "• "+B(key).String()+": "+Esc(strings.TrimSpace(value)).String())
	return b
}

// Build renders the message.
func (b *Builder) Build() Message {
	return Message{
		Text: strings.Join(b.lines, "\n"),
		Opt: &transport.SendOptions{
			ParseMode:      "HTML",
			DisablePreview: true,
			Keyboard:       b.keyboard,
		},
	}
}
