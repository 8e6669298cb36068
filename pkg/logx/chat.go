package logx

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// SendFunc delivers one log line to a chat. Implemented by the messaging
// gateway; logx stays transport-agnostic.
type SendFunc func(ctx context.Context, chatID int64, text string) error

const chatLineLimit = 3500

// chatWriter forwards warn+ events to a chat, rate limited so a log storm
// cannot flood the gateway. Lines are dropped, never queued.
type chatWriter struct {
	opts    ChatOptions
	min     zerolog.Level
	limiter *rate.Limiter
}

func newChatWriter(opts ChatOptions) *chatWriter {
	return &chatWriter{
		opts:    opts,
		min:     parseLevel(opts.Level, zerolog.WarnLevel),
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

func (w *chatWriter) Write(p []byte) (int, error) { return len(p), nil }

func (w *chatWriter) WriteLevel(lvl zerolog.Level, p []byte) (int, error) {
	if lvl < w.min || !w.limiter.Allow() {
		return len(p), nil
	}
	line := formatChatLine(p)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = w.opts.Sender(ctx, w.opts.ChatID, truncate(line, chatLineLimit))
	return len(p), nil
}

// formatChatLine renders the JSON event as "LEVEL message k=v ...".
func formatChatLine(p []byte) string {
	var ev map[string]any
	if err := json.Unmarshal(p, &ev); err != nil {
		return truncate(string(p), chatLineLimit)
	}
	out := make([]byte, 0, 128)
	if lvl, ok := ev[zerolog.LevelFieldName].(string); ok {
		out = append(out, []byte("["+lvl+"] ")...)
	}
	if msg, ok := ev[zerolog.MessageFieldName].(string); ok {
		out = append(out, msg...)
	}
	keys := make([]string, 0, len(ev))
	for k := range ev {
		switch k {
		case zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.TimestampFieldName:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b, err := json.Marshal(ev[k])
		if err != nil {
			continue
		}
		out = append(out, ' ')
		out = append(out, k...)
		out = append(out, '=')
		out = append(out, b...)
	}
	return string(out)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
