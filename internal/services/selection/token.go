package selection

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"time"
)

// ErrBadToken rejects malformed, truncated or foreign callback payloads.
var ErrBadToken = errors.New("selection: bad token")

const tokenVersion = 0x01

// Raw payload sizes. A token's shape is implied by its length; all
// three forms start with the version byte and the window bounds as
// big-endian unix seconds.
const (
	lenWindow = 1 + 2*8       // version, start, end
	lenDate   = lenWindow + 8 // + chosen day
	lenHour   = lenDate + 1   // + chosen hour
)

// token is the flow context carried inside callback data, so no state
// lives server-side between steps. Day and Hour are only meaningful for
// the forms that encode them.
type token struct {
	Start time.Time
	End   time.Time
	Day   time.Time
	Hour  int
}

func (t token) encodeWindow() string { return t.encode(lenWindow) }
func (t token) encodeDate() string   { return t.encode(lenDate) }
func (t token) encodeHour() string   { return t.encode(lenHour) }

func (t token) encode(size int) string {
	b := make([]byte, 1, size)
	b[0] = tokenVersion
	b = binary.BigEndian.AppendUint64(b, uint64(t.Start.Unix()))
	b = binary.BigEndian.AppendUint64(b, uint64(t.End.Unix()))
	if size >= lenDate {
		b = binary.BigEndian.AppendUint64(b, uint64(t.Day.Unix()))
	}
	if size >= lenHour {
		b = append(b, byte(t.Hour))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeWindow(s string) (token, error) { return decode(s, lenWindow) }
func decodeDate(s string) (token, error)   { return decode(s, lenDate) }
func decodeHour(s string) (token, error)   { return decode(s, lenHour) }

func decode(s string, size int) (token, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil || len(raw) != size || raw[0] != tokenVersion {
		return token{}, ErrBadToken
	}
	t := token{
		Start: unixField(raw, 1),
		End:   unixField(raw, 9),
	}
	if size >= lenDate {
		t.Day = unixField(raw, 17)
	}
	if size >= lenHour {
		t.Hour = int(raw[25])
	}
	return t, nil
}

func unixField(raw []byte, off int) time.Time {
	return time.Unix(int64(binary.BigEndian.Uint64(raw[off:])), 0).UTC()
}
