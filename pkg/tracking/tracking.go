// Package tracking defines fixed-layout payloads stored on typed timelines:
// 4x4 tracking matrices and short log messages.
package tracking

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/jittakal/kaftimeline/pkg/timeline"
)

// Matrix is a row-major 4x4 homogeneous transform.
type Matrix [16]float64

// Identity returns the identity transform.
func Identity() Matrix {
	return Matrix{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Translation returns a transform that moves by (x, y, z).
func Translation(x, y, z float64) Matrix {
	m := Identity()
	m[3], m[7], m[11] = x, y, z
	return m
}

// At returns the element at row r, column c.
func (m Matrix) At(r, c int) float64 {
	return m[r*4+c]
}

// Lerp interpolates component-wise between a and b. t is clamped to [0, 1].
func Lerp(a, b Matrix, t float64) Matrix {
	switch {
	case t <= 0:
		return a
	case t >= 1:
		return b
	}
	var out Matrix
	for i := range out {
		out[i] = a[i] + (b[i]-a[i])*t
	}
	return out
}

// Interpolate estimates the matrix at ts from the nearest samples on either
// side. An exact hit, or a query outside the stored range, returns the
// nearest sample unchanged.
func Interpolate(g *timeline.Generic[Matrix], ts timeline.Timestamp) (Matrix, error) {
	before, after, err := g.Bracket(ts)
	if err != nil {
		return Matrix{}, err
	}
	switch {
	case before == nil:
		return after.Value, nil
	case after == nil:
		return before.Value, nil
	case after.Timestamp == before.Timestamp:
		return before.Value, nil
	}
	t := float64(ts-before.Timestamp) / float64(after.Timestamp-before.Timestamp)
	return Lerp(before.Value, after.Value, t), nil
}

// MessageSize is the capacity of a Message text in bytes.
const MessageSize = 256

// ErrMessageTooLong is returned by NewMessage for text over MessageSize bytes.
var ErrMessageTooLong = errors.New("message exceeds fixed size")

// Level classifies a Message.
type Level int32

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// ParseLevel parses "info", "warning" or "error".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarning, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown message level: %q", s)
	}
}

// Message is a fixed-size text record. Text is NUL padded.
type Message struct {
	Level Level
	Text  [MessageSize]byte
}

// NewMessage builds a Message from text.
func NewMessage(level Level, text string) (Message, error) {
	if len(text) > MessageSize {
		return Message{}, fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLong, len(text), MessageSize)
	}
	m := Message{Level: level}
	copy(m.Text[:], text)
	return m, nil
}

// String returns the text without padding.
func (m Message) String() string {
	if i := bytes.IndexByte(m.Text[:], 0); i >= 0 {
		return string(m.Text[:i])
	}
	return string(m.Text[:])
}
