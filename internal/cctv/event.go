package cctv

import (
	"errors"
	"fmt"
	"strings"
)

type Direction string

const (
	In  Direction = "in"
	Out Direction = "out"
)

var ErrMalformedEvent = errors.New("malformed cctv event")

// Event is one login or logout reported by the surveillance server.
type Event struct {
	Name      string
	Direction Direction
}

// ParseEvent reads payloads shaped like "<name> ... <in|out>". The name is
// lowercased; the direction is the last token.
func ParseEvent(payload []byte) (Event, error) {
	fields := strings.Fields(string(payload))
	if len(fields) < 2 {
		return Event{}, fmt.Errorf("%w: %q", ErrMalformedEvent, payload)
	}
	direction := Direction(strings.ToLower(fields[len(fields)-1]))
	if direction != In && direction != Out {
		return Event{}, fmt.Errorf("%w: unknown direction %q", ErrMalformedEvent, direction)
	}
	return Event{Name: strings.ToLower(fields[0]), Direction: direction}, nil
}
