//go:build linux

package relay

import (
	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"
)

// GpiochipPin drives one SoC GPIO line through the Linux GPIO character
// device. Lines are requested as outputs at the given initial level so the
// kernel never glitches the relay during request.
type GpiochipPin struct {
	line *gpiocdev.Line
}

func NewGpiochipPin(chip string, offset int, initial int) (*GpiochipPin, error) {
	line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(initial))
	if err != nil {
		return nil, errors.Wrapf(err, "request line %d on %s", offset, chip)
	}
	return &GpiochipPin{line: line}, nil
}

func (p *GpiochipPin) High() error {
	return p.line.SetValue(1)
}

func (p *GpiochipPin) Low() error {
	return p.line.SetValue(0)
}

func (p *GpiochipPin) Close() error {
	return p.line.Close()
}
