//go:build !linux

package relay

import (
	"github.com/pkg/errors"
)

// GpiochipPin requires the Linux GPIO character device.
type GpiochipPin struct{}

func NewGpiochipPin(chip string, offset int, initial int) (*GpiochipPin, error) {
	return nil, errors.New("gpiochip pins are only available on linux")
}

func (p *GpiochipPin) High() error  { return errors.New("gpiochip pins are only available on linux") }
func (p *GpiochipPin) Low() error   { return errors.New("gpiochip pins are only available on linux") }
func (p *GpiochipPin) Close() error { return nil }
