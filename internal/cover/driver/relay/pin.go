package relay

// SetPin is a single digital output line.
type SetPin interface {
	High() error
	Low() error
}

// FakePin records levels written to it, for tests and dry runs.
type FakePin struct {
	Levels []int
}

func (p *FakePin) High() error {
	p.Levels = append(p.Levels, 1)
	return nil
}

func (p *FakePin) Low() error {
	p.Levels = append(p.Levels, 0)
	return nil
}

// Last returns the most recently written level, or -1 if none.
func (p *FakePin) Last() int {
	if len(p.Levels) == 0 {
		return -1
	}
	return p.Levels[len(p.Levels)-1]
}
