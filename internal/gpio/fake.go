package gpio

import (
	"context"
	"sync"
	"time"
)

// FakeOutput is a test double that records every level driven onto it.
type FakeOutput struct {
	mu sync.Mutex

	// Levels contains every value passed to SetValue, in order.
	Levels []int

	// OnSet, if set, is called after each SetValue with the new level.
	// Tests use it to sample other lines on clock edges.
	OnSet func(v int)

	// SetError, if set, will be returned by SetValue.
	SetError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeOutput creates a FakeOutput.
func NewFakeOutput() *FakeOutput {
	return &FakeOutput{}
}

// SetValue records the level.
func (f *FakeOutput) SetValue(v int) error {
	f.mu.Lock()
	if f.SetError != nil {
		err := f.SetError
		f.mu.Unlock()
		return err
	}
	f.Levels = append(f.Levels, v)
	hook := f.OnSet
	f.mu.Unlock()

	if hook != nil {
		hook(v)
	}
	return nil
}

// Pulses returns the number of rising edges driven so far.
func (f *FakeOutput) Pulses() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	prev := Low
	for _, v := range f.Levels {
		if prev == Low && v == High {
			n++
		}
		prev = v
	}
	return n
}

// Close marks the line as closed.
func (f *FakeOutput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// FakeData is a scripted bidirectional line.
type FakeData struct {
	mu  sync.Mutex
	dir Direction
	out int

	// Edges contains scripted results for WaitFallingEdge. Each call consumes
	// the next entry: nil means an edge arrived, any error is returned as is.
	Edges []error

	// Block makes WaitFallingEdge block until ctx is done once Edges is
	// exhausted. Otherwise an exhausted script times out immediately.
	Block bool

	// Bits contains scripted input levels. Each Value call consumes the next
	// entry; an exhausted script reads Low.
	Bits []int

	// Written contains every value driven while in output mode.
	Written []int

	// Switches counts direction changes.
	Switches int

	// ModeError, if set, will be returned by AsOutput and AsInput.
	ModeError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeData creates a FakeData in input mode.
func NewFakeData() *FakeData {
	return &FakeData{dir: Input}
}

// AsOutput switches to output mode.
func (f *FakeData) AsOutput(v int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ModeError != nil {
		return f.ModeError
	}
	f.dir = Output
	f.out = v
	f.Switches++
	return nil
}

// AsInput switches to input mode.
func (f *FakeData) AsInput() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ModeError != nil {
		return f.ModeError
	}
	f.dir = Input
	f.Switches++
	return nil
}

// Direction reports the current mode.
func (f *FakeData) Direction() Direction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dir
}

// Level returns the driven level in output mode, or -1 in input mode.
func (f *FakeData) Level() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dir != Output {
		return -1
	}
	return f.out
}

// SetValue records the driven level.
func (f *FakeData) SetValue(v int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dir != Output {
		return ErrNotOutput
	}
	f.out = v
	f.Written = append(f.Written, v)
	return nil
}

// Value returns the next scripted bit.
func (f *FakeData) Value() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dir != Input {
		return 0, ErrNotInput
	}
	if len(f.Bits) == 0 {
		return Low, nil
	}
	v := f.Bits[0]
	f.Bits = f.Bits[1:]
	return v, nil
}

// WaitFallingEdge returns the next scripted edge result.
func (f *FakeData) WaitFallingEdge(ctx context.Context, timeout time.Duration) error {
	f.mu.Lock()
	if f.dir != Input {
		f.mu.Unlock()
		return ErrNotInput
	}
	if len(f.Edges) > 0 {
		err := f.Edges[0]
		f.Edges = f.Edges[1:]
		f.mu.Unlock()
		return err
	}
	block := f.Block
	f.mu.Unlock()

	if !block {
		return ErrEdgeTimeout
	}
	<-ctx.Done()
	return ctx.Err()
}

// PushSample scripts one conversion: a data-ready edge followed by the 24
// bits of v, MSB first.
func (f *FakeData) PushSample(v int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Edges = append(f.Edges, nil)
	u := uint32(v) & 0xFFFFFF
	for i := 23; i >= 0; i-- {
		f.Bits = append(f.Bits, int(u>>uint(i))&1)
	}
}

// Close marks the line as closed.
func (f *FakeData) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}
