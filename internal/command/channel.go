package command

import "sync"

// Channel is a fixed-capacity ring buffer of commands. Head and tail index
// the slots; the full flag tells a full buffer from an empty one when they
// meet. All operations are safe for concurrent use.
type Channel struct {
	mu     sync.Mutex
	slots  []Command
	head   int
	tail   int
	full   bool
	stored int
}

// NewChannel returns a Channel holding up to size commands.
// A non-positive size selects DefaultBufferSize.
func NewChannel(size int) *Channel {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Channel{slots: make([]Command, size)}
}

// Put appends text at the tail. A nil slice is NullInput; an empty,
// non-nil slice stores an empty command.
func (c *Channel) Put(text []byte) Status {
	if text == nil {
		return NullInput
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.full {
		return Full
	}
	c.slots[c.tail].Set(text)
	c.tail = (c.tail + 1) % len(c.slots)
	c.full = c.tail == c.head
	c.stored++
	return Success
}

// PutString is Put for string callers.
func (c *Channel) PutString(text string) Status {
	return c.Put([]byte(text))
}

// Get removes the head command into dst. On an empty channel dst is
// emptied and Empty is returned.
func (c *Channel) Get(dst *Command) Status {
	if dst == nil {
		return NullInput
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isEmpty() {
		dst.Reset()
		return Empty
	}
	*dst = c.slots[c.head]
	c.full = false
	c.head = (c.head + 1) % len(c.slots)
	c.stored--
	return Success
}

// Peek copies the head command into dst without removing it.
func (c *Channel) Peek(dst *Command) Status {
	if dst == nil {
		return NullInput
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isEmpty() {
		dst.Reset()
		return Empty
	}
	*dst = c.slots[c.head]
	return Success
}

func (c *Channel) isEmpty() bool {
	return !c.full && c.head == c.tail
}

// IsEmpty reports whether no command is stored.
func (c *Channel) IsEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isEmpty()
}

// IsFull reports whether Put would return Full.
func (c *Channel) IsFull() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.full
}

// Len returns the number of stored commands.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stored
}

// Cap returns the capacity in commands.
func (c *Channel) Cap() int {
	return len(c.slots)
}
