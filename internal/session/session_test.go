package session

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppendContextAccumulates(t *testing.T) {
	s := &Session{}

	s.AppendContext("first fragment")
	s.AppendContext("second fragment")

	assert.Equal(t, "first fragment\n\nsecond fragment", s.Context())
}

func TestAppendContextSkipsEmpty(t *testing.T) {
	s := &Session{}

	s.AppendContext("")
	assert.Equal(t, "", s.Context())

	s.AppendContext("fragment")
	s.AppendContext("")
	assert.Equal(t, "fragment", s.Context())
}

func TestAppendContextRespectsCap(t *testing.T) {
	s := &Session{maxContextBytes: 20}

	s.AppendContext("0123456789")
	assert.Equal(t, "0123456789", s.Context())

	// Would exceed the cap with the separator, so it is dropped.
	s.AppendContext("0123456789")
	assert.Equal(t, "0123456789", s.Context())

	s.AppendContext("01234567")
	assert.Equal(t, "0123456789\n\n01234567", s.Context())
}

func TestMaterialize(t *testing.T) {
	s := &Session{}

	assert.Equal(t, "base prompt", s.Materialize("base prompt"))

	s.AppendContext("ctx")
	assert.Equal(t, "base prompt\n\nctx", s.Materialize("base prompt"))
}

func TestMaterializedContextIsMonotone(t *testing.T) {
	s := &Session{}
	prev := s.Materialize("base")

	for _, frag := range []string{"a", "", "b", "c", ""} {
		s.AppendContext(frag)
		cur := s.Materialize("base")
		assert.True(t, strings.HasPrefix(cur, prev), "materialized context must extend, never rewrite")
		prev = cur
	}
}

func TestAppendTurnRecordsHistory(t *testing.T) {
	s := &Session{}
	s.AppendTurn("what is a list?", "a sequence of nodes")
	s.AppendTurn("and a stack?", "LIFO structure")

	h := s.History()
	assert.Len(t, h, 4)
	assert.Equal(t, "user", h[0].Role)
	assert.Equal(t, "assistant", h[1].Role)
	assert.Equal(t, "and a stack?", h[2].Content)
}

func TestMapReturnsSameSession(t *testing.T) {
	m := NewMap(0)
	a := m.Get("conv-1")
	b := m.Get("conv-1")
	c := m.Get("conv-2")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, m.Len())
}

func TestMapConcurrentGet(t *testing.T) {
	m := NewMap(0)

	var wg sync.WaitGroup
	sessions := make([]*Session, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i] = m.Get("shared")
		}(i)
	}
	wg.Wait()

	for i := 1; i < 32; i++ {
		assert.Same(t, sessions[0], sessions[i])
	}
}

func TestDoSerializesSameConversation(t *testing.T) {
	m := NewMap(0)
	s := m.Get("conv")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Do(func(s *Session) {
				s.AppendContext("x")
			})
		}()
	}
	wg.Wait()

	// 20 appends of one byte each, joined by blank lines.
	assert.Equal(t, 20*1+19*2, len(s.Context()))
}
