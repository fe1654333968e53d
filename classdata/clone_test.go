package classdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type author struct {
	Name string
}

type book struct {
	Title  string
	Author *author
	Tags   []string
	Extra  map[string]int
}

func TestCloneIsDeep(t *testing.T) {
	original := &book{
		Title:  "Original",
		Author: &author{Name: "A"},
		Tags:   []string{"x", "y"},
		Extra:  map[string]int{"pages": 10},
	}

	copied := Clone(original, nil).(*book)
	copied.Title = "Changed"
	copied.Author.Name = "B"
	copied.Tags[0] = "z"
	copied.Extra["pages"] = 99

	assert.Equal(t, "Original", original.Title)
	assert.Equal(t, "A", original.Author.Name)
	assert.Equal(t, "x", original.Tags[0])
	assert.Equal(t, 10, original.Extra["pages"])
}

func TestSharedSubObjectsStaySharedWithinOneMemo(t *testing.T) {
	shared := &author{Name: "shared"}
	b1 := &book{Title: "one", Author: shared}
	b2 := &book{Title: "two", Author: shared}

	memo := NewMemo()
	c1 := Clone(b1, memo).(*book)
	c2 := Clone(b2, memo).(*book)

	require.NotSame(t, shared, c1.Author)
	assert.Same(t, c1.Author, c2.Author, "both copies must reference the same cloned author")

	c1.Author.Name = "renamed"
	assert.Equal(t, "renamed", c2.Author.Name)
	assert.Equal(t, "shared", shared.Name)
}

func TestSeparateMemosProduceIndependentClones(t *testing.T) {
	shared := &author{Name: "shared"}
	b := &book{Title: "one", Author: shared}

	c1 := Clone(b, NewMemo()).(*book)
	c2 := Clone(b, NewMemo()).(*book)
	assert.NotSame(t, c1.Author, c2.Author)
}

type node struct {
	Label string
	Next  *node
}

func TestCloneHandlesCycles(t *testing.T) {
	a := &node{Label: "a"}
	b := &node{Label: "b", Next: a}
	a.Next = b

	copied := Clone(a, nil).(*node)
	assert.Equal(t, "a", copied.Label)
	assert.Equal(t, "b", copied.Next.Label)
	assert.Same(t, copied, copied.Next.Next, "cycle must close on the clone, not the original")
	assert.NotSame(t, a, copied)
}

func TestCloneSharedSliceAndMap(t *testing.T) {
	tags := []string{"t1"}
	b1 := &book{Tags: tags}
	b2 := &book{Tags: tags}

	memo := NewMemo()
	c1 := Clone(b1, memo).(*book)
	c2 := Clone(b2, memo).(*book)

	c1.Tags[0] = "mutated"
	assert.Equal(t, "mutated", c2.Tags[0], "shared slice stays shared between copies")
	assert.Equal(t, "t1", tags[0])
}

func TestCloneNilAndScalars(t *testing.T) {
	assert.Nil(t, Clone(nil, nil))
	assert.Equal(t, 42, Clone(42, nil))
	assert.Equal(t, "s", Clone("s", nil))
	var p *book
	assert.Nil(t, Clone(p, nil).(*book))
}

func TestCloneInterfaceValues(t *testing.T) {
	m := map[string]interface{}{
		"author": &author{Name: "A"},
		"n":      3,
	}
	copied := Clone(m, nil).(map[string]interface{})
	copied["author"].(*author).Name = "B"
	assert.Equal(t, "A", m["author"].(*author).Name)
	assert.Equal(t, 3, copied["n"])
}
