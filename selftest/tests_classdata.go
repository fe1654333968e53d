package selftest

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isotx/isotx/classdata"
)

type author struct {
	Name  string
	Notes []*note
}

type note struct {
	Body   string
	Author *author
}

func canonicalGraph() *author {
	a := &author{Name: "canonical"}
	n := &note{Body: "hello", Author: a}
	a.Notes = []*note{n}
	return a
}

func DoTestDataTests(t *T) {
	t.Run("each instance gets an independent deep copy", func(t *T) {
		d := classdata.New("author", canonicalGraph())

		inst1 := classdata.NewInstance()
		inst2 := classdata.NewInstance()

		a1 := d.Get(inst1).(*author)
		a1.Name = "mutated"
		a1.Notes[0].Body = "scribbled"

		a2 := d.Get(inst2).(*author)
		assert.Equal(t, "canonical", a2.Name)
		assert.Equal(t, "hello", a2.Notes[0].Body)
	})

	t.Run("copies are cached per instance", func(t *T) {
		d := classdata.New("author", canonicalGraph())
		inst := classdata.NewInstance()
		assert.Same(t, d.Get(inst), d.Get(inst))
	})

	t.Run("reference graphs survive the copy", func(t *T) {
		d := classdata.New("author", canonicalGraph())
		inst := classdata.NewInstance()

		a := d.Get(inst).(*author)
		require.Len(t, a.Notes, 1)
		assert.Same(t, a, a.Notes[0].Author, "the cycle back to the author is preserved")
	})

	t.Run("values shared between descriptors stay shared within one instance", func(t *T) {
		shared := canonicalGraph()
		dAuthor := classdata.New("author", shared)
		dNote := classdata.New("note", shared.Notes[0])
		inst := classdata.NewInstance()

		a := dAuthor.Get(inst).(*author)
		n := dNote.Get(inst).(*note)
		assert.Same(t, a.Notes[0], n, "one instance sees one copy of the shared note")
		assert.Same(t, a, n.Author)
	})

	t.Run("the canonical value never changes", func(t *T) {
		canonical := canonicalGraph()
		d := classdata.New("author", canonical)
		inst := classdata.NewInstance()

		d.Get(inst).(*author).Name = "mutated"
		assert.Equal(t, "canonical", canonical.Name)
	})
}
