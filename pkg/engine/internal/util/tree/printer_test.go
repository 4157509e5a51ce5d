package tree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSprint(t *testing.T) {
	root := NewNode("Root", "")
	a := root.AddChild("Query", "a", []Property{
		NewProperty("backend", false, "elasticsearch"),
		NewProperty("search_types", true, "hist", "metric"),
	})
	a.AddChild("Query", "c", nil)
	root.AddChild("Query", "b", nil)

	expected := `Root
├── Query #a backend=elasticsearch search_types=(hist, metric)
│   └── Query #c
└── Query #b
`
	require.Equal(t, expected, Sprint(root))
}
