package docgrapher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractReferences_FindsHeadingClassNames(t *testing.T) {
	md := []byte("# Overview\n\n## Parser\n\nSome text about the Parser type.\n")
	refs := ExtractReferences(md)

	var names []string
	for _, r := range refs {
		names = append(names, r.Name)
	}
	assert.Contains(t, names, "Overview")
	assert.Contains(t, names, "Parser")
}

func TestExtractReferences_FindsCodeSpanFunctionCalls(t *testing.T) {
	md := []byte("Call `parse(path)` to build the tree, then `render()`.\n")
	refs := ExtractReferences(md)

	found := map[string]EntityKind{}
	for _, r := range refs {
		found[r.Name] = r.Kind
	}
	assert.Equal(t, EntityKindFunction, found["parse"])
	assert.Equal(t, EntityKindFunction, found["render"])
}

func TestExtractReferences_IgnoresLowercaseProseHeadings(t *testing.T) {
	md := []byte("## getting started\n")
	refs := ExtractReferences(md)
	assert.Empty(t, refs)
}
