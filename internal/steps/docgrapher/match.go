package docgrapher

import (
	"context"

	"codestory.dev/ingest/internal/model"
	"codestory.dev/ingest/internal/store"
)

// SymbolIndex resolves candidate names from ExtractReferences against the
// graph's actually-ingested Class/Function/Method nodes, so a heading
// that merely looks like a type name (e.g. "Overview") but matches
// nothing in the repository is discarded rather than graphed as a false
// positive.
type SymbolIndex struct {
	classNames    map[string]bool
	functionNames map[string]bool
}

// LoadSymbolIndex queries every Class/Function/Method name under repoPath
// once, up front, so matching a document's references doesn't issue one
// query per candidate.
func LoadSymbolIndex(ctx context.Context, graph store.Store, repoPath string) (*SymbolIndex, error) {
	cypher := `
MATCH (r:` + model.LabelRepository + ` {path: $repo_path})-[:` + model.RelContains + `*]->(n)
WHERE any(l IN labels(n) WHERE l IN ['` + model.LabelClass + `', '` + model.LabelFunction + `', '` + model.LabelMethod + `'])
RETURN labels(n)[0] AS kind, n.name AS name, n.qualified_name AS qualified_name`

	records, err := graph.Execute(ctx, cypher, map[string]interface{}{"repo_path": repoPath}, false)
	if err != nil {
		return nil, model.New(model.KindGraphQueryError, "load symbol index for documentation matching", err)
	}

	idx := &SymbolIndex{classNames: map[string]bool{}, functionNames: map[string]bool{}}
	for _, rec := range records {
		name, _ := rec["name"].(string)
		kind, _ := rec["kind"].(string)
		if name == "" {
			continue
		}
		switch kind {
		case model.LabelClass:
			idx.classNames[name] = true
		case model.LabelFunction, model.LabelMethod:
			idx.functionNames[name] = true
		}
	}
	return idx, nil
}

// Match filters refs down to those naming a symbol the index actually
// knows about.
func (idx *SymbolIndex) Match(refs []Reference) []Reference {
	matched := make([]Reference, 0, len(refs))
	for _, ref := range refs {
		switch ref.Kind {
		case EntityKindClass:
			if idx.classNames[ref.Name] {
				matched = append(matched, ref)
			}
		case EntityKindFunction:
			if idx.functionNames[ref.Name] {
				matched = append(matched, ref)
			}
		}
	}
	return matched
}
