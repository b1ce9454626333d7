package builtin

import (
	"fmt"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
)

const maxDiffOutputSize = 50_000

// unifiedDiff renders a unified diff between old and new content, truncating
// at a character boundary if it grows past maxDiffOutputSize.
func unifiedDiff(path, old, new string) string {
	edits := myers.ComputeEdits(span.URIFromPath(path), old, new)
	diff := fmt.Sprint(gotextdiff.ToUnified(path, path, old, edits))
	if len(diff) > maxDiffOutputSize {
		runes := []rune(diff)
		cut := maxDiffOutputSize
		if cut > len(runes) {
			cut = len(runes)
		}
		diff = string(runes[:cut]) + "\n\n[Diff truncated]"
	}
	return diff
}
