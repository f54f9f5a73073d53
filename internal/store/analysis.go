package store

import (
	"path"
	"strings"

	"loom/internal/logging"
)

// AnalysisStats summarizes one AnalyzeImports or AnalyzeCalls pass.
type AnalysisStats struct {
	RelationshipsAdded   int
	RelationshipsSkipped int
	UnresolvedTargets    int
}

// ImportEdge is one resolved or unresolved import discovered by a parser.
type ImportEdge struct {
	SourceEntityID int64
	ModuleName     string
	IsRelative     bool
	FilePath       string
	LineNumber     int
}

// AnalyzeImports resolves a batch of parsed import edges into
// "imports" relationships, or cross_file_refs when the target module
// isn't a known entity. It uses RelationshipExists first, matching the
// existence-check-before-insert pattern the original applies to
// imports/calls specifically (unlike the general-purpose AddRelationship,
// which never dedupes).
func (s *Store) AnalyzeImports(edges []ImportEdge, nameToID map[string]int64) (*AnalysisStats, error) {
	stats := &AnalysisStats{}

	for _, edge := range edges {
		targetName := resolveModuleName(edge.ModuleName, edge.FilePath, edge.IsRelative)
		targetID, ok := nameToID[targetName]
		if !ok {
			targetID, ok = nameToID[edge.ModuleName]
		}
		if !ok {
			if _, err := s.AddCrossFileRef(CrossFileRef{
				SourceEntityID: edge.SourceEntityID,
				TargetName:     edge.ModuleName,
				RefType:        "import",
				SourceFile:     edge.FilePath,
				LineNumber:     edge.LineNumber,
				Verifiable:     false,
				VerificationReason: "module not found among ingested entities",
			}); err != nil {
				return nil, err
			}
			stats.UnresolvedTargets++
			continue
		}

		exists, err := s.RelationshipExists(edge.SourceEntityID, targetID, "imports")
		if err != nil {
			return nil, err
		}
		if exists {
			stats.RelationshipsSkipped++
			continue
		}
		if _, err := s.AddRelationship(edge.SourceEntityID, targetID, "imports", nil); err != nil {
			return nil, err
		}
		stats.RelationshipsAdded++
	}

	logging.Analysis("import analysis: %d added, %d skipped, %d unresolved", stats.RelationshipsAdded, stats.RelationshipsSkipped, stats.UnresolvedTargets)
	return stats, nil
}

// CallEdge is one parsed call site: a source entity invoking a named
// callee, possibly qualified (e.g. "self.helper" or "pkg.Func").
type CallEdge struct {
	SourceEntityID int64
	CalleeName     string
	FilePath       string
	LineNumber     int
}

var builtinCallNames = map[string]bool{
	"print": true, "len": true, "range": true, "append": true, "make": true,
	"new": true, "panic": true, "recover": true, "int": true, "str": true,
	"dict": true, "list": true, "set": true, "type": true, "isinstance": true,
	"super": true, "open": true, "format": true,
}

// AnalyzeCalls resolves parsed call edges into "calls" relationships.
// Resolution tries a direct name lookup, then a lookup of the part after
// the last dot (so "self.helper" or "pkg.Func" resolve by their short
// name). No qualified lookup within the caller's own module is made;
// calls that resolve to nothing are only counted as unresolved.
func (s *Store) AnalyzeCalls(edges []CallEdge, nameToID map[string]int64) (*AnalysisStats, error) {
	stats := &AnalysisStats{}

	for _, edge := range edges {
		name := edge.CalleeName
		if builtinCallNames[strings.ToLower(name)] {
			continue
		}

		targetID, ok := nameToID[name]
		if !ok {
			if dot := strings.LastIndex(name, "."); dot >= 0 {
				targetID, ok = nameToID[name[dot+1:]]
			}
		}
		if !ok {
			stats.UnresolvedTargets++
			continue
		}
		if targetID == edge.SourceEntityID {
			continue
		}

		exists, err := s.RelationshipExists(edge.SourceEntityID, targetID, "calls")
		if err != nil {
			return nil, err
		}
		if exists {
			stats.RelationshipsSkipped++
			continue
		}
		if _, err := s.AddRelationship(edge.SourceEntityID, targetID, "calls", nil); err != nil {
			return nil, err
		}
		stats.RelationshipsAdded++
	}

	logging.Analysis("call analysis: %d added, %d skipped, %d unresolved", stats.RelationshipsAdded, stats.RelationshipsSkipped, stats.UnresolvedTargets)
	return stats, nil
}

// resolveModuleName turns a relative import ("./foo", "../bar") into a
// name relative to the importing file's directory, and leaves absolute
// module names untouched.
func resolveModuleName(moduleName, fromFile string, isRelative bool) string {
	if !isRelative {
		return moduleName
	}
	base := fromFile
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[:idx]
	} else {
		base = "."
	}
	return path.Join(base, moduleName)
}
