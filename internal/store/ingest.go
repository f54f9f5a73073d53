package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"loom/internal/logging"
	"loom/internal/parser"
)

// defaultExcludePatterns are directory/file name fragments skipped during
// ingestion unless IngestOptions.ExcludePatterns is non-empty, which
// replaces them: the reference implementation's ignore list plus .loom,
// dist, build and target.
var defaultExcludePatterns = []string{
	".git", "__pycache__", "node_modules", ".venv", "venv",
	".loom", "dist", "build", "target",
}

// IngestOptions configures one IngestPaths call.
type IngestOptions struct {
	ExcludePatterns []string
	Concurrency     int
}

// IngestStats summarizes one ingestion pass.
type IngestStats struct {
	FilesScanned       int
	FilesIngested       int
	FilesSkipped        int
	EntitiesAdded       int
	ImportsAnalyzed     AnalysisStats
	CallsAnalyzed       AnalysisStats
	Errors              []string
}

type parsedFile struct {
	path   string
	result *parser.Result
}

// IngestPaths walks paths, parses every file with a registered parser,
// stores the resulting entities, and then resolves imports and calls
// into relationships across the whole batch (cross-file resolution
// needs every file's entities recorded first, which is why analysis
// runs after the parse-and-store fan-out rather than per file).
func (s *Store) IngestPaths(ctx context.Context, reg *parser.Registry, paths []string, opts IngestOptions) (*IngestStats, error) {
	excludes := opts.ExcludePatterns
	if len(excludes) == 0 {
		excludes = defaultExcludePatterns
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}

	runID, err := s.StartIngestRun(paths)
	if err != nil {
		return nil, err
	}

	files := s.collectFiles(reg, paths, excludes)
	stats := &IngestStats{FilesScanned: len(files)}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)

	var mu sync.Mutex
	var parsed []parsedFile

	for _, f := range files {
		f := f
		group.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			p, ok := reg.For(f)
			if !ok {
				return nil
			}
			content, err := os.ReadFile(f)
			if err != nil {
				mu.Lock()
				stats.Errors = append(stats.Errors, f+": "+err.Error())
				stats.FilesSkipped++
				mu.Unlock()
				return nil
			}
			result, err := p.Parse(f, content)
			if err != nil {
				mu.Lock()
				stats.Errors = append(stats.Errors, f+": "+err.Error())
				stats.FilesSkipped++
				mu.Unlock()
				return nil
			}
			mu.Lock()
			parsed = append(parsed, parsedFile{path: f, result: result})
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		s.EndIngestRun(runID, map[string]any{"error": err.Error()}, "failed")
		return nil, err
	}

	nameToID := map[string]int64{}
	var imports []ImportEdge
	var callEdges []CallEdge

	for _, pf := range parsed {
		entityIDByLocalName := map[string]int64{}
		for _, e := range pf.result.Entities {
			id, err := s.AddEntity(EntityInput{Name: e.Name, Kind: e.Kind, Code: e.Code, Intent: e.Intent})
			if err != nil {
				stats.Errors = append(stats.Errors, pf.path+": "+err.Error())
				continue
			}
			if err := s.TrackEntityFile(id, pf.path); err != nil {
				stats.Errors = append(stats.Errors, pf.path+": "+err.Error())
			}
			nameToID[e.Name] = id
			entityIDByLocalName[e.Name] = id
			stats.EntitiesAdded++
		}
		stats.FilesIngested++

		moduleID, hasModule := entityIDByLocalName[moduleNameFromPath(pf.path)]
		for _, imp := range pf.result.Imports {
			sourceID := moduleID
			if !hasModule {
				continue
			}
			imports = append(imports, ImportEdge{
				SourceEntityID: sourceID,
				ModuleName:     imp.ModuleName,
				IsRelative:     imp.IsRelative,
				FilePath:       pf.path,
				LineNumber:     imp.LineNumber,
			})
		}

		for _, call := range pf.result.Calls {
			callerID, ok := entityIDByLocalName[call.CallerName]
			if !ok {
				continue
			}
			callEdges = append(callEdges, CallEdge{
				SourceEntityID: callerID,
				CalleeName:     call.CalleeName,
				FilePath:       pf.path,
				LineNumber:     call.LineNumber,
			})
		}

		info, err := os.Stat(pf.path)
		if err == nil {
			mtime := float64(info.ModTime().UnixNano()) / 1e9
			if err := s.TrackFile(pf.path, mtime, info.Size(), runID); err != nil {
				stats.Errors = append(stats.Errors, pf.path+": "+err.Error())
			}
		}
	}

	importStats, err := s.AnalyzeImports(imports, nameToID)
	if err != nil {
		return nil, err
	}
	stats.ImportsAnalyzed = *importStats

	callStats, err := s.AnalyzeCalls(callEdges, nameToID)
	if err != nil {
		return nil, err
	}
	stats.CallsAnalyzed = *callStats

	finalStats := map[string]any{
		"files_ingested":  stats.FilesIngested,
		"entities_added":  stats.EntitiesAdded,
		"imports_added":   importStats.RelationshipsAdded,
		"calls_added":     callStats.RelationshipsAdded,
	}
	if err := s.EndIngestRun(runID, finalStats, "completed"); err != nil {
		return nil, err
	}

	logging.Ingest("ingest run %s: %d files, %d entities, %d imports, %d calls", runID, stats.FilesIngested, stats.EntitiesAdded, importStats.RelationshipsAdded, callStats.RelationshipsAdded)
	return stats, nil
}

func (s *Store) collectFiles(reg *parser.Registry, paths []string, excludes []string) []string {
	var files []string
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			if _, ok := reg.For(root); ok {
				files = append(files, root)
			}
			continue
		}
		filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			if info.IsDir() {
				if isExcluded(path, excludes) {
					return filepath.SkipDir
				}
				return nil
			}
			if isExcluded(path, excludes) {
				return nil
			}
			if _, ok := reg.For(path); ok {
				files = append(files, path)
			}
			return nil
		})
	}
	return files
}

// moduleNameFromPath returns the bare module name tree-sitter parsing
// attributes import/call edges to: the file's base name without its
// extension, matching the convention the Python parser uses for its
// synthetic module entity.
func moduleNameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(strings.TrimSuffix(base, ".py"), ".pyw")
}

func isExcluded(path string, patterns []string) bool {
	base := filepath.Base(path)
	for _, p := range patterns {
		if base == p || strings.Contains(path, "/"+p+"/") || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
