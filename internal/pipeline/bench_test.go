package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/archive"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/fsutil"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/plans"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/project"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/source"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/tokens"
)

func claudeHome(b *testing.B) string {
	b.Helper()
	homeDir, _ := os.UserHomeDir()
	dir := filepath.Join(homeDir, ".claude")
	if _, err := os.Stat(source.ProjectsDir(dir)); err != nil {
		b.Skip("no Claude data directory")
	}
	return dir
}

func BenchmarkRebuild(b *testing.B) {
	claudeDir := claudeHome(b)
	jobs, err := TranscriptJobs(claudeDir, true)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p := &Processor{
			Index:     archive.New(b.TempDir(), plans.DefaultOptions()),
			Resolver:  project.NewResolver(project.FileSidecar(source.ProjectsDir(claudeDir))),
			Estimator: tokens.New(tokens.EncodingNone, 4),
			Plans:     plans.DefaultOptions(),
			Retry:     fsutil.DefaultRetry(),
		}
		if _, err := p.Rebuild(context.Background(), jobs, RebuildOptions{}, nil); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkParseFile(b *testing.B) {
	claudeDir := claudeHome(b)
	files, err := source.ScanDir(claudeDir)
	if err != nil {
		b.Fatal(err)
	}

	// Find the largest file for worst-case benchmarking
	var biggest source.DiscoveredFile
	var biggestSize int64
	for _, f := range files {
		info, err := os.Stat(f.Path)
		if err != nil {
			continue
		}
		if info.Size() > biggestSize {
			biggestSize = info.Size()
			biggest = f
		}
	}

	b.Logf("Benchmarking largest file: %s (%.1f KB)", biggest.Path, float64(biggestSize)/1024)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		result := source.ParseFile(biggest.Path, fsutil.DefaultRetry())
		if result.Err != nil {
			b.Fatal(result.Err)
		}
	}
}

func BenchmarkScanDir(b *testing.B) {
	claudeDir := claudeHome(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := source.ScanDir(claudeDir); err != nil {
			b.Fatal(err)
		}
	}
}
