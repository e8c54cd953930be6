package service

import (
	"go/parser"
	"go/token"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// Core packages may depend on shared packages such as internal/metrics but
// never on the adapters that sit around them.
func TestCorePackages_DoNotImportAdapters(t *testing.T) {
	forbidden := []string{
		"github.com/99minutos/authstream/internal/api",
		"github.com/99minutos/authstream/internal/infrastructure",
		"github.com/99minutos/authstream/cmd",
	}

	for _, dir := range []string{".", "../domain", "../ports"} {
		files, err := filepath.Glob(filepath.Join(dir, "*.go"))
		if err != nil || len(files) == 0 {
			t.Fatalf("no go files in %s: %v", dir, err)
		}

		for _, file := range files {
			f, err := parser.ParseFile(token.NewFileSet(), file, nil, parser.ImportsOnly)
			if err != nil {
				t.Fatalf("parse %s: %v", file, err)
			}
			for _, imp := range f.Imports {
				path, _ := strconv.Unquote(imp.Path.Value)
				for _, prefix := range forbidden {
					if strings.HasPrefix(path, prefix) {
						t.Errorf("%s imports %s", file, path)
					}
				}
			}
		}
	}
}
