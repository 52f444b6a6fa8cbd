package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const s3Prefix = "s3://"

// StatFunc reports whether a local path exists. Injected so tests can avoid
// touching the real filesystem.
type StatFunc func(path string) bool

// OSStat is the default StatFunc backed by os.Stat.
func OSStat(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ResolveFileLocations rewrites every file_location in the document against
// the storage rules and returns non-fatal warnings for local files that do
// not exist:
//
//   - s3:// URIs pass through untouched and are never stat'ed
//   - absolute paths pass through
//   - relative paths resolve against the grandparent directory of the
//     import path (the dataset-root convention)
//
// The walk mutates the document in place; import proceeds regardless of
// warnings.
func ResolveFileLocations(doc *Document, importPath string, stat StatFunc) []string {
	if stat == nil {
		stat = OSStat
	}
	datasetRoot := filepath.Dir(filepath.Dir(importPath))
	var warnings []string
	for _, projectName := range doc.ProjectNames() {
		project := doc.Projects[projectName]
		for _, experimentName := range sortedKeys(project.Experiments) {
			experiment := project.Experiments[experimentName]
			for _, scanName := range sortedKeys(experiment.Scans) {
				scan := experiment.Scans[scanName]
				for _, number := range sortedFrameNumbers(scan.Frames) {
					frame := scan.Frames[number]
					resolved, warning := resolveLocation(frame.FileLocation, datasetRoot, stat)
					if warning != "" {
						warnings = append(warnings, warning)
					}
					frame.FileLocation = resolved
					scan.Frames[number] = frame
				}
				experiment.Scans[scanName] = scan
			}
			project.Experiments[experimentName] = experiment
		}
		doc.Projects[projectName] = project
	}
	return warnings
}

func resolveLocation(value, datasetRoot string, stat StatFunc) (resolved, warning string) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || strings.HasPrefix(trimmed, s3Prefix) {
		return trimmed, ""
	}
	path := trimmed
	if !filepath.IsAbs(path) {
		path = filepath.Join(datasetRoot, path)
	}
	if !stat(path) {
		warning = fmt.Sprintf("File not found: %s", path)
	}
	return path, warning
}
