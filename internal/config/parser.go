package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	autoflowerrors "github.com/alexisbeaulieu97/autoflow/pkg/errors"
)

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

// Bundle is every definition loaded for one run.
type Bundle struct {
	Project *Project
	Files   []*SuiteFile
}

// Suites returns every suite in load order.
func (b *Bundle) Suites() []Suite {
	var suites []Suite
	for _, f := range b.Files {
		suites = append(suites, f.TestSuites...)
	}
	return suites
}

// Functions returns the file-level functions shared by every suite.
func (b *Bundle) Functions() map[string]Function {
	out := make(map[string]Function)
	for _, f := range b.Files {
		for _, fn := range f.Functions {
			out[fn.Name] = fn
		}
	}
	return out
}

// GlobalSetup returns the single global setup block, if any.
func (b *Bundle) GlobalSetup() []Step {
	if b.Project != nil && len(b.Project.GlobalSetup) > 0 {
		return b.Project.GlobalSetup
	}
	for _, f := range b.Files {
		if len(f.GlobalSetup) > 0 {
			return f.GlobalSetup
		}
	}
	return nil
}

// GlobalCleanup returns the single global cleanup block, if any.
func (b *Bundle) GlobalCleanup() []Step {
	if b.Project != nil && len(b.Project.GlobalCleanup) > 0 {
		return b.Project.GlobalCleanup
	}
	for _, f := range b.Files {
		if len(f.GlobalCleanup) > 0 {
			return f.GlobalCleanup
		}
	}
	return nil
}

// LoadProject reads a project file. A missing file yields DefaultProject
// when allowMissing is set.
func LoadProject(path string, allowMissing bool) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if allowMissing && errors.Is(err, fs.ErrNotExist) {
			return DefaultProject(), nil
		}
		return nil, autoflowerrors.NewParseError(path, 0, err)
	}

	project := DefaultProject()
	if err := yaml.Unmarshal(data, project); err != nil {
		return nil, autoflowerrors.NewParseError(path, extractLine(err), err)
	}
	if project.Parallel == 0 {
		project.Parallel = DefaultParallel
	}
	project.assignFile(path)

	if err := ValidateProject(project); err != nil {
		return nil, err
	}
	return project, nil
}

// ParseSuiteFile reads one test-suite document.
func ParseSuiteFile(path string) (*SuiteFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, autoflowerrors.NewParseError(path, 0, err)
	}
	return ParseSuiteData(path, data)
}

// ParseSuiteData decodes a test-suite document held in memory.
func ParseSuiteData(path string, data []byte) (*SuiteFile, error) {
	var file SuiteFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, autoflowerrors.NewParseError(path, extractLine(err), err)
	}
	file.assignFile(path)
	return &file, nil
}

// SuiteFilePaths walks folders (or accepts single files) and returns every
// YAML document in lexical order. The project file is skipped.
func SuiteFilePaths(folders []string) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string
	add := func(path string) {
		if filepath.Base(path) == ProjectFileName || seen[path] {
			return
		}
		seen[path] = true
		paths = append(paths, path)
	}

	for _, root := range folders {
		info, err := os.Stat(root)
		if err != nil {
			return nil, autoflowerrors.NewParseError(root, 0, err)
		}
		if !info.IsDir() {
			add(root)
			continue
		}

		var found []string
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				return nil
			}
			if isYAML(path) {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, autoflowerrors.NewParseError(root, 0, err)
		}
		sort.Strings(found)
		for _, path := range found {
			add(path)
		}
	}
	return paths, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load parses every test-suite document under folders and validates the
// resulting bundle.
func Load(project *Project, folders []string) (*Bundle, error) {
	if project == nil {
		project = DefaultProject()
	}

	paths, err := SuiteFilePaths(folders)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, autoflowerrors.NewValidationError("test-suites", fmt.Sprintf("no test-suite files found in %s", strings.Join(folders, ", ")), nil)
	}

	bundle := &Bundle{Project: project}
	for _, path := range paths {
		file, err := ParseSuiteFile(path)
		if err != nil {
			return nil, err
		}
		bundle.Files = append(bundle.Files, file)
	}

	if err := ValidateBundle(bundle); err != nil {
		return nil, err
	}
	return bundle, nil
}

func extractLine(err error) int {
	if err == nil {
		return 0
	}

	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0
	}

	var line int
	_, scanErr := fmt.Sscanf(matches[1], "%d", &line)
	if scanErr != nil {
		return 0
	}

	return line
}
