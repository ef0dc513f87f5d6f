package summarizer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"codestory.dev/ingest/internal/model"
)

// binaryExtensions lists file suffixes the summarizer never attempts to
// read as source text. This is the Open Question (b) decision: binary
// detection is extension-based only, not a content sniff, since the
// filesystem step already records each File node's extension and a
// second read-and-sniff pass would double the I/O for every file in the
// repo.
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true,
	".ico": true, ".webp": true, ".tiff": true,
	".pdf": true, ".zip": true, ".tar": true, ".gz": true, ".bz2": true,
	".xz": true, ".7z": true, ".rar": true,
	".so": true, ".dll": true, ".dylib": true, ".a": true, ".o": true,
	".exe": true, ".bin": true, ".class": true, ".jar": true, ".wasm": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
	".mp3": true, ".mp4": true, ".mov": true, ".avi": true, ".wav": true,
	".db": true, ".sqlite": true, ".sqlite3": true,
	".doc": true, ".docx": true, ".xls": true, ".xlsx": true, ".ppt": true, ".pptx": true,
	".pyc": true, ".pyo": true, ".pyd": true,
}

// IsBinaryPath reports whether path's extension marks it as non-source
// content the summarizer should skip reading.
func IsBinaryPath(path string) bool {
	return binaryExtensions[strings.ToLower(filepath.Ext(path))]
}

// readmeFilenames are tried in order; the first one present in the repo
// root supplies the Repository node's README content (spec §4.7.3).
var readmeFilenames = []string{"README.md", "README.txt", "README", "readme.md"}

// charsPerToken approximates the model's tokenizer well enough to size a
// truncation bound: ~4 characters per token, the same rule of thumb the
// prompt templates use.
const charsPerToken = 4

// ContentStore extracts and caches file content for prompt construction.
// One ContentStore is shared across an entire summarizer run so that a
// file referenced by both a Function node and its enclosing Module node
// is read from disk only once.
type ContentStore struct {
	repoRoot string
	maxBytes int

	mu    sync.Mutex
	cache map[string]string
}

// NewContentStore builds a ContentStore rooted at repoRoot. File content
// is truncated at roughly maxTokensPerFile*4 characters (spec §4.7.3); a
// non-positive value falls back to DefaultMaxTokensPerFile.
func NewContentStore(repoRoot string, maxTokensPerFile int) *ContentStore {
	if maxTokensPerFile <= 0 {
		maxTokensPerFile = DefaultMaxTokensPerFile
	}
	return &ContentStore{
		repoRoot: repoRoot,
		maxBytes: maxTokensPerFile * charsPerToken,
		cache:    make(map[string]string),
	}
}

// Read returns relPath's content relative to the repo root, truncating
// oversized files and caching the result for subsequent callers.
func (c *ContentStore) Read(relPath string) (string, error) {
	c.mu.Lock()
	if cached, ok := c.cache[relPath]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(c.repoRoot, relPath))
	if err != nil {
		return "", err
	}

	text := string(data)
	if len(text) > c.maxBytes {
		text = text[:c.maxBytes] + "\n...[content truncated due to length]"
	}

	c.mu.Lock()
	c.cache[relPath] = text
	c.mu.Unlock()

	return text, nil
}

// Excerpt extracts the [startLine, endLine] span (1-indexed, inclusive)
// from relPath's content, for Class/Function/Method nodes whose source
// range is narrower than the whole file.
func (c *ContentStore) Excerpt(relPath string, startLine, endLine int) (string, error) {
	full, err := c.Read(relPath)
	if err != nil {
		return "", err
	}
	if startLine <= 0 || endLine <= 0 || full == "" {
		return full, nil
	}

	lines := strings.Split(full, "\n")
	if startLine > len(lines) {
		return "", nil
	}
	if endLine > len(lines) {
		endLine = len(lines)
	}
	return strings.Join(lines[startLine-1:endLine], "\n"), nil
}

// Build assembles the (content, context) pair for spec per spec §4.7.3,
// dispatching on node kind the way content_extractor.py's extract_content
// dispatches on NodeType. bySpec looks up spec's structural children
// (collected from DependsOn, which records "container depends on
// contents" edges) by id.
func (c *ContentStore) Build(spec NodeSpec, bySpec map[string]NodeSpec) (string, []string) {
	switch spec.Kind {
	case model.LabelRepository:
		return c.buildRepository(spec, bySpec)
	case model.LabelDirectory:
		return c.buildDirectory(spec, bySpec)
	case model.LabelFile:
		return c.buildFile(spec)
	case model.LabelClass:
		return c.buildClass(spec, bySpec)
	case model.LabelFunction, model.LabelMethod:
		return c.buildFunction(spec)
	default:
		// Module and anything else without a dedicated content shape:
		// fall back to the node's own source range, the same fallback
		// content_extractor.py's unhandled-type branch degrades to.
		return c.buildExcerpt(spec)
	}
}

func (c *ContentStore) buildRepository(spec NodeSpec, bySpec map[string]NodeSpec) (string, []string) {
	var topDirs []string
	for _, childID := range spec.DependsOn {
		if child, ok := bySpec[childID]; ok && child.Kind == model.LabelDirectory {
			topDirs = append(topDirs, child.Name)
		}
	}
	sort.Strings(topDirs)

	context := []string{
		fmt.Sprintf("Repository: %s", spec.Name),
		fmt.Sprintf("Path: %s", spec.Path),
		fmt.Sprintf("Contains %d directories and %d files", spec.DirCount, spec.FileCount),
	}
	if len(topDirs) > 0 {
		context = append(context, "Top-level directories: "+strings.Join(topDirs, ", "))
	}

	content := fmt.Sprintf("Repository: %s", spec.Name)
	if readme := c.readme(); readme != "" {
		content = readme
		context = append(context, "README contents included above")
	}
	return content, context
}

func (c *ContentStore) readme() string {
	for _, name := range readmeFilenames {
		data, err := os.ReadFile(filepath.Join(c.repoRoot, name))
		if err == nil {
			return string(data)
		}
	}
	return ""
}

func (c *ContentStore) buildDirectory(spec NodeSpec, bySpec map[string]NodeSpec) (string, []string) {
	var files, dirs []string
	for _, childID := range spec.DependsOn {
		child, ok := bySpec[childID]
		if !ok {
			continue
		}
		switch child.Kind {
		case model.LabelFile:
			files = append(files, child.Name)
		case model.LabelDirectory:
			dirs = append(dirs, child.Name)
		}
	}
	sort.Strings(files)
	sort.Strings(dirs)

	context := []string{
		fmt.Sprintf("Directory: %s", spec.Name),
		fmt.Sprintf("Path: %s", spec.Path),
		fmt.Sprintf("Contains %d files and %d subdirectories", len(files), len(dirs)),
	}
	if len(files) > 0 {
		context = append(context, "Files: "+strings.Join(files, ", "))
	}
	if len(dirs) > 0 {
		context = append(context, "Subdirectories: "+strings.Join(dirs, ", "))
	}

	return fmt.Sprintf("Directory: %s", spec.Path), context
}

func (c *ContentStore) buildFile(spec NodeSpec) (string, []string) {
	if IsBinaryPath(spec.Path) {
		ext := strings.TrimPrefix(filepath.Ext(spec.Path), ".")
		return fmt.Sprintf("Binary file: %s", spec.Path), []string{fmt.Sprintf("Binary file of type: %s", ext)}
	}

	text, err := c.Read(spec.Path)
	if err != nil {
		text = ""
	}
	return text, []string{
		fmt.Sprintf("File: %s", spec.Name),
		fmt.Sprintf("Path: %s", spec.Path),
	}
}

func (c *ContentStore) buildClass(spec NodeSpec, bySpec map[string]NodeSpec) (string, []string) {
	text, err := c.Excerpt(spec.Path, spec.StartLine, spec.EndLine)
	if err != nil {
		text = ""
	}

	var parents, methods []string
	for _, depID := range spec.DependsOn {
		dep, ok := bySpec[depID]
		if !ok {
			continue
		}
		switch dep.Kind {
		case model.LabelClass:
			parents = append(parents, displayName(dep))
		case model.LabelMethod:
			methods = append(methods, dep.Name)
		}
	}

	context := []string{
		fmt.Sprintf("Class: %s", displayName(spec)),
		fmt.Sprintf("Defined in file: %s", spec.Path),
	}
	if len(parents) > 0 {
		context = append(context, "Inherits from: "+strings.Join(parents, ", "))
	}
	if len(methods) > 0 {
		context = append(context, "Methods: "+strings.Join(methods, ", "))
	}

	if text == "" {
		text = fmt.Sprintf("Class: %s", displayName(spec))
	}
	return text, context
}

func (c *ContentStore) buildFunction(spec NodeSpec) (string, []string) {
	text, err := c.Excerpt(spec.Path, spec.StartLine, spec.EndLine)
	if err != nil {
		text = ""
	}

	label := "Function"
	if spec.Kind == model.LabelMethod {
		label = "Method"
	}
	context := []string{
		fmt.Sprintf("%s: %s", label, displayName(spec)),
		fmt.Sprintf("Defined in file: %s", spec.Path),
	}

	if text == "" {
		text = fmt.Sprintf("%s: %s", label, displayName(spec))
	}
	return text, context
}

func (c *ContentStore) buildExcerpt(spec NodeSpec) (string, []string) {
	if spec.Path == "" {
		return "", nil
	}
	text, err := c.Excerpt(spec.Path, spec.StartLine, spec.EndLine)
	if err != nil {
		return "", nil
	}
	return text, []string{fmt.Sprintf("Path: %s", spec.Path)}
}
