package summarizer

import (
	"fmt"
	"path/filepath"
	"strings"

	"codestory.dev/ingest/internal/llm"
	"codestory.dev/ingest/internal/model"
)

// Target is everything prompt construction needs about one node being
// summarized: its kind-specific identity, the content and context
// extracted for it, and any summaries already produced for its
// dependencies, so a Module's summary can draw on the summaries of the
// symbols it contains.
type Target struct {
	NodeID          string
	Kind            string // Repository, Directory, Module, File, Class, Function, Method
	Name            string
	QualifiedName   string
	Path            string
	Content         string
	Context         []string
	DependencySpans []DependencySummary
}

// DependencySummary is one already-summarized dependency fed back into a
// parent's prompt, the mechanism that makes the bottom-up order matter:
// a Module's summary is written with its Functions' summaries in hand.
type DependencySummary struct {
	Name string
	Text string
}

// configFileExtension is the dispatch key BuildChatRequest uses for a
// File node recognized as configuration by isConfigFile.
const configFileExtension = "File.config"

var systemPrompts = map[string]string{
	"Repository": "You are summarizing an entire code repository for a code knowledge graph, given its README (if any), its directory/file counts, and its top-level layout. Identify the repository's overall purpose, its primary components, and how a newcomer should navigate it. Write a concise, technical 3-5 paragraph summary explaining WHAT the repository does, WHY it exists, and HOW its parts fit together.",
	"Directory": "You are summarizing a directory for a code knowledge graph, given the summaries already produced for the files and subdirectories it contains. Identify the directory's role within the repository and how its contents relate to each other. Write a concise, technical 3-5 paragraph summary explaining WHAT the directory contains, WHY it is organized this way, and HOW its contents work together.",
	"Module":    "You are summarizing a source module for a code knowledge graph, given the summaries already produced for the symbols it defines. Identify the module's overall purpose and how its symbols fit together. Write a concise, technical 3-5 paragraph summary explaining WHAT the module provides, WHY it exists, and HOW its symbols work together.",
	"File":      "You are summarizing a source file for a code knowledge graph. Identify what the file implements and its role in the repository. Write a concise, technical 3-5 paragraph summary explaining WHAT the code does, WHY it exists, and HOW it accomplishes its purpose.",
	configFileExtension: "You are summarizing a configuration file for a code knowledge graph. Identify the key settings it controls, how those settings affect the system's behavior, and any security-relevant configuration choices. Write a concise, technical 3-5 paragraph summary explaining WHAT the configuration controls, WHY those settings matter, and HOW they affect the running system.",
	"Class":    "You are summarizing a single class definition for a code knowledge graph. Identify its responsibility, its key fields or state, and its relationship to the classes or interfaces it extends. Write a concise, technical 3-5 paragraph summary explaining WHAT the class does, WHY it exists, and HOW it accomplishes its purpose within the class.",
	"Function": "You are summarizing a single function for a code knowledge graph. Identify its inputs, its behavior, and any side effects. Write a concise, technical 3-5 paragraph summary explaining WHAT the function does, WHY it exists, and HOW it accomplishes its purpose.",
	"Method":   "You are summarizing a single method on a class for a code knowledge graph. Identify its behavior and how it uses or mutates the owning class's state. Write a concise, technical 3-5 paragraph summary explaining WHAT the method does, WHY it exists, and HOW it accomplishes its purpose within the class.",
}

// configFileExtensions and configFileNameHints are the Open Question (d)
// heuristic for recognizing a configuration file, grounded on
// prompts/file_node.py's is_config_file.
var configFileExtensions = map[string]bool{
	"json": true, "yaml": true, "yml": true, "toml": true, "ini": true,
	"conf": true, "config": true, "properties": true, "env": true,
	"cfg": true, "rc": true, "xml": true,
}

var configFileNameHints = []string{
	"config", "configuration", "settings", "setup", "options", ".env",
	"dockerfile", "docker-compose", "package.json", "tsconfig", "webpack",
	"babel", "jest", "eslint", "prettier", "pyproject.toml",
	"requirements.txt", "setup.py", "pom.xml", "gradle", "makefile", "cmake",
}

// isConfigFile reports whether path looks like configuration rather than
// program source, by extension or by filename substring.
func isConfigFile(path string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if configFileExtensions[ext] {
		return true
	}
	name := strings.ToLower(filepath.Base(path))
	for _, hint := range configFileNameHints {
		if strings.Contains(name, hint) {
			return true
		}
	}
	return false
}

// systemPromptFor picks t's system prompt, routing File nodes recognized
// as configuration to the config-file variant (spec §4.7.4).
func systemPromptFor(t Target) string {
	if t.Kind == model.LabelFile && isConfigFile(t.Path) {
		return systemPrompts[configFileExtension]
	}
	if system, ok := systemPrompts[t.Kind]; ok {
		return system
	}
	return systemPrompts["File"]
}

// BuildChatRequest specializes the chat request by the target's node
// kind, per spec §4.7's "prompt specialization by node kind" requirement.
func BuildChatRequest(model string, t Target) llm.ChatRequest {
	system := systemPromptFor(t)

	var body strings.Builder
	fmt.Fprintf(&body, "Name: %s\n", t.Name)
	if t.QualifiedName != "" {
		fmt.Fprintf(&body, "Qualified name: %s\n", t.QualifiedName)
	}
	if t.Path != "" {
		fmt.Fprintf(&body, "Path: %s\n", t.Path)
	}

	if len(t.Context) > 0 {
		body.WriteString("\nInformation:\n")
		for _, line := range t.Context {
			fmt.Fprintf(&body, "- %s\n", line)
		}
	}

	if len(t.DependencySpans) > 0 {
		body.WriteString("\nSummaries of contained symbols:\n")
		for _, dep := range t.DependencySpans {
			fmt.Fprintf(&body, "- %s: %s\n", dep.Name, dep.Text)
		}
	}

	if t.Content != "" {
		body.WriteString("\nSource:\n```\n")
		body.WriteString(t.Content)
		body.WriteString("\n```\n")
	}

	temp := 0.2
	return llm.ChatRequest{
		Model: model,
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: body.String()},
		},
		Temperature: &temp,
		MaxTokens:   512,
	}
}
