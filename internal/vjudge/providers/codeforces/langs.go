package codeforces

import "vjudge/internal/vjudge/model"

var slashComment = model.CommentSyntax{"//"}

// languages maps programTypeId to the language offered by the submit form.
var languages = model.LanguageMapping{
	"43": {Display: "GNU GCC C11 5.1.0", Comment: slashComment, Monaco: "c", Highlight: "c"},
	"54": {Display: "GNU G++17 7.3.0", Comment: slashComment, Monaco: "cpp", Highlight: "cpp"},
	"89": {Display: "GNU G++20 13.2 (64 bit, winlibs)", Comment: slashComment, Monaco: "cpp", Highlight: "cpp"},
	"91": {Display: "GNU G++23 14.2 (64 bit, msys2)", Comment: slashComment, Monaco: "cpp", Highlight: "cpp"},
	"87": {Display: "Java 21 64bit", Comment: slashComment, Monaco: "java", Highlight: "java"},
	"31": {Display: "Python 3.8.10", Comment: model.CommentSyntax{"#"}, Monaco: "python", Highlight: "python"},
	"70": {Display: "PyPy 3.10 (7.3.15, 64bit)", Comment: model.CommentSyntax{"#"}, Monaco: "python", Highlight: "python"},
	"75": {Display: "Rust 1.75.0 (2021)", Comment: slashComment, Monaco: "rust", Highlight: "rust"},
	"32": {Display: "Go 1.22.2", Comment: slashComment, Monaco: "go", Highlight: "go"},
	"79": {Display: "C# 10, .NET SDK 6.0", Comment: slashComment, Monaco: "csharp", Highlight: "csharp"},
	"83": {Display: "Kotlin 1.7.20", Comment: slashComment, Monaco: "kotlin", Highlight: "kotlin"},
	"34": {Display: "JavaScript V8 4.8.0", Comment: slashComment, Monaco: "javascript", Highlight: "javascript"},
	"67": {Display: "Ruby 3.2.2", Comment: model.CommentSyntax{"#"}, Monaco: "ruby", Highlight: "ruby"},
	"4":  {Display: "Free Pascal 3.2.2", Comment: model.CommentSyntax{"{", "}"}, Monaco: "pascal", Highlight: "pascal"},
	"12": {Display: "Haskell GHC 8.10.1", Comment: model.CommentSyntax{"--"}, Monaco: "haskell", Highlight: "haskell"},
}

// Langs returns the fixed language table of the submit form.
func (p *Provider) Langs() model.LanguageMapping {
	out := make(model.LanguageMapping, len(languages))
	for k, v := range languages {
		out[k] = v
	}
	return out
}
