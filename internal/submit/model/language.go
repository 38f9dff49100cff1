package model

import mapset "github.com/deckarep/golang-set/v2"

// Languages accepted by the intake, mapped to the source file extension.
var languageExtensions = map[string]string{
	"cpp":    "cpp",
	"python": "py",
	"c":      "c",
	"java":   "java",
}

// SupportedLanguages is the intake whitelist.
var SupportedLanguages = mapset.NewSetFromMapKeys(languageExtensions)

// SourceExtension returns the file extension used when storing source in lang.
func SourceExtension(lang string) string {
	if ext, ok := languageExtensions[lang]; ok {
		return ext
	}
	return "txt"
}
