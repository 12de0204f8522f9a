package sandbox

// LanguagePlan is the per-language record telling the system which image,
// source extension, dependency-install command, and run command to use.
// It is pure data: tests may substitute a plan table wholesale.
type LanguagePlan struct {
	Image       string
	Extension   string
	InstallArgv func(deps []string) []string
	RunArgv     func(filePath string) []string
}

func noInstall([]string) []string { return nil }

// DefaultLanguagePlans is the built-in table. Config (sandbox/config) may
// overlay the Image field per language; InstallArgv/RunArgv are never
// overridden since they are tied to the interpreter, not to policy.
func DefaultLanguagePlans() map[SupportedLanguage]LanguagePlan {
	return map[SupportedLanguage]LanguagePlan{
		Python: {
			Image:       "sandbox-python:latest",
			Extension:   ".py",
			InstallArgv: func(deps []string) []string { return append([]string{"pip", "install", "--quiet"}, deps...) },
			RunArgv:     func(f string) []string { return []string{"python", f} },
		},
		Go: {
			Image:       "sandbox-go:latest",
			Extension:   ".go",
			InstallArgv: func(deps []string) []string { return append([]string{"go", "get"}, deps...) },
			RunArgv:     func(f string) []string { return []string{"go", "run", f} },
		},
		JavaScript: {
			Image:       "sandbox-javascript:latest",
			Extension:   ".js",
			InstallArgv: func(deps []string) []string { return append([]string{"npm", "install"}, deps...) },
			RunArgv:     func(f string) []string { return []string{"node", f} },
		},
		Ruby: {
			Image:       "sandbox-ruby:latest",
			Extension:   ".rb",
			InstallArgv: func(deps []string) []string { return append([]string{"gem", "install"}, deps...) },
			RunArgv:     func(f string) []string { return []string{"ruby", f} },
		},
		Java: {
			Image:     "sandbox-java:latest",
			Extension: ".java",
			// Design Note #2 (preserved): no compile step. A real deployment
			// needs a compile-then-run plan; this spec marks that out of scope.
			InstallArgv: noInstall,
			RunArgv:     func(f string) []string { return []string{"java", f} },
		},
		Cpp: {
			Image:       "sandbox-cpp:latest",
			Extension:   ".cpp",
			InstallArgv: noInstall,
			RunArgv:     func(string) []string { return []string{"./a.out"} },
		},
		R: {
			Image:       "sandbox-r:latest",
			Extension:   ".R",
			InstallArgv: noInstall,
			RunArgv:     func(f string) []string { return []string{"Rscript", f} },
		},
	}
}

// LanguagePlanFor looks up the plan for lang. The bool is false for an
// unsupported language (e.g. a caller-supplied string that didn't match
// ParseLanguage).
func LanguagePlanFor(plans map[SupportedLanguage]LanguagePlan, lang SupportedLanguage) (LanguagePlan, bool) {
	p, ok := plans[lang]
	return p, ok
}

// HasInstallPlan reports whether the language declares a non-trivial
// dependency-install step (java, cpp, and r are no-ops per spec).
func (p LanguagePlan) HasInstallPlan() bool {
	if p.InstallArgv == nil {
		return false
	}
	return len(p.InstallArgv([]string{"probe"})) > 0
}
