package main

import (
	"encoding/hex"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"
)

// widgetFiles is the main branch of acme/widgets.
var widgetFiles = map[string]string{
	"README.md":                   "# widgets\n\nA small component library used to exercise repolens.\n",
	"package.json":                "{\n  \"name\": \"@acme/widgets\",\n  \"version\": \"1.4.0\"\n}\n",
	".github/workflows/ci.yaml":   "name: ci\non: [push]\njobs:\n  test:\n    runs-on: ubuntu-latest\n    steps:\n      - uses: actions/checkout@v4\n      - run: npm test\n",
	"src/index.ts":                "export * from './components/Button'\nexport * from './lib/util'\n",
	"src/components/Button.tsx":   "export function Button(props: { label: string }) {\n  return <button>{props.label}</button>\n}\n",
	"src/components/Modal.tsx":    "export function Modal() {\n  return null\n}\n",
	"src/lib/util.ts":             "export const clamp = (n: number, lo: number, hi: number) => Math.min(hi, Math.max(lo, n))\n",
	"src/lib/deep/nested/leaf.ts": "export const leaf = true\n",
	"docs/guide.md":               "# Guide\n\nInstall with `npm i @acme/widgets`.\n",
	"docs/api/reference.md":       "# API reference\n",
	"assets/logo.svg":             "<svg xmlns=\"http://www.w3.org/2000/svg\" width=\"16\" height=\"16\"/>\n",
}

var widgetAuthors = []string{"octocat", "hubot", "monalisa", "defunkt", "mojombo", "pjhyett"}

// users are the profiles served by /users/:username. The first one is the
// authenticated user for every token.
var users = []profile{
	{Login: "octocat", Name: "The Octocat", Bio: "GitHub mascot", PublicRepos: 8, Followers: 4000, Following: 9},
	{Login: "hubot", Name: "Hubot", PublicRepos: 3, Followers: 120},
	{Login: "monalisa", Name: "Mona Lisa Octocat", PublicRepos: 12, Followers: 900, Following: 30},
}

type profile struct {
	Login       string
	Name        string
	Bio         string
	PublicRepos int
	Followers   int
	Following   int
}

// seedRepos populates the store. Called before the server accepts requests;
// repositories are not modified afterwards.
func seedRepos(s *store) {
	widgets := &repo{
		owner:         "acme",
		name:          "widgets",
		description:   "UI widgets for the acme design system",
		defaultBranch: "main",
		topics:        []string{"ui", "components", "typescript"},
		language:      "TypeScript",
		stars:         128,
		forks:         17,
		created:       time.Date(2023, 3, 14, 9, 0, 0, 0, time.UTC),
		branches:      map[string]map[string]string{},
		protected:     map[string]bool{"main": true},
		commits:       map[string][]commit{},
	}

	mainFiles := maps.Clone(widgetFiles)
	// Above the inline limit, so clients must fetch it raw.
	mainFiles["assets/fixtures/large.bin"] = strings.Repeat("0123456789abcdef", (maxInlineSize/16)+1024)
	widgets.branches["main"] = mainFiles

	dev := maps.Clone(mainFiles)
	dev["src/components/Tooltip.tsx"] = "export function Tooltip() {\n  return null\n}\n"
	dev["CHANGELOG.md"] = "# Changelog\n\n## Unreleased\n- Tooltip\n"
	delete(dev, "src/components/Modal.tsx")
	widgets.branches["dev"] = dev

	history := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)
	widgets.commits["main"] = generateCommits("main", mainFiles, 45, history)
	widgets.commits["dev"] = append(
		generateCommits("dev", dev, 3, history.Add(45*6*time.Hour)),
		widgets.commits["main"]...,
	)

	for i, login := range widgetAuthors {
		widgets.contributors = append(widgets.contributors, contributor{Login: login, Contributions: 40 - i*6})
	}
	for i := range 8 {
		widgets.contributors = append(widgets.contributors, contributor{Login: fmt.Sprintf("contrib-%02d", i+1), Contributions: 3})
	}

	s.addRepo(widgets)
}

// generateCommits returns n commits six hours apart from since, newest
// first, each touching one file.
func generateCommits(branch string, files map[string]string, n int, since time.Time) []commit {
	paths := slices.Sorted(maps.Keys(files))

	out := make([]commit, 0, n)
	for i := n - 1; i >= 0; i-- {
		p := paths[i%len(paths)]
		sum := sha3.Sum256([]byte(fmt.Sprintf("commit\x00%s\x00%d", branch, i)))
		out = append(out, commit{
			SHA:     hex.EncodeToString(sum[:20]),
			Message: fmt.Sprintf("Update %s\n\nChange %d on %s.", p, i+1, branch),
			Author:  widgetAuthors[i%len(widgetAuthors)],
			Date:    since.Add(time.Duration(i) * 6 * time.Hour),
			Paths:   []string{p},
		})
	}
	return out
}
