package docs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lailoo/vibe-blog/internal/matcher"
)

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	write(t, root, "02-next.md", "Next Steps\n==========\n\nbody")
	write(t, root, "01-intro.md", "# Introduction\n\nHello world")
	write(t, root, "README.md", "# Readme")
	write(t, root, "empty.md", "  \n\n")
	write(t, root, "node_modules/x/guide.md", "# vendored")
	write(t, root, "part/03-deep.md", "no heading here")
	write(t, root, "notes.txt", "ignored")

	got, err := Scan(root, matcher.New([]string{"**/*.md"}, nil))
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "01-intro.md", got[0].RelPath)
	assert.Equal(t, "Introduction", got[0].Title)
	assert.Equal(t, 1, got[0].Order)
	assert.Equal(t, Hash("# Introduction\n\nHello world"), got[0].Hash)

	assert.Equal(t, "Next Steps", got[1].Title)
	assert.Equal(t, "part/03-deep.md", got[2].RelPath)
	assert.Equal(t, "03-deep", got[2].Title)
	assert.Equal(t, 3, got[2].Order)
}

func TestTitleIgnoresFencedHeadings(t *testing.T) {
	content := "```\n# not a title\n```\n# Real\n"
	assert.Equal(t, "Real", Title(content, "x.md"))
}

func TestWordCount(t *testing.T) {
	assert.Equal(t, 4, WordCount("Hello **brave** new world"))
	assert.Equal(t, 4, WordCount("你好世界"))
	assert.Equal(t, 3, WordCount("Go 语言 `ignored code`"))
	assert.Equal(t, 2, WordCount("# Title\n```go\nfunc main() {}\n```\ntext"))
	assert.Equal(t, 1, WordCount("don't"))
}

func TestExtractStructure(t *testing.T) {
	content := `# Title

## Setup

Some [docs](https://go.dev) and an [anchor](#setup) and <https://example.com>.

![diagram](img/arch.png)

- one
- two
  - nested

` + "```go\nfmt.Println(1)\nfmt.Println(2)\n```\n" + `
| a | b |
|---|---|
| 1 | 2 |
`
	st := ExtractStructure(content)
	require.Len(t, st.Headings, 2)
	assert.Equal(t, Heading{Level: 2, Text: "Setup"}, st.Headings[1])
	require.Len(t, st.CodeBlocks, 1)
	assert.Equal(t, CodeBlock{Language: "go", Lines: 2}, st.CodeBlocks[0])
	require.Len(t, st.Images, 1)
	assert.Equal(t, ImageRef{Alt: "diagram", Src: "img/arch.png"}, st.Images[0])
	require.Len(t, st.Links, 2)
	assert.Equal(t, "https://go.dev", st.Links[0].URL)
	assert.Equal(t, "https://example.com", st.Links[1].URL)
	assert.Equal(t, 3, st.ListItems)
	assert.Equal(t, 1, st.Tables)
}

func TestExtractImages(t *testing.T) {
	root := t.TempDir()
	write(t, root, "chapters/img/a.png", "png")
	write(t, root, "assets/b.svg", "svg")
	docDir := filepath.Join(root, "chapters")

	content := "intro\n![A](img/a.png \"title\")\n<img alt=\"B\" src=\"/assets/b.svg\">\n![C](https://cdn.example.com/c.jpg)\n![D](missing.gif)\n![E](../../../etc/passwd.png)"
	imgs := ExtractImages(content, docDir, root)
	require.Len(t, imgs, 5)

	assert.Equal(t, 2, imgs[0].Line)
	assert.Equal(t, "A", imgs[0].Alt)
	assert.True(t, imgs[0].Exists)
	assert.Equal(t, "image/png", imgs[0].MimeType)

	assert.Equal(t, "B", imgs[1].Alt)
	assert.True(t, imgs[1].Exists)
	assert.Equal(t, "image/svg+xml", imgs[1].MimeType)

	assert.True(t, imgs[2].External)
	assert.False(t, imgs[2].Exists)

	assert.False(t, imgs[3].Exists)
	assert.NotEmpty(t, imgs[3].LocalPath)

	assert.Empty(t, imgs[4].LocalPath)
	assert.False(t, imgs[4].Exists)
}

func TestIsExternal(t *testing.T) {
	assert.True(t, IsExternal("http://a/b.png"))
	assert.True(t, IsExternal("//cdn/b.png"))
	assert.False(t, IsExternal("img/b.png"))
	assert.False(t, IsExternal("/abs/b.png"))
}
