package render

import (
	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

const (
	extensions = parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock
	htmlFlags  = html.CommonFlags | html.HrefTargetBlank | html.SkipHTML | html.Safelink | html.NofollowLinks
)

// Markdown converts paste content to an HTML fragment. Raw HTML in the
// input is dropped and only safe link schemes are rendered as links.
func Markdown(content string) string {
	p := parser.NewWithExtensions(extensions)
	r := html.NewRenderer(html.RendererOptions{Flags: htmlFlags})
	return string(markdown.ToHTML([]byte(content), p, r))
}
