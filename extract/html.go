package extract

import (
	"context"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const blockSelector = "h1, h2, h3, h4, h5, h6, p, li, pre, blockquote, td, th, dt, dd"

// readHTML renders headings as markdown headings and every other block as a
// paragraph so the output can be split by the markup splitter.
func readHTML(_ context.Context, path string) (string, map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return "", nil, err
	}
	doc.Find("script, style, noscript, template").Remove()

	meta := map[string]any{}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		meta["title"] = title
	}

	var blocks []string
	doc.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		// Nested blocks are rendered by their outermost ancestor
		if s.ParentsFiltered(blockSelector).Length() > 0 {
			return
		}
		text := collapseSpace(s.Text())
		if text == "" {
			return
		}
		if level := headingLevel(goquery.NodeName(s)); level > 0 {
			text = strings.Repeat("#", level) + " " + text
		}
		blocks = append(blocks, text)
	})

	if len(blocks) == 0 {
		if text := collapseSpace(doc.Find("body").Text()); text != "" {
			blocks = append(blocks, text)
		}
	}
	return strings.Join(blocks, blockSeparator), meta, nil
}

func headingLevel(name string) int {
	if len(name) == 2 && name[0] == 'h' && name[1] >= '1' && name[1] <= '6' {
		return int(name[1] - '0')
	}
	return 0
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
