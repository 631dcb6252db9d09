package extract

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
)

// Office Open XML files are zip archives of XML parts. The readers below walk
// the token stream of the relevant parts and keep character data from text
// runs, emitting a line break at each paragraph or row end.

func readDocx(ctx context.Context, filePath string) (string, map[string]any, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return "", nil, err
	}
	defer zr.Close()

	part := findPart(&zr.Reader, "word/document.xml")
	if part == nil {
		return "", nil, fmt.Errorf("%w: word/document.xml", ErrMissingPart)
	}
	text, paragraphs, err := collectText(part, "t", "p")
	if err != nil {
		return "", nil, err
	}
	return text, map[string]any{"paragraphs": paragraphs}, nil
}

func readPptx(ctx context.Context, filePath string) (string, map[string]any, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return "", nil, err
	}
	defer zr.Close()

	slides := numberedParts(&zr.Reader, "ppt/slides/slide")
	if len(slides) == 0 {
		return "", nil, fmt.Errorf("%w: ppt/slides", ErrMissingPart)
	}

	texts := make([]string, 0, len(slides))
	for _, slide := range slides {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}
		text, _, err := collectText(slide, "t", "p")
		if err != nil {
			return "", nil, fmt.Errorf("%s: %w", slide.Name, err)
		}
		if text != "" {
			texts = append(texts, text)
		}
	}
	return strings.Join(texts, blockSeparator), map[string]any{"slides": len(slides)}, nil
}

func readXlsx(ctx context.Context, filePath string) (string, map[string]any, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return "", nil, err
	}
	defer zr.Close()

	var shared []string
	if part := findPart(&zr.Reader, "xl/sharedStrings.xml"); part != nil {
		if shared, err = sharedStrings(part); err != nil {
			return "", nil, err
		}
	}

	sheets := numberedParts(&zr.Reader, "xl/worksheets/sheet")
	if len(sheets) == 0 {
		return "", nil, fmt.Errorf("%w: xl/worksheets", ErrMissingPart)
	}

	var blocks []string
	rows := 0
	for _, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}
		lines, err := sheetRows(sheet, shared)
		if err != nil {
			return "", nil, fmt.Errorf("%s: %w", sheet.Name, err)
		}
		rows += len(lines)
		if len(lines) > 0 {
			blocks = append(blocks, strings.Join(lines, "\n"))
		}
	}
	return strings.Join(blocks, blockSeparator), map[string]any{"sheets": len(sheets), "rows": rows}, nil
}

func findPart(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// numberedParts returns parts named prefix<N>.xml ordered by N.
func numberedParts(zr *zip.Reader, prefix string) []*zip.File {
	type numbered struct {
		n int
		f *zip.File
	}
	var parts []numbered
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, prefix) || path.Ext(f.Name) != ".xml" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(f.Name, prefix), ".xml"))
		if err != nil {
			continue
		}
		parts = append(parts, numbered{n, f})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].n < parts[j].n })

	out := make([]*zip.File, len(parts))
	for i, p := range parts {
		out[i] = p.f
	}
	return out
}

// collectText concatenates character data inside textElem elements and ends a
// line at each blockElem end tag. It returns the text and the number of
// non-empty blocks.
func collectText(f *zip.File, textElem, blockElem string) (string, int, error) {
	rc, err := f.Open()
	if err != nil {
		return "", 0, err
	}
	defer rc.Close()

	var lines []string
	var line strings.Builder
	inText := false

	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", 0, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case textElem:
				inText = true
			case "tab":
				line.WriteByte('\t')
			case "br":
				line.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case textElem:
				inText = false
			case blockElem:
				if s := strings.TrimSpace(line.String()); s != "" {
					lines = append(lines, s)
				}
				line.Reset()
			}
		case xml.CharData:
			if inText {
				line.Write(t)
			}
		}
	}
	if s := strings.TrimSpace(line.String()); s != "" {
		lines = append(lines, s)
	}
	return strings.Join(lines, "\n"), len(lines), nil
}

func sharedStrings(f *zip.File) ([]string, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var out []string
	var cur strings.Builder
	inItem, inText := false, false

	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "si":
				inItem = true
				cur.Reset()
			case "t":
				inText = inItem
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "si":
				out = append(out, cur.String())
				inItem = false
			case "t":
				inText = false
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}
}

// sheetRows renders each worksheet row as tab separated cell values.
func sheetRows(f *zip.File, shared []string) ([]string, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var rows []string
	var cells []string
	var value strings.Builder
	cellType := ""
	inValue := false

	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "row":
				cells = cells[:0]
			case "c":
				cellType = ""
				value.Reset()
				for _, attr := range t.Attr {
					if attr.Name.Local == "t" {
						cellType = attr.Value
					}
				}
			case "v", "t":
				inValue = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "v", "t":
				inValue = false
			case "c":
				cells = append(cells, cellValue(cellType, value.String(), shared))
			case "row":
				if line := strings.TrimRight(strings.Join(cells, "\t"), "\t"); line != "" {
					rows = append(rows, line)
				}
			}
		case xml.CharData:
			if inValue {
				value.Write(t)
			}
		}
	}
}

func cellValue(cellType, raw string, shared []string) string {
	if cellType != "s" {
		return strings.TrimSpace(raw)
	}
	idx, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || idx < 0 || idx >= len(shared) {
		return ""
	}
	return shared[idx]
}
