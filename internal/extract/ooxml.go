package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// block is a top-level paragraph or table of an OOXML part, in document order.
type block struct {
	Text  string
	Style string
	Table bool
}

// readBlocks walks the markup shared by WordprocessingML and DrawingML:
// p paragraphs, r runs, t text and tbl/tr/tc tables. Paragraphs inside a
// table become cell text; rows render as cells joined by " | ".
func readBlocks(r io.Reader) ([]block, error) {
	dec := xml.NewDecoder(r)

	var (
		blocks   []block
		para     strings.Builder
		style    string
		inPara   bool
		inRun    bool
		tblDepth int
		rows     []string
		row      []string
		cell     strings.Builder
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inPara = true
				para.Reset()
				style = ""
			case "r":
				inRun = true
			case "pStyle":
				style = attr(t, "val")
			case "t":
				var s string
				if err := dec.DecodeElement(&s, &t); err != nil {
					return nil, err
				}
				if inPara {
					para.WriteString(s)
				}
			case "tab":
				if inRun {
					para.WriteString("\t")
				}
			case "br":
				if inPara {
					para.WriteString("\n")
				}
			case "tbl":
				tblDepth++
				if tblDepth == 1 {
					rows = nil
				}
			case "tr":
				if tblDepth == 1 {
					row = nil
				}
			case "tc":
				if tblDepth == 1 {
					cell.Reset()
				}
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "r":
				inRun = false
			case "p":
				inPara = false
				text := strings.TrimSpace(para.String())
				if text == "" {
					continue
				}
				if tblDepth > 0 {
					if cell.Len() > 0 {
						cell.WriteString("\n")
					}
					cell.WriteString(text)
				} else {
					blocks = append(blocks, block{Text: text, Style: style})
				}
			case "tc":
				if tblDepth == 1 {
					row = append(row, strings.TrimSpace(cell.String()))
				}
			case "tr":
				if tblDepth == 1 {
					rows = append(rows, strings.Join(row, " | "))
				}
			case "tbl":
				if tblDepth == 1 && len(rows) > 0 {
					blocks = append(blocks, block{Text: strings.Join(rows, "\n"), Table: true})
				}
				tblDepth--
			}
		}
	}
	return blocks, nil
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func openZip(data []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return zr, nil
}

func readZipBlocks(f *zip.File) ([]block, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return readBlocks(rc)
}
