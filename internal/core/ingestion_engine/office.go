package ingestion_engine

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"io"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// officeFormat describes where an OOXML container keeps its text and how text nodes look.
type officeFormat struct {
	name     string
	parts    func(name string) bool
	textNode *regexp.Regexp
	// blockEnd closes a paragraph, shared string or similar unit.
	blockEnd string
}

var (
	docxFormat = officeFormat{
		name: "docx",
		parts: func(name string) bool {
			return name == "word/document.xml" ||
				strings.HasPrefix(name, "word/header") ||
				strings.HasPrefix(name, "word/footer") ||
				name == "word/footnotes.xml"
		},
		textNode: regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`),
		blockEnd: "</w:p>",
	}
	xlsxFormat = officeFormat{
		name: "xlsx",
		parts: func(name string) bool {
			return name == "xl/sharedStrings.xml" || strings.HasPrefix(name, "xl/worksheets/sheet")
		},
		textNode: regexp.MustCompile(`<t(?:\s[^>]*)?>([^<]*)</t>`),
		blockEnd: "</si>",
	}
	pptxFormat = officeFormat{
		name: "pptx",
		parts: func(name string) bool {
			return strings.HasPrefix(name, "ppt/slides/slide") && strings.HasSuffix(name, ".xml")
		},
		textNode: regexp.MustCompile(`<a:t(?:\s[^>]*)?>([^<]*)</a:t>`),
		blockEnd: "</a:p>",
	}
)

// extractOffice scrapes text nodes out of a zip-container office document.
// When nothing matches, the raw decoded bytes are returned instead of an error.
func extractOffice(data []byte, f officeFormat) string {
	var text string
	if zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data))); err == nil {
		text = scrapeArchive(zr, f)
	} else {
		text = scrapeXML(decodeText(data), f)
	}
	if strings.TrimSpace(text) == "" {
		return decodeText(data)
	}
	return text
}

func scrapeArchive(zr *zip.Reader, f officeFormat) string {
	var files []*zip.File
	for _, zf := range zr.File {
		if f.parts(zf.Name) {
			files = append(files, zf)
		}
	}
	// slide2 before slide10
	sort.Slice(files, func(i, j int) bool {
		a, b := files[i].Name, files[j].Name
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return a < b
	})

	var parts []string
	for _, zf := range files {
		body, err := readZipFile(zf)
		if err != nil {
			continue
		}
		if s := scrapeXML(string(body), f); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

func scrapeXML(doc string, f officeFormat) string {
	var lines []string
	for _, block := range strings.Split(doc, f.blockEnd) {
		matches := f.textNode.FindAllStringSubmatch(block, -1)
		if len(matches) == 0 {
			continue
		}
		var b strings.Builder
		for _, m := range matches {
			b.WriteString(html.UnescapeString(m[1]))
		}
		if line := strings.TrimSpace(b.String()); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func readZipFile(zf *zip.File) ([]byte, error) {
	rc, err := zf.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// extractEPUB reads the XHTML documents of an EPUB in spine order.
func extractEPUB(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open epub: %w", err)
	}

	byName := make(map[string]*zip.File, len(zr.File))
	for _, zf := range zr.File {
		byName[zf.Name] = zf
	}

	order := epubSpine(byName)
	if len(order) == 0 {
		for _, zf := range zr.File {
			switch strings.ToLower(path.Ext(zf.Name)) {
			case ".xhtml", ".html", ".htm":
				order = append(order, zf.Name)
			}
		}
		sort.Strings(order)
	}

	var chapters []string
	for _, name := range order {
		zf, ok := byName[name]
		if !ok {
			continue
		}
		body, err := readZipFile(zf)
		if err != nil {
			continue
		}
		if text := htmlText(body); text != "" {
			chapters = append(chapters, text)
		}
	}
	return strings.Join(chapters, "\n\n"), nil
}

// epubSpine resolves the reading order from META-INF/container.xml and the OPF package file.
func epubSpine(files map[string]*zip.File) []string {
	container, ok := files["META-INF/container.xml"]
	if !ok {
		return nil
	}
	body, err := readZipFile(container)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	opfPath, _ := doc.Find("rootfile").First().Attr("full-path")
	opf, ok := files[opfPath]
	if !ok {
		return nil
	}
	body, err = readZipFile(opf)
	if err != nil {
		return nil
	}
	pkg, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	base := path.Dir(opfPath)
	hrefs := make(map[string]string)
	pkg.Find("manifest item").Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("id")
		href, _ := s.Attr("href")
		if id != "" && href != "" {
			hrefs[id] = path.Join(base, href)
		}
	})

	var order []string
	pkg.Find("spine itemref").Each(func(_ int, s *goquery.Selection) {
		idref, _ := s.Attr("idref")
		if href, ok := hrefs[idref]; ok {
			order = append(order, href)
		}
	})
	return order
}

func htmlText(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	doc.Find("script, style, nav").Remove()
	doc.Find("p, div, br, li, tr, h1, h2, h3, h4, h5, h6, blockquote, pre").AppendHtml("\n")
	return strings.TrimSpace(doc.Find("body").Text())
}
