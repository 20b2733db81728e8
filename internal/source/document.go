package source

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/lu4p/cat"

	apperrors "github.com/hyperjump/causa/internal/errors"
)

// Documents looks up the text of source papers by file name inside a directory.
// Extracted text is cached per file name.
type Documents struct {
	dir   string
	mu    sync.Mutex
	cache map[string]string
}

// NewDocuments returns a Documents rooted at dir.
func NewDocuments(dir string) *Documents {
	return &Documents{dir: dir, cache: make(map[string]string)}
}

// Text returns the plain text of fileName. fileName is resolved inside the
// directory; names escaping it are rejected. When fileName has no extension,
// .pdf, .docx, .odt, .rtf and .txt are tried in that order.
func (d *Documents) Text(fileName string) (string, error) {
	d.mu.Lock()
	if text, ok := d.cache[fileName]; ok {
		d.mu.Unlock()
		return text, nil
	}
	d.mu.Unlock()

	path, err := d.resolve(fileName)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	text, err := ExtractText(content, strings.ToLower(filepath.Ext(path)))
	if err != nil {
		return "", fmt.Errorf("%s: %w", fileName, err)
	}

	d.mu.Lock()
	d.cache[fileName] = text
	d.mu.Unlock()
	return text, nil
}

func (d *Documents) resolve(fileName string) (string, error) {
	clean := filepath.Clean("/" + fileName)[1:]
	if clean == "" || clean != filepath.Clean(fileName) {
		return "", apperrors.NewInvalidInputError("file_name", fmt.Sprintf("%q is not a plain file name", fileName))
	}
	path := filepath.Join(d.dir, clean)
	if filepath.Ext(clean) != "" {
		return path, nil
	}
	for _, ext := range []string{".pdf", ".docx", ".odt", ".rtf", ".txt"} {
		if _, err := os.Stat(path + ext); err == nil {
			return path + ext, nil
		}
	}
	return path, nil
}

// ExtractText extracts plain text from content based on ext (".pdf", ".docx",
// ".odt", ".rtf", ".txt", ".md"). Unknown extensions are read as plain text.
func ExtractText(content []byte, ext string) (string, error) {
	switch ext {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	case ".odt", ".rtf":
		text, err := cat.FromBytes(content)
		if err != nil {
			return "", fmt.Errorf("extract %s: %w", strings.TrimPrefix(ext, "."), err)
		}
		return text, nil
	default:
		return extractPlain(content), nil
	}
}

func extractPDF(content []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open PDF: %w", err)
	}
	var buf bytes.Buffer
	numPages := r.NumPage()
	for i := 0; i < numPages; i++ {
		page := r.Page(i + 1)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extract page %d: %w", i+1, err)
		}
		buf.WriteString(text)
		if i < numPages-1 {
			buf.WriteByte('\n')
		}
	}
	return buf.String(), nil
}

// docxDocumentPath is the main document body inside a .docx zip.
const docxDocumentPath = "word/document.xml"

var (
	// docxParagraph matches a whole <w:p> paragraph element.
	docxParagraph = regexp.MustCompile(`(?s)<w:p[ >].*?</w:p>`)
	// docxText matches <w:t>text</w:t> runs, with any attributes.
	docxText = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
)

// extractDOCX returns the text runs of a .docx, one paragraph per line.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}
	var docXML []byte
	for _, f := range zr.File {
		if f.Name != docxDocumentPath {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("extract DOCX: open %s: %w", f.Name, err)
		}
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(rc); err != nil {
			_ = rc.Close()
			return "", fmt.Errorf("extract DOCX: read %s: %w", f.Name, err)
		}
		_ = rc.Close()
		docXML = buf.Bytes()
		break
	}
	if docXML == nil {
		return "", fmt.Errorf("extract DOCX: %s not found", docxDocumentPath)
	}
	var b strings.Builder
	for _, para := range docxParagraph.FindAllString(string(docXML), -1) {
		var line strings.Builder
		for _, m := range docxText.FindAllStringSubmatch(para, -1) {
			line.WriteString(m[1])
		}
		if line.Len() == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(unescapeXML(line.String()))
	}
	return b.String(), nil
}

var xmlEntities = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&")

func unescapeXML(s string) string {
	return xmlEntities.Replace(s)
}

// extractPlain returns content as string. Invalid UTF-8 sequences are
// replaced with the replacement character.
func extractPlain(content []byte) string {
	if !utf8.Valid(content) {
		return strings.ToValidUTF8(string(content), "\uFFFD")
	}
	return string(content)
}
