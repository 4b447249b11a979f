package extract

import (
	"bytes"
	"io"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/knoguchi/rag/internal/apperr"
)

var (
	hyphenBreak = regexp.MustCompile(`(\pL)-\n(\pL)`)
	manyBlanks  = regexp.MustCompile(`\n{3,}`)
	trailingWS  = regexp.MustCompile(`[ \t]+\n`)
)

// PDFText extracts the plain text of a PDF from an in-memory or
// on-disk reader. name is used only for error messages.
func PDFText(r io.ReaderAt, size int64, name string) (string, error) {
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return "", apperr.Wrap(apperr.KindSourceFetchFailed, "opening pdf "+name, err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", apperr.Wrap(apperr.KindSourceFetchFailed, "reading pdf "+name, err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", apperr.Wrap(apperr.KindSourceFetchFailed, "reading pdf "+name, err)
	}

	text := cleanPDFText(buf.String())
	if text == "" {
		return "", apperr.New(apperr.KindEmptySourceContent, "no text content in "+name)
	}
	return text, nil
}

// cleanPDFText undoes the worst artifacts of PDF text extraction:
// hyphenated line breaks inside words, trailing whitespace, and runs
// of blank lines.
func cleanPDFText(text string) string {
	text = hyphenBreak.ReplaceAllString(text, "$1$2")
	text = trailingWS.ReplaceAllString(text, "\n")
	text = manyBlanks.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
