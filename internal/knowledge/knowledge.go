// Package knowledge extracts text from uploaded PDF documents and exposes it
// as grounding material for the teaching session.
//
// The extracted text is injected verbatim into the session's system
// instruction at connect time. Swapping the document only affects sessions
// started afterwards.
package knowledge

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
)

// ErrExtraction indicates the document could not be parsed as a PDF.
var ErrExtraction = errors.New("knowledge: extraction failed")

// instructionPreamble introduces the document text inside the system
// instruction.
const instructionPreamble = "USE THIS PDF AS YOUR BIBLE:\n"

// Base is one extracted knowledge document.
type Base struct {
	// FileName is the name the document was uploaded under.
	FileName string

	// Text is the concatenated plain text of all pages, newline separated.
	Text string

	// Pages is the page count of the source document.
	Pages int
}

// Instruction returns the system-instruction fragment carrying the document.
func (b *Base) Instruction() string {
	return instructionPreamble + b.Text
}

// ExtractPDF parses a PDF from r and returns its plain text. Pages that fail
// text extraction are skipped; the document as a whole fails only when the
// PDF structure itself is unreadable.
func ExtractPDF(r io.ReaderAt, size int64, fileName string) (*Base, error) {
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrExtraction, fileName, err)
	}

	var sb strings.Builder
	pages := reader.NumPage()
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(text)
	}

	return &Base{FileName: fileName, Text: sb.String(), Pages: pages}, nil
}

// ExtractFile parses the PDF at path.
func ExtractFile(path string) (*Base, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("knowledge: open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("knowledge: stat: %w", err)
	}
	return ExtractPDF(f, info.Size(), info.Name())
}

// Store holds the currently loaded document. Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	base *Base
}

// NewStore creates an empty Store.
func NewStore() *Store { return &Store{} }

// Set replaces the loaded document.
func (s *Store) Set(b *Base) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = b
}

// Clear removes the loaded document.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = nil
}

// Get returns the loaded document, or nil.
func (s *Store) Get() *Base {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base
}

// Instruction returns the document's instruction fragment, or "" when no
// document is loaded.
func (s *Store) Instruction() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.base == nil {
		return ""
	}
	return s.base.Instruction()
}
