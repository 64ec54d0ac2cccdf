// Package documents tracks the text of documents the client has opened.
package documents

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"springls/internal/project"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

var ErrNotOpen = errors.New("documents: document is not open")

// Document is an immutable view of an open document at one version.
type Document struct {
	URI        string
	LanguageID string
	Version    int32
	Text       string
}

// Path returns the file system path of the document.
func (d *Document) Path() string {
	return project.URIToPath(d.URI)
}

// LanguageFor guesses a language id from a file name.
func LanguageFor(uri string) string {
	switch path.Ext(uri) {
	case ".java":
		return "java"
	case ".properties":
		return "spring-boot-properties"
	case ".yml", ".yaml":
		return "spring-boot-properties-yaml"
	case ".xml":
		return "xml"
	}
	return ""
}

// Manager holds the open documents keyed by normalized URI.
type Manager struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

func NewManager() *Manager {
	return &Manager{docs: make(map[string]*Document)}
}

// Open records a document; reopening replaces its content.
func (m *Manager) Open(uri, languageID string, version int32, text string) *Document {
	uri = project.NormalizeURI(uri)
	if languageID == "" {
		languageID = LanguageFor(uri)
	}
	doc := &Document{URI: uri, LanguageID: languageID, Version: version, Text: text}
	m.mu.Lock()
	m.docs[uri] = doc
	m.mu.Unlock()
	return doc
}

// Change applies content changes in order. Elements are either
// protocol.TextDocumentContentChangeEvent or
// protocol.TextDocumentContentChangeEventWhole.
func (m *Manager) Change(uri string, version int32, changes []any) (*Document, error) {
	uri = project.NormalizeURI(uri)

	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.docs[uri]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotOpen, uri)
	}
	text := old.Text
	for _, raw := range changes {
		switch change := raw.(type) {
		case protocol.TextDocumentContentChangeEvent:
			if change.Range == nil {
				text = change.Text
				continue
			}
			text = ApplyEdit(text, *change.Range, change.Text)
		case protocol.TextDocumentContentChangeEventWhole:
			text = change.Text
		default:
			return nil, fmt.Errorf("unexpected change event type %T", raw)
		}
	}
	doc := &Document{URI: uri, LanguageID: old.LanguageID, Version: version, Text: text}
	m.docs[uri] = doc
	return doc, nil
}

// Close forgets a document and reports whether it was open.
func (m *Manager) Close(uri string) bool {
	uri = project.NormalizeURI(uri)
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.docs[uri]
	delete(m.docs, uri)
	return ok
}

func (m *Manager) Get(uri string) (*Document, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[project.NormalizeURI(uri)]
	return doc, ok
}

func (m *Manager) IsOpen(uri string) bool {
	_, ok := m.Get(uri)
	return ok
}

// All returns the open documents sorted by URI.
func (m *Manager) All() []*Document {
	m.mu.RLock()
	out := make([]*Document, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, d)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// ApplyEdit replaces rng in text with newText.
func ApplyEdit(text string, rng protocol.Range, newText string) string {
	start := Offset(text, rng.Start)
	end := Offset(text, rng.End)
	if end < start {
		start, end = end, start
	}
	return text[:start] + newText + text[end:]
}

// Offset converts a UTF-16 based position into a byte offset, clamping
// positions past the end of a line or of the text.
func Offset(text string, pos protocol.Position) int {
	offset := 0
	for line := uint32(0); line < pos.Line; line++ {
		i := strings.IndexByte(text[offset:], '\n')
		if i < 0 {
			return len(text)
		}
		offset += i + 1
	}
	var units uint32
	for offset < len(text) && units < pos.Character {
		r, size := utf8.DecodeRuneInString(text[offset:])
		if r == '\n' {
			break
		}
		n := uint32(1)
		if r > 0xFFFF {
			n = 2
		}
		if units+n > pos.Character {
			break
		}
		units += n
		offset += size
	}
	return offset
}

// PositionAt converts a byte offset into a UTF-16 based position.
func PositionAt(text string, offset int) protocol.Position {
	if offset > len(text) {
		offset = len(text)
	}
	var pos protocol.Position
	lineStart := 0
	for i := 0; i < offset; i++ {
		if text[i] == '\n' {
			pos.Line++
			lineStart = i + 1
		}
	}
	for _, r := range text[lineStart:offset] {
		if r > 0xFFFF {
			pos.Character += 2
		} else {
			pos.Character++
		}
	}
	return pos
}
