// Package retrieval provides the knowledge-base store and the literal
// text search used to ground chat answers with citations.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxCitations bounds the citations returned by one query.
	MaxCitations = 3
	// SnippetRunes bounds the length of a citation snippet.
	SnippetRunes = 200
	// NoResultsAnswer is returned when nothing visible matches.
	NoResultsAnswer = "No relevant documents found."
)

// ErrUnknownKB is returned when adding to a knowledge base that does not exist.
var ErrUnknownKB = errors.New("unknown knowledge base")

// Citation is a retrieval hit surfaced to the user with provenance.
type Citation struct {
	DocID   string `json:"doc_id"`
	Title   string `json:"title"`
	Page    *int   `json:"page,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// Answer is the result of a query.
type Answer struct {
	Text      string     `json:"answer"`
	Citations []Citation `json:"citations"`
}

// KnowledgeBase groups documents under an optional role ACL.
type KnowledgeBase struct {
	KBID        string    `json:"kb_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	ACL         []string  `json:"acl"`
	CreatedAt   time.Time `json:"created_at"`
}

// DocumentInput is the payload for AddDocument.
type DocumentInput struct {
	Title     string   `json:"title"`
	Text      string   `json:"text"`
	SourceURI string   `json:"source_uri,omitempty"`
	Page      *int     `json:"page,omitempty"`
	ACL       []string `json:"acl"`
}

func (d DocumentInput) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if strings.TrimSpace(d.Text) == "" {
		return fmt.Errorf("text is required")
	}
	if d.Page != nil && *d.Page < 0 {
		return fmt.Errorf("page must be >= 0")
	}
	return nil
}

type document struct {
	DocumentInput
	DocID string
}

// Service stores knowledge bases in memory. Safe for concurrent use.
type Service struct {
	mu   sync.RWMutex
	kbs  map[string]KnowledgeBase
	docs map[string][]document
	ids  []string
}

func NewService() *Service {
	return &Service{
		kbs:  make(map[string]KnowledgeBase),
		docs: make(map[string][]document),
	}
}

// CreateKB registers a knowledge base and returns its id.
func (s *Service) CreateKB(name, description string, acl []string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("name is required")
	}
	kb := KnowledgeBase{
		KBID:        uuid.NewString(),
		Name:        name,
		Description: description,
		ACL:         append([]string(nil), acl...),
		CreatedAt:   time.Now().UTC(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kbs[kb.KBID] = kb
	s.docs[kb.KBID] = nil
	s.ids = append(s.ids, kb.KBID)
	return kb.KBID, nil
}

// AddDocument appends a document and returns its id.
func (s *Service) AddDocument(kbID string, in DocumentInput) (string, error) {
	if err := in.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.kbs[kbID]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKB, kbID)
	}
	in.ACL = append([]string(nil), in.ACL...)
	doc := document{DocumentInput: in, DocID: uuid.NewString()}
	s.docs[kbID] = append(s.docs[kbID], doc)
	return doc.DocID, nil
}

// ListKnowledgeBases returns all knowledge bases in creation order.
func (s *Service) ListKnowledgeBases() []KnowledgeBase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]KnowledgeBase, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, s.kbs[id])
	}
	return out
}

// Query matches the whole query, case-insensitively, against each visible
// document's text or title. An unknown knowledge base, or one whose ACL
// excludes every caller role, yields the no-results answer.
func (s *Service) Query(ctx context.Context, kbID, text string, roles []string) (Answer, error) {
	if err := ctx.Err(); err != nil {
		return Answer{}, err
	}
	needle := strings.ToLower(text)

	s.mu.RLock()
	kb, ok := s.kbs[kbID]
	var hits []document
	if ok && visible(kb.ACL, roles) {
		for _, doc := range s.docs[kbID] {
			if !visible(doc.ACL, roles) {
				continue
			}
			if strings.Contains(strings.ToLower(doc.Text), needle) || strings.Contains(strings.ToLower(doc.Title), needle) {
				hits = append(hits, doc)
				if len(hits) == MaxCitations {
					break
				}
			}
		}
	}
	s.mu.RUnlock()

	citations := make([]Citation, 0, len(hits))
	lines := make([]string, 0, len(hits))
	for _, doc := range hits {
		c := Citation{
			DocID:   doc.DocID,
			Title:   doc.Title,
			Page:    doc.Page,
			Snippet: snippet(doc.Text),
		}
		citations = append(citations, c)
		lines = append(lines, c.Title+": "+c.Snippet)
	}
	if len(citations) == 0 {
		return Answer{Text: NoResultsAnswer, Citations: citations}, nil
	}
	return Answer{Text: strings.Join(lines, "\n"), Citations: citations}, nil
}

// visible reports whether an ACL admits any of roles. An empty ACL admits all.
func visible(acl, roles []string) bool {
	if len(acl) == 0 {
		return true
	}
	for _, a := range acl {
		for _, r := range roles {
			if a == r {
				return true
			}
		}
	}
	return false
}

func snippet(text string) string {
	r := []rune(text)
	if len(r) <= SnippetRunes {
		return text
	}
	return string(r[:SnippetRunes])
}
