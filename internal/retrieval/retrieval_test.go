package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryMatchesTitleAndText(t *testing.T) {
	svc := NewService()
	kb, err := svc.CreateKB("handbook", "", nil)
	require.NoError(t, err)

	_, err = svc.AddDocument(kb, DocumentInput{Title: "Refund policy", Text: "Refunds are issued within 14 days."})
	require.NoError(t, err)
	_, err = svc.AddDocument(kb, DocumentInput{Title: "Shipping", Text: "We ship worldwide. See refund POLICY."})
	require.NoError(t, err)
	_, err = svc.AddDocument(kb, DocumentInput{Title: "Careers", Text: "Join us."})
	require.NoError(t, err)

	ans, err := svc.Query(context.Background(), kb, "Refund Policy", nil)
	require.NoError(t, err)
	require.Len(t, ans.Citations, 2)
	assert.Equal(t, "Refund policy", ans.Citations[0].Title)
	assert.Equal(t, "Refund policy: Refunds are issued within 14 days.\nShipping: We ship worldwide. See refund POLICY.", ans.Text)
}

func TestQueryLimitsAndSnippets(t *testing.T) {
	svc := NewService()
	kb, _ := svc.CreateKB("kb", "", nil)
	long := strings.Repeat("é", 250)
	page := 4
	for i := 0; i < 5; i++ {
		_, err := svc.AddDocument(kb, DocumentInput{Title: "doc", Text: "match " + long, Page: &page})
		require.NoError(t, err)
	}

	ans, err := svc.Query(context.Background(), kb, "match", nil)
	require.NoError(t, err)
	require.Len(t, ans.Citations, MaxCitations)
	for _, c := range ans.Citations {
		assert.Equal(t, SnippetRunes, len([]rune(c.Snippet)))
		require.NotNil(t, c.Page)
		assert.Equal(t, 4, *c.Page)
	}
}

func TestQueryEnforcesDocumentACL(t *testing.T) {
	svc := NewService()
	kb, _ := svc.CreateKB("kb", "", nil)
	_, _ = svc.AddDocument(kb, DocumentInput{Title: "Eng design", Text: "architecture doc", ACL: []string{"eng"}})
	_, _ = svc.AddDocument(kb, DocumentInput{Title: "Public", Text: "architecture overview"})

	ans, err := svc.Query(context.Background(), kb, "architecture", []string{"sales"})
	require.NoError(t, err)
	require.Len(t, ans.Citations, 1)
	assert.Equal(t, "Public", ans.Citations[0].Title)
	assert.NotContains(t, ans.Text, "Eng design")

	ans, _ = svc.Query(context.Background(), kb, "architecture", []string{"eng"})
	assert.Len(t, ans.Citations, 2)
}

func TestQueryEnforcesKnowledgeBaseACL(t *testing.T) {
	svc := NewService()
	kb, _ := svc.CreateKB("finance", "", []string{"finance"})
	_, _ = svc.AddDocument(kb, DocumentInput{Title: "Budget", Text: "budget 2026"})

	ans, err := svc.Query(context.Background(), kb, "budget", []string{"sales"})
	require.NoError(t, err)
	assert.Empty(t, ans.Citations)
	assert.Equal(t, NoResultsAnswer, ans.Text)
}

func TestQueryNoResults(t *testing.T) {
	svc := NewService()

	ans, err := svc.Query(context.Background(), "missing-kb", "anything", nil)
	require.NoError(t, err)
	assert.Equal(t, NoResultsAnswer, ans.Text)
	assert.NotNil(t, ans.Citations)
	assert.Empty(t, ans.Citations)
}

func TestAddDocumentErrors(t *testing.T) {
	svc := NewService()
	_, err := svc.AddDocument("nope", DocumentInput{Title: "t", Text: "x"})
	assert.ErrorIs(t, err, ErrUnknownKB)

	kb, _ := svc.CreateKB("kb", "", nil)
	_, err = svc.AddDocument(kb, DocumentInput{Text: "x"})
	assert.EqualError(t, err, "title is required")

	_, err = svc.CreateKB(" ", "", nil)
	assert.Error(t, err)
}

func TestListKnowledgeBases(t *testing.T) {
	svc := NewService()
	a, _ := svc.CreateKB("a", "first", nil)
	b, _ := svc.CreateKB("b", "", []string{"eng"})

	kbs := svc.ListKnowledgeBases()
	require.Len(t, kbs, 2)
	assert.Equal(t, a, kbs[0].KBID)
	assert.Equal(t, b, kbs[1].KBID)
	assert.Equal(t, []string{"eng"}, kbs[1].ACL)
}

func TestQueryHonoursCancelledContext(t *testing.T) {
	svc := NewService()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Query(ctx, "kb", "x", nil)
	assert.ErrorIs(t, err, context.Canceled)
}
