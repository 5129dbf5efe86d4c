package core

import (
	"context"
	"strings"

	"bibstat/pkg/domain"
)

// TermDocument is the JSON-LD description of a public variable.
type TermDocument struct {
	ID         string   `json:"@id"`
	Type       []string `json:"@type"`
	Comment    string   `json:"comment"`
	Range      string   `json:"range"`
	Replaces   []string `json:"replaces,omitempty"`
	ReplacedBy string   `json:"replacedBy,omitempty"`
	Valid      string   `json:"valid,omitempty"`
}

func newTermDocument(v domain.Variable, view domain.TransactionView, baseURL string) TermDocument {
	doc := TermDocument{
		ID:      strings.TrimRight(baseURL, "/") + "/" + v.Key,
		Type:    []string{"rdf:Property", "qb:MeasureProperty"},
		Comment: v.Description,
		Range:   v.Type.XSDRange(),
	}
	for _, id := range v.Replaces {
		if replaced, ok := view.FindVariable(id); ok {
			doc.Replaces = append(doc.Replaces, replaced.Key)
		}
	}
	if v.ReplacedBy != nil {
		if by, ok := view.FindVariable(*v.ReplacedBy); ok {
			doc.ReplacedBy = by.Key
		}
	}
	if v.ActiveFrom != nil || v.ActiveTo != nil {
		var b strings.Builder
		b.WriteString("name=Giltighetstid;")
		if v.ActiveFrom != nil {
			b.WriteString(" start=" + v.ActiveFrom.String() + ";")
		}
		if v.ActiveTo != nil {
			b.WriteString(" end=" + v.ActiveTo.String() + ";")
		}
		doc.Valid = b.String()
	}
	return doc
}

// TermDocuments describes every public term ordered by key.
func (s *Service) TermDocuments(ctx context.Context) ([]TermDocument, error) {
	terms, err := s.PublicTerms(ctx)
	if err != nil {
		return nil, err
	}
	docs := make([]TermDocument, 0, len(terms))
	err = s.view(ctx, "term_documents", func(view domain.TransactionView) error {
		for _, v := range terms {
			docs = append(docs, newTermDocument(v, view, s.api.TermBaseURL))
		}
		return nil
	})
	return docs, err
}

// TermDocumentFor describes the public term with key.
func (s *Service) TermDocumentFor(ctx context.Context, key string) (TermDocument, error) {
	v, err := s.PublicTerm(ctx, key)
	if err != nil {
		return TermDocument{}, err
	}
	var doc TermDocument
	err = s.view(ctx, "term_document", func(view domain.TransactionView) error {
		doc = newTermDocument(v, view, s.api.TermBaseURL)
		return nil
	})
	return doc, err
}
