package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/copilot-relay/internal/domain"
	"github.com/ashureev/copilot-relay/internal/retrieval"
	"github.com/ashureev/copilot-relay/internal/shared"
)

// NoDocumentsPlaceholder stands in for an empty retrieval result.
const NoDocumentsPlaceholder = "No documents found"

const documentsInstruction = "Here are the top documents retrieved from the corpus. " +
	"Use these documents to answer the user's question if possible, " +
	"otherwise just answer the question based on your knowledge:\n\n"

// MergePolicy decides how an explicit RAG source and the inferred helpdesk source combine.
type MergePolicy string

const (
	// MergeExclusive uses the explicit source when given, the helpdesk source otherwise.
	MergeExclusive MergePolicy = "exclusive"
	// MergeConcat uses both, explicit documents first.
	MergeConcat MergePolicy = "concat"
)

// ParseMergePolicy validates a configured merge policy.
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch p := MergePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return MergeExclusive, nil
	case MergeExclusive, MergeConcat:
		return p, nil
	default:
		return "", fmt.Errorf("unknown RAG merge policy %q", s)
	}
}

// Category is the classifier's label for a query.
type Category string

const (
	CategoryRAG   Category = "RAG"
	CategoryHelp  Category = "HELP"
	CategoryOther Category = "OTHER"
)

const classifierPrompt = `You are a classifier that categorizes text into 'RAG', 'HELP', or 'OTHER'.
RAG is for queries about accessing extra data like documents.
HELP is for questions where the question is about direct assistance.
OTHER is for all other categories.
Reply with JSON only, in the form {"category": "RAG"}.`

type classification struct {
	Category string `json:"category"`
}

// retrieveDocuments returns the documents for the turn and whether RAG applied at all.
func (e *Engine) retrieveDocuments(ctx context.Context, req TurnRequest) ([]string, bool, error) {
	if req.NoRAG {
		return nil, false, nil
	}
	var sources []*domain.RagSource

	if req.RagDB != "" {
		src, err := e.resolveRagSource(ctx, req.RagDB)
		if err != nil {
			return nil, false, err
		}
		sources = append(sources, src)
	}

	if e.helpdeskApplies(req) && e.classify(ctx, req.Query) == CategoryHelp {
		src, err := e.catalog.FindRagSource(ctx, e.cfg.HelpdeskRagDB)
		switch {
		case err != nil:
			e.logger.Warn("Helpdesk source lookup failed", "rag_db", e.cfg.HelpdeskRagDB, "error", err)
		case src == nil:
			e.logger.Warn("Helpdesk source not in catalog", "rag_db", e.cfg.HelpdeskRagDB)
		default:
			sources = append(sources, src)
		}
	}

	if len(sources) == 0 {
		return nil, false, nil
	}
	if e.retriever == nil {
		return nil, false, domain.Errorf(domain.KindRetrieval, "retrieval is not configured")
	}

	numDocs := req.NumDocs
	if numDocs <= 0 {
		numDocs = e.cfg.DefaultNumDocs
	}
	var docs []string
	for _, src := range sources {
		found, err := e.retriever.Retrieve(ctx, src, retrieval.Query{
			Text:      req.Query,
			UserID:    req.UserID,
			SessionID: req.SessionID,
			Model:     req.Model,
			NumDocs:   numDocs,
		})
		if err != nil {
			return nil, false, domain.Wrap(domain.KindRetrieval, fmt.Sprintf("rag source %s", src.Name), err)
		}
		docs = append(docs, found...)
	}
	if len(docs) == 0 {
		docs = []string{NoDocumentsPlaceholder}
	}
	return docs, true, nil
}

func (e *Engine) resolveRagSource(ctx context.Context, name string) (*domain.RagSource, error) {
	src, err := e.catalog.FindRagSource(ctx, name)
	if err != nil {
		return nil, domain.Wrap(domain.KindPersistence, "find rag source", err)
	}
	if src == nil {
		return nil, domain.Errorf(domain.KindUnknownRagSource, "unknown rag source %q", name)
	}
	return src, nil
}

func (e *Engine) helpdeskApplies(req TurnRequest) bool {
	if req.NoRAG {
		return false
	}
	if e.cfg.HelpdeskRagDB == "" || e.cfg.ClassifierModel == "" {
		return false
	}
	if req.RagDB == e.cfg.HelpdeskRagDB {
		return false
	}
	return req.RagDB == "" || e.cfg.MergePolicy == MergeConcat
}

// classify labels the query with the classifier model. Any failure yields CategoryOther.
func (e *Engine) classify(ctx context.Context, query string) Category {
	model, err := e.catalog.FindModel(ctx, e.cfg.ClassifierModel)
	if err != nil || model == nil {
		e.logger.Warn("Classifier model unavailable", "model", e.cfg.ClassifierModel, "error", err)
		return CategoryOther
	}
	reply, err := e.dispatcher.Dispatch(ctx, model, classifierPrompt, query, "")
	if err != nil {
		e.logger.Warn("Classification failed", "model", model.Name, "error", err)
		return CategoryOther
	}
	return parseCategory(reply)
}

func parseCategory(reply string) Category {
	var out classification
	shared.ParseStructuredModelOutput(reply, classification{Category: string(CategoryOther)}, &out)
	switch c := Category(strings.ToUpper(strings.TrimSpace(out.Category))); c {
	case CategoryRAG, CategoryHelp, CategoryOther:
		return c
	default:
		return CategoryOther
	}
}

// AugmentSystemPrompt appends the retrieved documents to the system prompt.
func AugmentSystemPrompt(systemPrompt string, docs []string) string {
	block := documentsInstruction + strings.Join(docs, "\n\n")
	if systemPrompt == "" {
		return block
	}
	return systemPrompt + "\n\n" + block
}
