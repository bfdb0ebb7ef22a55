package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/cognitriage-api/internal/domain/model"
	"github.com/target/cognitriage-api/internal/domain/triage"
	apperrors "github.com/target/cognitriage-api/internal/errors"
	"github.com/target/cognitriage-api/internal/mocks"
)

func TestLiteratureService_StaticMode(t *testing.T) {
	retriever, err := triage.NewEvidenceRetriever(triage.EvidenceOptions{Mode: triage.EvidenceModeStatic})
	require.NoError(t, err)
	svc, err := NewLiteratureService(LiteratureServiceOptions{Retriever: retriever})
	require.NoError(t, err)

	res, err := svc.SearchJSON(context.Background(), []byte(`{"risk_tier":"HIGH","mta_score":3,"moca_total":18,"age":80}`))
	require.NoError(t, err)
	assert.Len(t, res.Papers, 5)
	assert.Equal(t, triage.ProvenanceStatic, res.Provenance)
	assert.Contains(t, res.QueryUsed, `"medial temporal atrophy"`)
	assert.Contains(t, res.QueryUsed, "dementia")
	assert.Contains(t, res.QueryUsed, "aged")
}

func TestLiteratureService_LiveMode(t *testing.T) {
	ctrl := gomock.NewController(t)
	searcher := mocks.NewMockLiteratureSearcher(ctrl)
	retriever, err := triage.NewEvidenceRetriever(triage.EvidenceOptions{
		Mode: triage.EvidenceModeLive, Searcher: searcher, MaxResults: 2,
	})
	require.NoError(t, err)
	svc, err := NewLiteratureService(LiteratureServiceOptions{Retriever: retriever})
	require.NoError(t, err)

	papers := []model.Citation{{Title: "A", Link: "https://pubmed.ncbi.nlm.nih.gov/1/"}}
	searcher.EXPECT().Search(gomock.Any(), `"hippocampal atrophy" AND "cognitive aging"`, 2).Return(papers)

	res, err := svc.Search(context.Background(), model.Record{})
	require.NoError(t, err)
	assert.Equal(t, papers, res.Papers)
	assert.Equal(t, triage.ProvenanceLive, res.Provenance)
}

func TestLiteratureService_InvalidRecord(t *testing.T) {
	retriever, err := triage.NewEvidenceRetriever(triage.EvidenceOptions{})
	require.NoError(t, err)
	svc, err := NewLiteratureService(LiteratureServiceOptions{Retriever: retriever})
	require.NoError(t, err)

	for _, raw := range []string{`{`, `[]`, `{"risk_tier":"EXTREME"}`, `{"age":-1}`} {
		_, err := svc.SearchJSON(context.Background(), []byte(raw))
		assert.True(t, apperrors.IsValidation(err), raw)
	}

	_, err = svc.Search(context.Background(), model.Record{"risk_tier": "unknown"})
	assert.True(t, apperrors.IsValidation(err))

	_, err = NewLiteratureService(LiteratureServiceOptions{})
	assert.ErrorContains(t, err, "evidence retriever is required")
}
