package selectors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePage struct {
	results map[string][]Element
	texts   map[Element]string
}

func (p *fakePage) Query(expr string, kind Kind) ([]Element, error) {
	if els, ok := p.results[expr]; ok {
		return els, nil
	}
	return nil, errors.New("no match")
}

func (p *fakePage) Text(el Element) string { return p.texts[el] }

func (p *fakePage) Attribute(el Element, name string) (string, bool) { return "", false }

func TestExtractFallsBackToSecondStrategy(t *testing.T) {
	bad := &Strategy{Expression: ".bad", Kind: KindCSS, BaseConfidence: 0.9}
	good := &Strategy{Expression: ".good", Kind: KindCSS, BaseConfidence: 0.5}

	page := &fakePage{
		results: map[string][]Element{".good": {"el1"}},
		texts:   map[Element]string{"el1": "Engenheiro de Dados"},
	}

	fs := NewField(ValidateNonEmpty, bad, good)
	value, level, ok := fs.Extract(page)
	require.True(t, ok)
	assert.Equal(t, "Engenheiro de Dados", value)
	assert.Equal(t, 1, level)
}

func TestExtractReturnsFalseWhenAllFail(t *testing.T) {
	s := &Strategy{Expression: ".missing", Kind: KindCSS, BaseConfidence: 0.8}
	page := &fakePage{results: map[string][]Element{}}
	fs := NewField(ValidateNonEmpty, s)
	_, _, ok := fs.Extract(page)
	assert.False(t, ok)
}

func TestReliabilityScorePrefersHigherSuccessRate(t *testing.T) {
	s := &Strategy{BaseConfidence: 1.0}
	s.recordSuccess()
	s.recordSuccess()
	scoreAfterSuccesses := s.ReliabilityScore()

	s.recordFail()
	s.recordFail()
	s.recordFail()
	scoreAfterFailures := s.ReliabilityScore()

	assert.Greater(t, scoreAfterSuccesses, scoreAfterFailures)
}

func TestValidateSalaryAcceptsPlaceholder(t *testing.T) {
	assert.True(t, ValidateSalary("A combinar"))
	assert.True(t, ValidateSalary("R$ 5.000,00"))
	assert.False(t, ValidateSalary("banana"))
}

func TestValidateJobLink(t *testing.T) {
	assert.True(t, ValidateJobLink("/vagas/123"))
	assert.True(t, ValidateJobLink("https://example.com/vagas/123"))
	assert.False(t, ValidateJobLink("javascript:void(0)"))
}

func TestExtractMultipleRespectsTopK(t *testing.T) {
	s1 := &Strategy{Expression: "a", Kind: KindCSS, BaseConfidence: 1}
	s2 := &Strategy{Expression: "b", Kind: KindCSS, BaseConfidence: 0.9}
	s3 := &Strategy{Expression: "c", Kind: KindCSS, BaseConfidence: 0.8}
	page := &fakePage{
		results: map[string][]Element{"a": {"1"}, "b": {"2"}, "c": {"3"}},
		texts:   map[Element]string{"1": "x", "2": "y", "3": "z"},
	}
	fs := NewField(ValidateNonEmpty, s1, s2, s3)
	values := fs.ExtractMultiple(page, 2)
	assert.Len(t, values, 2)
}
