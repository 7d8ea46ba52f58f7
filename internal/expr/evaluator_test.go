package expr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	dErrors "enroll/pkg/domain-errors"
)

// EvaluatorSuite tests the expression evaluator.
//
// Justification: conditions gate every translation rule; the fail-closed
// invariants (non-boolean result fails, undefined variable fails, deadline
// enforced) must hold or administrator typos silently change mappings.
type EvaluatorSuite struct {
	suite.Suite
	eval *Evaluator
	ctx  context.Context
}

func (s *EvaluatorSuite) SetupTest() {
	s.eval = New()
	s.ctx = context.Background()
}

func TestEvaluatorSuite(t *testing.T) {
	suite.Run(t, new(EvaluatorSuite))
}

func (s *EvaluatorSuite) TestEvalBool() {
	vars := Vars{
		"locale": "en",
		"attrs":  map[string][]string{"email": {"a@example.com"}},
		"groups": []string{"/staff", "/staff/dev"},
		"valid":  true,
	}

	s.Run("literal true", func() {
		ok, err := s.eval.EvalBool(s.ctx, "true", vars)
		s.Require().NoError(err)
		s.True(ok)
	})

	s.Run("string comparison", func() {
		ok, err := s.eval.EvalBool(s.ctx, `locale == "en"`, vars)
		s.Require().NoError(err)
		s.True(ok)
	})

	s.Run("table access", func() {
		ok, err := s.eval.EvalBool(s.ctx, `attrs.email[1] == "a@example.com"`, vars)
		s.Require().NoError(err)
		s.True(ok)
	})

	s.Run("boolean variable", func() {
		ok, err := s.eval.EvalBool(s.ctx, "valid and #groups == 2", vars)
		s.Require().NoError(err)
		s.True(ok)
	})

	s.Run("non-boolean result fails closed", func() {
		_, err := s.eval.EvalBool(s.ctx, `"yes"`, vars)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeEvaluation))
	})

	s.Run("undefined variable fails", func() {
		_, err := s.eval.EvalBool(s.ctx, "no_such_var == 1", vars)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeEvaluation))
		s.Contains(err.Error(), "failed to evaluate")
	})

	s.Run("malformed expression fails", func() {
		_, err := s.eval.EvalBool(s.ctx, "locale ==", vars)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeEvaluation))
	})

	s.Run("empty expression fails", func() {
		_, err := s.eval.EvalBool(s.ctx, "", vars)
		s.Require().Error(err)
	})
}

func (s *EvaluatorSuite) TestEvalValue() {
	s.Run("string concatenation", func() {
		v, err := s.eval.EvalValue(s.ctx, `name .. "@corp"`, Vars{"name": "jane"})
		s.Require().NoError(err)
		s.Equal("jane@corp", v)
	})

	s.Run("table of strings", func() {
		v, err := s.eval.EvalStrings(s.ctx, `{"a", "b"}`, Vars{})
		s.Require().NoError(err)
		s.Equal([]string{"a", "b"}, v)
	})

	s.Run("scalar promoted to slice", func() {
		v, err := s.eval.EvalStrings(s.ctx, `"only"`, Vars{})
		s.Require().NoError(err)
		s.Equal([]string{"only"}, v)
	})
}

func (s *EvaluatorSuite) TestDeadline() {
	eval := New(WithTimeout(50 * time.Millisecond))

	start := time.Now()
	_, err := eval.EvalBool(s.ctx, "(function() while true do end end)()", Vars{})
	elapsed := time.Since(start)

	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeEvaluation))
	s.Less(elapsed, 5*time.Second)
}

func (s *EvaluatorSuite) TestSandbox() {
	s.Run("os library is unavailable", func() {
		_, err := s.eval.EvalBool(s.ctx, `os.getenv("HOME") ~= nil`, Vars{})
		s.Require().Error(err)
	})

	s.Run("io library is unavailable", func() {
		_, err := s.eval.EvalBool(s.ctx, `io ~= nil`, Vars{})
		s.Require().Error(err)
	})
}

func (s *EvaluatorSuite) TestDeterminism() {
	vars := Vars{"attrs": map[string][]string{"role": {"admin", "dev"}}}
	first, err := s.eval.EvalStrings(s.ctx, `attrs.role`, vars)
	s.Require().NoError(err)
	second, err := s.eval.EvalStrings(s.ctx, `attrs.role`, vars)
	s.Require().NoError(err)
	s.Equal(first, second)
}
