package vision

import (
	"context"
	"errors"
	"io"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// stubProvider replays canned responses, one per Generate call.
type stubProvider struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (s *stubProvider) Generate(ctx context.Context, png []byte, prompt string) (string, error) {
	idx := s.calls
	s.calls++
	s.prompts = append(s.prompts, prompt)
	if idx < len(s.errs) && s.errs[idx] != nil {
		return "", s.errs[idx]
	}
	if idx < len(s.responses) {
		return s.responses[idx], nil
	}
	return "", ErrEmptyResponse
}

func (s *stubProvider) Name() string { return "stub" }
func (s *stubProvider) Close() error { return nil }

const validResponse = `{"store_name": "Kroger", "date": "2024-01-15", "total": 12.50, "raw_text": "KROGER", "confidence": 0.9, "items": [{"name": "Milk", "price": 3.50}]}`

var _ = Describe("Parser", func() {
	var (
		provider *stubProvider
		parser   *Parser
		parsed   *ParsedReceipt
		err      error
	)

	BeforeEach(func() {
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		provider = &stubProvider{}
	})

	JustBeforeEach(func() {
		parser = NewParser(provider)
		parsed, err = parser.Parse(context.Background(), []byte("png-bytes"))
	})

	When("the first response is valid", func() {
		BeforeEach(func() {
			provider.responses = []string{validResponse}
		})

		It("should return the parsed receipt", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed.StoreName).To(Equal("Kroger"))
		})

		It("should call the model once", func() {
			Expect(provider.calls).To(Equal(1))
		})
	})

	When("the first response is malformed and the second is valid", func() {
		BeforeEach(func() {
			provider.responses = []string{"not json at all", validResponse}
		})

		It("should recover via the corrective prompt", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed.StoreName).To(Equal("Kroger"))
			Expect(provider.calls).To(Equal(2))
		})

		It("should include the problem in the second prompt", func() {
			Expect(provider.prompts[1]).To(ContainSubstring("not valid"))
		})
	})

	When("every response is malformed", func() {
		BeforeEach(func() {
			provider.responses = []string{"garbage", "more garbage"}
		})

		It("should surface ErrMalformedOutput", func() {
			Expect(err).To(MatchError(ErrMalformedOutput))
		})

		It("should stop after the corrective retry", func() {
			Expect(provider.calls).To(Equal(2))
		})
	})

	When("a response fails schema validation", func() {
		BeforeEach(func() {
			// Confidence outside [0,1] twice.
			bad := `{"raw_text": "x", "confidence": 3.5, "items": []}`
			provider.responses = []string{bad, bad}
		})

		It("should surface ErrMalformedOutput", func() {
			Expect(err).To(MatchError(ErrMalformedOutput))
			Expect(provider.calls).To(Equal(2))
		})
	})

	When("the provider fails with an auth error", func() {
		BeforeEach(func() {
			provider.errs = []error{NewFatalError(errors.New("401 unauthorized"))}
		})

		It("should surface the error without a corrective retry", func() {
			Expect(err).To(HaveOccurred())
			Expect(IsFatal(err)).To(BeTrue())
			Expect(provider.calls).To(Equal(1))
		})
	})

	When("the provider fails with a transient error", func() {
		BeforeEach(func() {
			provider.errs = []error{errors.New("connection reset")}
		})

		It("should surface a non-fatal error immediately", func() {
			Expect(err).To(HaveOccurred())
			Expect(IsFatal(err)).To(BeFalse())
			Expect(provider.calls).To(Equal(1))
		})
	})
})
