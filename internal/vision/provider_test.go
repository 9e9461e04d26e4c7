package vision

import (
	"errors"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/snapwise/receiptpipe/internal/config"
)

var _ = Describe("NewProvider", func() {
	var cfg *config.Config

	BeforeEach(func() {
		cfg = config.Default()
	})

	It("should build the ollama provider", func() {
		cfg.Provider = "ollama"
		provider, err := NewProvider(cfg)
		Expect(err).NotTo(HaveOccurred())
		defer provider.Close()
		Expect(provider.Name()).To(Equal("ollama"))
	})

	It("should build the claude provider when a key is configured", func() {
		cfg.Provider = "claude"
		cfg.ClaudeAPIKey = "test-key"
		provider, err := NewProvider(cfg)
		Expect(err).NotTo(HaveOccurred())
		defer provider.Close()
		Expect(provider.Name()).To(Equal("claude"))
	})

	It("should reject claude without an api key", func() {
		cfg.Provider = "claude"
		cfg.ClaudeAPIKey = ""
		_, err := NewProvider(cfg)
		Expect(err).To(HaveOccurred())
	})

	It("should reject gemini without an api key", func() {
		cfg.Provider = "gemini"
		cfg.GeminiAPIKey = ""
		_, err := NewProvider(cfg)
		Expect(err).To(HaveOccurred())
	})

	It("should reject an unknown provider name", func() {
		cfg.Provider = "carrier-pigeon"
		_, err := NewProvider(cfg)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("classifyStatus", func() {
	cause := errors.New("api error")

	It("should mark authentication failures fatal", func() {
		Expect(IsFatal(classifyStatus(http.StatusUnauthorized, cause))).To(BeTrue())
		Expect(IsFatal(classifyStatus(http.StatusForbidden, cause))).To(BeTrue())
	})

	It("should mark a missing model or endpoint fatal", func() {
		Expect(IsFatal(classifyStatus(http.StatusNotFound, cause))).To(BeTrue())
	})

	It("should leave server errors retryable", func() {
		Expect(IsFatal(classifyStatus(http.StatusInternalServerError, cause))).To(BeFalse())
		Expect(IsFatal(classifyStatus(http.StatusTooManyRequests, cause))).To(BeFalse())
	})
})
