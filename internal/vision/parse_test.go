package vision

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("decodeModelOutput", func() {
	var (
		text   string
		parsed *ParsedReceipt
		err    error
	)

	JustBeforeEach(func() {
		parsed, err = decodeModelOutput(text)
	})

	When("decoding valid JSON", func() {
		BeforeEach(func() {
			text = `{"store_name": "Kroger", "date": "2024-01-15", "total": 12.50, "raw_text": "KROGER\nMILK 3.50", "confidence": 0.92, "items": [{"name": "Milk", "price": 3.50, "quantity": 1, "confidence": 0.95}]}`
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should extract the fields", func() {
			Expect(parsed.StoreName).To(Equal("Kroger"))
			Expect(parsed.Date).To(Equal("2024-01-15"))
			Expect(parsed.Total).To(Equal(12.50))
			Expect(parsed.Confidence).To(Equal(0.92))
		})

		It("should extract the items with 1-based line numbers", func() {
			Expect(parsed.Items).To(HaveLen(1))
			Expect(parsed.Items[0].Name).To(Equal("Milk"))
			Expect(parsed.Items[0].Price).To(Equal(3.50))
			Expect(parsed.Items[0].LineNumber).To(Equal(1))
		})
	})

	When("the response wraps the JSON in markdown fences", func() {
		BeforeEach(func() {
			text = "```json\n{\"store_name\": \"Target\", \"raw_text\": \"x\", \"confidence\": 0.8, \"items\": []}\n```"
		})

		It("should still decode", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed.StoreName).To(Equal("Target"))
		})
	})

	When("prices are quoted strings in mixed formats", func() {
		BeforeEach(func() {
			text = `{"raw_text": "x", "confidence": 0.5, "total": "$7.48", "items": [{"name": "Brot", "price": "1,99€"}, {"name": "Butter", "price": "5.49"}]}`
		})

		It("should normalize every price", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed.Total).To(Equal(7.48))
			Expect(parsed.Items[0].Price).To(Equal(1.99))
			Expect(parsed.Items[1].Price).To(Equal(5.49))
		})
	})

	When("items omit quantity and line number", func() {
		BeforeEach(func() {
			text = `{"raw_text": "x", "confidence": 0.5, "items": [{"name": "A", "price": 1.00}, {"name": "B", "price": 2.00}, {"name": "C", "price": 3.00}]}`
		})

		It("should default quantity to 1", func() {
			Expect(err).NotTo(HaveOccurred())
			for _, item := range parsed.Items {
				Expect(item.Quantity).To(Equal(1))
			}
		})

		It("should number lines by position, preserving order", func() {
			Expect(parsed.Items[0].Name).To(Equal("A"))
			Expect(parsed.Items[0].LineNumber).To(Equal(1))
			Expect(parsed.Items[1].Name).To(Equal("B"))
			Expect(parsed.Items[1].LineNumber).To(Equal(2))
			Expect(parsed.Items[2].Name).To(Equal("C"))
			Expect(parsed.Items[2].LineNumber).To(Equal(3))
		})
	})

	When("an item price is unparseable", func() {
		BeforeEach(func() {
			text = `{"raw_text": "x", "confidence": 0.5, "items": [{"name": "A", "price": "??"}]}`
		})

		It("should fail with ErrMalformedOutput", func() {
			Expect(err).To(MatchError(ErrMalformedOutput))
		})
	})

	When("the response contains no JSON at all", func() {
		BeforeEach(func() {
			text = "I could not read the receipt, sorry."
		})

		It("should fail with ErrMalformedOutput", func() {
			Expect(err).To(MatchError(ErrMalformedOutput))
		})
	})

	When("the date uses a slash format", func() {
		BeforeEach(func() {
			text = `{"raw_text": "x", "confidence": 0.5, "date": "01/15/2024", "items": []}`
		})

		It("should normalize it to ISO 8601", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed.Date).To(Equal("2024-01-15"))
		})
	})

	When("the date is unparseable", func() {
		BeforeEach(func() {
			text = `{"raw_text": "x", "confidence": 0.5, "date": "sometime last week", "items": []}`
		})

		It("should leave the date empty rather than guess", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed.Date).To(BeEmpty())
		})
	})
})
