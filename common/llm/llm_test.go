package llm_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/digest/common/llm"
)

type answer struct {
	Overview string   `json:"overview"`
	Keys     []string `json:"keys"`
}

var _ = Describe("DecodeJSON", func() {
	DescribeTable("extracts the object",
		func(content string) {
			var got answer
			Expect(llm.DecodeJSON(content, &got)).To(Succeed())
			Expect(got.Overview).To(Equal("ok"))
			Expect(got.Keys).To(Equal([]string{"1"}))
		},
		Entry("bare", `{"overview":"ok","keys":["1"]}`),
		Entry("code fence", "```json\n{\"overview\":\"ok\",\"keys\":[\"1\"]}\n```"),
		Entry("surrounding prose", `Here you go: {"overview":"ok","keys":["1"]} Hope that helps.`),
	)

	It("rejects content without an object", func() {
		var got answer
		Expect(llm.DecodeJSON("no json here", &got)).To(MatchError(llm.ErrEmptyResponse))
	})

	It("rejects malformed JSON", func() {
		var got answer
		Expect(llm.DecodeJSON(`{"overview":}`, &got)).ToNot(Succeed())
	})
})

var _ = Describe("GenerateSchema", func() {
	It("produces a closed object schema with the struct's fields", func() {
		raw, err := json.Marshal(llm.GenerateSchema[answer]())
		Expect(err).ToNot(HaveOccurred())

		var schema map[string]any
		Expect(json.Unmarshal(raw, &schema)).To(Succeed())
		Expect(schema["type"]).To(Equal("object"))
		Expect(schema["additionalProperties"]).To(Equal(false))
		Expect(schema["properties"]).To(HaveKey("overview"))
		Expect(schema["properties"]).To(HaveKey("keys"))
	})
})

var _ = Describe("New", func() {
	It("requires an API key", func() {
		_, err := llm.New(llm.Config{Provider: llm.ProviderOpenAI})
		Expect(err).To(MatchError(ContainSubstring("API key is required")))
	})

	It("rejects unknown providers", func() {
		_, err := llm.New(llm.Config{Provider: "mystery", APIKey: "k"})
		Expect(err).To(MatchError(ContainSubstring("unsupported LLM provider")))
	})

	It("defaults models per provider", func() {
		c, err := llm.New(llm.Config{APIKey: "k"})
		Expect(err).ToNot(HaveOccurred())
		Expect(c.Model()).To(Equal("gpt-4o-mini"))

		c, err = llm.New(llm.Config{Provider: llm.ProviderAnthropic, APIKey: "k"})
		Expect(err).ToNot(HaveOccurred())
		Expect(c.Model()).To(HavePrefix("claude-"))
	})
})
