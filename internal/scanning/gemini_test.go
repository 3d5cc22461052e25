package scanning

import (
	"errors"
	"net/http"

	"github.com/google/generative-ai-go/genai"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/api/googleapi"
)

var _ = Describe("classifyGeminiError", func() {
	DescribeTable("API errors become endpoint errors",
		func(code int, temporary bool) {
			err := classifyGeminiError(&googleapi.Error{Code: code, Message: "from gemini"})

			var endpointErr *EndpointError
			Expect(errors.As(err, &endpointErr)).To(BeTrue())
			Expect(endpointErr.StatusCode).To(Equal(code))
			Expect(endpointErr.Body).To(Equal("from gemini"))
			Expect(endpointErr.Temporary()).To(Equal(temporary))
			Expect(retryable(err)).To(Equal(temporary))
		},
		Entry("rate limited", http.StatusTooManyRequests, true),
		Entry("server error", http.StatusInternalServerError, true),
		Entry("bad request", http.StatusBadRequest, false),
	)

	It("treats a blocked response as a permanent endpoint error", func() {
		err := classifyGeminiError(&genai.BlockedError{})

		var endpointErr *EndpointError
		Expect(errors.As(err, &endpointErr)).To(BeTrue())
		Expect(endpointErr.StatusCode).To(Equal(http.StatusUnprocessableEntity))
		Expect(retryable(err)).To(BeFalse())
	})

	It("treats anything else as unreachable", func() {
		err := classifyGeminiError(errors.New("dial tcp: connection refused"))

		Expect(errors.Is(err, ErrEndpointUnreachable)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("connection refused"))
		Expect(retryable(err)).To(BeTrue())
	})
})
